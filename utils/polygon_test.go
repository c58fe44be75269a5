package utils

import (
	"errors"
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, x1, y1 float64) [][2]float64 {
	return [][2]float64{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}
}

func TestNewPolygon(t *testing.T) {
	p, err := NewPolygon("aoi", WGS84, square(0, 0, 10, 10), square(4, 4, 6, 6))
	require.NoError(t, err)
	assert.True(t, p.Contains(1, 1))
	assert.True(t, p.Contains(0, 5))
	assert.False(t, p.Contains(5, 5))
	assert.False(t, p.Contains(11, 5))

	b := p.Bounds()
	assert.Equal(t, 0.0, b.Min.X)
	assert.Equal(t, 10.0, b.Max.Y)

	_, err = NewPolygon("open", WGS84, [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}})
	assert.True(t, errors.Is(err, ErrOpenRing))
	_, err = NewPolygon("short", WGS84, [][2]float64{{0, 0}, {1, 0}, {0, 0}})
	assert.True(t, errors.Is(err, ErrOpenRing))
	_, err = NewPolygon("nan", WGS84, [][2]float64{{0, 0}, {math.NaN(), 0}, {1, 1}, {0, 0}})
	assert.Error(t, err)
	_, err = NewPolygon("none", WGS84)
	assert.Error(t, err)
}

func TestPolygonFromGeom(t *testing.T) {
	closed := geom.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}}}
	p, err := PolygonFromGeom("closed", WGS84, closed)
	require.NoError(t, err)
	assert.Len(t, p.Geom, 1)

	open := geom.MultiPolygon{{{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}}}
	_, err = PolygonFromGeom("open", WGS84, open)
	assert.True(t, errors.Is(err, ErrOpenRing))
	assert.Len(t, open[0][0], 4, "input left untouched")

	_, err = PolygonFromGeom("short", WGS84, geom.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}}})
	assert.True(t, errors.Is(err, ErrOpenRing))

	p, err = PolygonFromGeom("box", WGS84, &geom.Bounds{Min: geom.Point{X: 0, Y: 0}, Max: geom.Point{X: 2, Y: 2}})
	require.NoError(t, err)
	ring := p.Geom[0][0]
	assert.Equal(t, ring[0], ring[len(ring)-1])
	assert.True(t, p.Contains(1, 1))

	_, err = PolygonFromGeom("point", WGS84, geom.Point{X: 1, Y: 1})
	assert.Error(t, err)
}

func TestGeodesicArea(t *testing.T) {
	p, err := NewPolygon("cell", WGS84, square(0, 0, 1, 1))
	require.NoError(t, err)
	want := AuthalicRadius * AuthalicRadius * (math.Pi / 180) * math.Sin(math.Pi/180)
	assert.InEpsilon(t, want, p.GeodesicArea(), 1e-9)

	// Clockwise rings measure the same.
	cw, err := NewPolygon("cw", WGS84, [][2]float64{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}})
	require.NoError(t, err)
	assert.InEpsilon(t, want, cw.GeodesicArea(), 1e-9)

	holed, err := NewPolygon("holed", WGS84, square(0, 0, 1, 1), square(0, 0, 1, 0.5))
	require.NoError(t, err)
	assert.Less(t, holed.GeodesicArea(), want/2+1)
}

func TestParseGeoJSONPolygon(t *testing.T) {
	bare := `{"type": "Polygon", "coordinates": [[[0, 0], [2, 0], [2, 2], [0, 2], [0, 0]]]}`
	p, err := ParseGeoJSONPolygon("bare", WGS84, []byte(bare))
	require.NoError(t, err)
	require.Len(t, p.Geom, 1)
	assert.True(t, p.Contains(1, 1))

	multi := `{"type": "MultiPolygon", "coordinates": [
		[[[0, 0], [1, 0], [1, 1], [0, 1], [0, 0]]],
		[[[5, 5], [6, 5], [6, 6], [5, 6], [5, 5]]]]}`
	p, err = ParseGeoJSONPolygon("multi", WGS84, []byte(multi))
	require.NoError(t, err)
	require.Len(t, p.Geom, 2)
	assert.True(t, p.Contains(5.5, 5.5))
	assert.False(t, p.Contains(3, 3))

	_, err = ParseGeoJSONPolygon("point", WGS84, []byte(`{"type": "Point", "coordinates": [1, 1]}`))
	assert.Error(t, err)
	_, err = ParseGeoJSONPolygon("open", WGS84, []byte(`{"type": "Polygon", "coordinates": [[[0, 0], [2, 0], [2, 2], [0, 2]]]}`))
	assert.True(t, errors.Is(err, ErrOpenRing))

	feature := `{"type": "Feature", "properties": {"name": "a"}, "geometry": ` + bare + `}`
	p, err = ParseGeoJSONPolygon("feature", WGS84, []byte(feature))
	require.NoError(t, err)
	assert.True(t, p.Contains(1, 1))

	p, err = ParseGeoJSONPolygon("collection", WGS84, []byte(`{"type": "FeatureCollection", "features": [`+feature+`]}`))
	require.NoError(t, err)
	assert.True(t, p.Contains(1, 1))

	// Malformed features are errors, not panics.
	for _, doc := range []string{
		`{"type": "Feature", "properties": {}}`,
		`{"type": "Feature", "geometry": null}`,
		`{"type": "FeatureCollection", "features": []}`,
		`{"type": "FeatureCollection", "features": [{"type": "Feature"}]}`,
		`{"type": "GeometryCollection", "geometries": []}`,
		`[1, 2]`,
	} {
		assert.NotPanics(t, func() {
			_, err = ParseGeoJSONPolygon("bad", WGS84, []byte(doc))
		}, doc)
		assert.Error(t, err, doc)
	}

	p, err = ParseGeoJSONPolygon("multi", WGS84, []byte(multi))
	require.NoError(t, err)
	out, err := p.GeoJSON()
	require.NoError(t, err)
	again, err := ParseGeoJSONPolygon("again", WGS84, out)
	require.NoError(t, err)
	assert.Equal(t, p.Geom, again.Geom)
}

func TestReproject(t *testing.T) {
	assert.Equal(t, WGS84, NormaliseCRS(" wgs84 "))
	assert.Equal(t, "EPSG:32633", NormaliseCRS("epsg:32633"))
	assert.True(t, IsGeographic("CRS:84"))
	assert.False(t, IsGeographic("EPSG:32633"))
	assert.True(t, SameCRS("EPSG:4326", "OGC:CRS84"))

	def, err := Proj4Definition("EPSG:32733")
	require.NoError(t, err)
	assert.Contains(t, def, "+south")
	_, err = Proj4Definition("EPSG:2193")
	assert.Error(t, err)

	p, err := NewPolygon("strip", WGS84, square(14.9, 0, 15.1, 0.1))
	require.NoError(t, err)
	same, err := p.Reproject("epsg:4326")
	require.NoError(t, err)
	assert.Same(t, p, same)

	utm, err := p.Reproject("EPSG:32633")
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32633", utm.CRS)
	b := utm.Bounds()
	// Zone 33 is centred on 15E.
	assert.InDelta(t, 500000, (b.Min.X+b.Max.X)/2, 1)
	assert.InDelta(t, 0, b.Min.Y, 0.01)
	assert.InDelta(t, 11060, b.Max.Y, 50)

	_, err = p.Reproject("EPSG:2193")
	assert.True(t, errors.Is(err, ErrGeometryMismatch))
}
