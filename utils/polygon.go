package utils

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ctessum/geom"
	geo "github.com/nci/geometry"
)

// Polygon is an analysis boundary: the AOI or an administrative
// sub-region. Vertices are (lon, lat) or (easting, northing) depending
// on CRS. Every ring is closed: first and last vertex coincide.
type Polygon struct {
	Name string
	CRS  string
	Geom geom.MultiPolygon
}

// NewPolygon builds a single-part polygon from its rings. The first ring
// is the exterior, any following rings are holes.
func NewPolygon(name, crs string, rings ...[][2]float64) (*Polygon, error) {
	if len(rings) == 0 {
		return nil, fmt.Errorf("polygon %q: no rings", name)
	}
	part := make(geom.Polygon, 0, len(rings))
	for ir, ring := range rings {
		path, err := closedPath(ring)
		if err != nil {
			return nil, fmt.Errorf("polygon %q ring %d: %w", name, ir, err)
		}
		part = append(part, path)
	}
	return &Polygon{Name: name, CRS: crs, Geom: geom.MultiPolygon{part}}, nil
}

// PolygonFromGeom wraps a ctessum geometry, as produced by the shapefile
// decoder or a reprojection, after checking that it is polygonal and that
// every ring is closed.
func PolygonFromGeom(name, crs string, g geom.Geom) (*Polygon, error) {
	var mp geom.MultiPolygon
	switch t := g.(type) {
	case geom.Polygon:
		mp = geom.MultiPolygon{t}
	case geom.MultiPolygon:
		mp = t
	case *geom.Bounds:
		ring := t.Polygons()[0][0]
		mp = geom.MultiPolygon{{append(ring, ring[0])}}
	default:
		return nil, fmt.Errorf("polygon %q: geometry %T is not polygonal", name, g)
	}
	for ip, part := range mp {
		for ir, path := range part {
			if len(path) < 4 {
				return nil, fmt.Errorf("polygon %q part %d ring %d: %w: need at least 4 vertices, got %d", name, ip, ir, ErrOpenRing, len(path))
			}
			if path[0] != path[len(path)-1] {
				return nil, fmt.Errorf("polygon %q part %d ring %d: %w: first vertex %v, last vertex %v", name, ip, ir, ErrOpenRing, path[0], path[len(path)-1])
			}
		}
	}
	return &Polygon{Name: name, CRS: crs, Geom: mp}, nil
}

func closedPath(ring [][2]float64) (geom.Path, error) {
	if len(ring) < 4 {
		return nil, fmt.Errorf("%w: need at least 4 vertices, got %d", ErrOpenRing, len(ring))
	}
	first, last := ring[0], ring[len(ring)-1]
	if first != last {
		return nil, fmt.Errorf("%w: first vertex %v, last vertex %v", ErrOpenRing, first, last)
	}
	path := make(geom.Path, len(ring))
	for i, v := range ring {
		if math.IsNaN(v[0]) || math.IsNaN(v[1]) || math.IsInf(v[0], 0) || math.IsInf(v[1], 0) {
			return nil, fmt.Errorf("vertex %d is not finite: %v", i, v)
		}
		path[i] = geom.Point{X: v[0], Y: v[1]}
	}
	return path, nil
}

// Contains reports whether (x, y) lies inside the polygon or on its edge.
func (p *Polygon) Contains(x, y float64) bool {
	return geom.Point{X: x, Y: y}.Within(p.Geom) != geom.Outside
}

func (p *Polygon) Bounds() *geom.Bounds {
	return p.Geom.Bounds()
}

// GeodesicArea returns the area of a geographic polygon in square metres
// on the authalic sphere. Holes are subtracted.
func (p *Polygon) GeodesicArea() float64 {
	total := 0.0
	for _, part := range p.Geom {
		for ir, path := range part {
			a := math.Abs(ringArea(path))
			if ir == 0 {
				total += a
			} else {
				total -= a
			}
		}
	}
	return total
}

// AuthalicRadius is the radius of the sphere with the same surface area
// as the WGS84 ellipsoid.
const AuthalicRadius = 6371007.181

func ringArea(path geom.Path) float64 {
	n := len(path)
	if n < 3 {
		return 0
	}
	area := 0.0
	for i := 0; i < n-1; i++ {
		p1, p2 := path[i], path[i+1]
		area += toRad(p2.X-p1.X) * (2 + math.Sin(toRad(p1.Y)) + math.Sin(toRad(p2.Y)))
	}
	return area * AuthalicRadius * AuthalicRadius / 2
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

type geoJSONGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ParseGeoJSONPolygon accepts a Feature, a FeatureCollection (first
// feature wins) or a bare Polygon/MultiPolygon geometry.
func ParseGeoJSONPolygon(name, crs string, data []byte) (*Polygon, error) {
	var head struct {
		Type     string            `json:"type"`
		Geometry json.RawMessage   `json:"geometry"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("polygon %q: problem unmarshalling GeoJSON: %v", name, err)
	}

	switch head.Type {
	case "Feature":
		// geo.Feature dereferences the geometry unchecked.
		if len(head.Geometry) == 0 || string(head.Geometry) == "null" {
			return nil, fmt.Errorf("polygon %q: feature has no geometry", name)
		}
		var feat geo.Feature
		if err := json.Unmarshal(data, &feat); err != nil {
			return nil, fmt.Errorf("polygon %q: %v", name, err)
		}
		return polygonFromGeoJSON(name, crs, feat.Geometry)
	case "FeatureCollection":
		if len(head.Features) == 0 {
			return nil, fmt.Errorf("polygon %q: empty feature collection", name)
		}
		return ParseGeoJSONPolygon(name, crs, head.Features[0])
	}
	return decodeGeoJSONGeometry(name, crs, data)
}

func polygonFromGeoJSON(name, crs string, g geo.Geometry) (*Polygon, error) {
	switch g.(type) {
	case *geo.Polygon, *geo.MultiPolygon:
	default:
		return nil, fmt.Errorf("polygon %q: only Polygon or MultiPolygon geometries are supported, got %T", name, g)
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("polygon %q: marshaling GeoJSON geometry: %v", name, err)
	}
	return decodeGeoJSONGeometry(name, crs, raw)
}

func decodeGeoJSONGeometry(name, crs string, raw []byte) (*Polygon, error) {
	var g geoJSONGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("polygon %q: problem unmarshalling GeoJSON: %v", name, err)
	}

	var parts [][][][2]float64
	switch g.Type {
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("polygon %q: %v", name, err)
		}
		parts = append(parts, rings)
	case "MultiPolygon":
		if err := json.Unmarshal(g.Coordinates, &parts); err != nil {
			return nil, fmt.Errorf("polygon %q: %v", name, err)
		}
	default:
		return nil, fmt.Errorf("polygon %q: geometry type %q not supported", name, g.Type)
	}

	out := &Polygon{Name: name, CRS: crs}
	for _, rings := range parts {
		p, err := NewPolygon(name, crs, rings...)
		if err != nil {
			return nil, err
		}
		out.Geom = append(out.Geom, p.Geom...)
	}
	if len(out.Geom) == 0 {
		return nil, fmt.Errorf("polygon %q: empty geometry", name)
	}
	return out, nil
}

// GeoJSON renders the polygon as a bare MultiPolygon geometry.
func (p *Polygon) GeoJSON() ([]byte, error) {
	coords := make([][][][2]float64, len(p.Geom))
	for ip, part := range p.Geom {
		coords[ip] = make([][][2]float64, len(part))
		for ir, path := range part {
			ring := make([][2]float64, len(path))
			for iv, pt := range path {
				ring[iv] = [2]float64{pt.X, pt.Y}
			}
			coords[ip][ir] = ring
		}
	}
	return json.Marshal(struct {
		Type        string           `json:"type"`
		Coordinates [][][][2]float64 `json:"coordinates"`
	}{"MultiPolygon", coords})
}
