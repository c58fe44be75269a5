package processor

import (
	"math"
	"testing"

	"github.com/nci/sarflood/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats/scalar"
)

func TestAggregateAreaAllSet(t *testing.T) {
	m := newGrid(t, "flood", 10, 10, utmFrame, utm33N, 1)
	aoi := rect(t, "aoi", utm33N, 500000, 999000, 501000, 1000000)

	for _, scale := range []float64{50, 100} {
		a, err := AggregateArea(m, aoi, scale)
		require.NoError(t, err)
		assert.Equal(t, int64(100), a.Hectares, "scale %v", scale)
		assert.False(t, a.Empty())
	}
}

func TestAggregateAreaZeroMask(t *testing.T) {
	zeros := newGrid(t, "flood", 10, 10, utmFrame, utm33N, 0)
	aoi := rect(t, "aoi", utm33N, 500000, 999000, 501000, 1000000)

	a, err := AggregateArea(zeros, aoi, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.Hectares)
	assert.True(t, a.Empty())

	invalid := SelfMask("flood", zeros)
	a, err = AggregateArea(invalid, aoi, 30)
	require.NoError(t, err)
	assert.Equal(t, AreaStatistic{}, a)

	// Polygon far away from the grid.
	far := rect(t, "far", utm33N, 600000, 900000, 601000, 901000)
	a, err = AggregateArea(newGrid(t, "flood", 10, 10, utmFrame, utm33N, 1), far, 100)
	require.NoError(t, err)
	assert.True(t, a.Empty())
}

func TestAggregateAreaMonotonic(t *testing.T) {
	small := maskFromRows(t, "a", utmFrame, utm33N,
		"1100",
		"0000",
		"0.00",
		"0001",
	)
	large := maskFromRows(t, "b", utmFrame, utm33N,
		"1110",
		"0100",
		"01.0",
		"0011",
	)
	aoi := rect(t, "aoi", utm33N, 500000, 999600, 500400, 1000000)

	for _, scale := range []float64{30, 50, 100} {
		a, err := AggregateArea(small, aoi, scale)
		require.NoError(t, err)
		b, err := AggregateArea(large, aoi, scale)
		require.NoError(t, err)
		assert.LessOrEqual(t, a.Hectares, b.Hectares, "scale %v", scale)
		assert.LessOrEqual(t, a.Samples, b.Samples, "scale %v", scale)
	}
}

func TestAggregateAreaSubRegion(t *testing.T) {
	m := newGrid(t, "flood", 10, 10, utmFrame, utm33N, 1)
	aoi := rect(t, "aoi", utm33N, 500000, 999000, 501000, 1000000)
	sub := rect(t, "sub", utm33N, 500200, 999300, 500700, 999800)

	clipped, err := ClipToPolygon("clipped", m, sub)
	require.NoError(t, err)

	whole, err := AggregateArea(m, aoi, 100)
	require.NoError(t, err)
	part, err := AggregateArea(clipped, sub, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(25), part.Hectares)
	assert.LessOrEqual(t, part.Hectares, whole.Hectares)
}

func TestAggregateAreaRounding(t *testing.T) {
	// One 100 m pixel sampled at 30 m still rounds to 1 ha.
	m := maskFromRows(t, "b", utmFrame, utm33N,
		"000",
		"010",
		"000",
	)
	aoi := rect(t, "aoi", utm33N, 500000, 999700, 500300, 1000000)
	a, err := AggregateArea(m, aoi, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Hectares)
	assert.Equal(t, 9, a.Samples)
}

func TestAggregateAreaErrors(t *testing.T) {
	m := newGrid(t, "flood", 4, 4, utmFrame, utm33N, 1)
	geo := rect(t, "aoi", utils.WGS84, 0, 0, 1, 1)

	_, err := AggregateArea(m, geo, 100)
	assert.ErrorIs(t, err, utils.ErrGeometryMismatch)

	aoi := rect(t, "aoi", utm33N, 500000, 999600, 500400, 1000000)
	for _, scale := range []float64{0, -30, math.NaN(), math.Inf(1)} {
		_, err = AggregateArea(m, aoi, scale)
		assert.ErrorIs(t, err, utils.ErrInvalidScale)
	}
}

func TestAggregateAreaGeographic(t *testing.T) {
	geot := [6]float64{0, 0.01, 0, 1, 0, -0.01}
	m := newGrid(t, "flood", 100, 100, geot, utils.WGS84, 1)
	aoi := rect(t, "aoi", utils.WGS84, 0, 0, 1, 1)

	a, err := AggregateArea(m, aoi, 1000)
	require.NoError(t, err)

	want := aoi.GeodesicArea() / 10000
	assert.True(t, scalar.EqualWithinRel(float64(a.Hectares), want, 0.01), "got %d ha, want about %.0f", a.Hectares, want)
	assert.True(t, scalar.EqualWithinRel(want, float64(PolygonHectares(aoi)), 1e-6))
}

func TestPolygonHectares(t *testing.T) {
	sq := rect(t, "sq", utm33N, 500000, 999000, 501000, 1000000)
	assert.Equal(t, int64(100), PolygonHectares(sq))

	// One degree square at the equator is about 1.236 million hectares.
	geo := rect(t, "geo", utils.WGS84, 0, 0, 1, 1)
	assert.InDelta(t, 1236000, PolygonHectares(geo), 2000)
}
