package processor

import (
	"testing"

	"github.com/nci/sarflood/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntersect(t *testing.T) {
	primary := maskFromRows(t, "p", utmFrame, utm33N, "110.", "1.01")
	aux := maskFromRows(t, "a", utmFrame, utm33N, "1011", "..11")

	out, err := Intersect("x", primary, aux)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false, false, false, false, true}, out.Valid)
	assert.Equal(t, 2, out.SetCount())

	other := maskFromRows(t, "a", utmFrame, utm33N, "101", "011")
	_, err = Intersect("x", primary, other)
	assert.ErrorIs(t, err, utils.ErrShapeMismatch)
}

func TestClassMask(t *testing.T) {
	lc, err := NewRasterGrid("lc", 4, 1, utmFrame, utm33N, []float32{40, 10, 40, 50}, []bool{true, true, false, true})
	require.NoError(t, err)

	crops := ClassMask("crops", lc, 40)
	assert.Equal(t, []bool{true, false, false, false}, crops.Valid)
	assert.Equal(t, float32(1), crops.Data[0])
	assert.Equal(t, float32(40), lc.Data[0])
}

func TestClipToPolygon(t *testing.T) {
	g := newGrid(t, "g", 4, 4, utmFrame, utm33N, 1)
	poly := rect(t, "sub", utm33N, 500000, 999800, 500200, 1000000)

	out, err := ClipToPolygon("clipped", g, poly)
	require.NoError(t, err)
	assert.Equal(t, 4, out.SetCount())
	for _, c := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		assert.True(t, out.IsSet(out.Index(c[0], c[1])))
	}
	assert.Equal(t, 16, g.SetCount())

	geo := rect(t, "sub", utils.WGS84, 0, 0, 1, 1)
	_, err = ClipToPolygon("clipped", g, geo)
	assert.ErrorIs(t, err, utils.ErrGeometryMismatch)
}

func TestRasterizeFootprints(t *testing.T) {
	within := newGrid(t, "flood", 10, 10, utmFrame, utm33N, 1)
	footprints := []*utils.Polygon{
		// Covers the centres of cols 2-3, rows 1-2.
		rect(t, "b1", utm33N, 500210, 999710, 500390, 999890),
		// Smaller than a pixel, in cell (7, 7).
		rect(t, "b2", utm33N, 500701, 999201, 500709, 999209),
	}
	idx, err := NewFootprintIndex(utm33N, footprints)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Count)

	presence, err := RasterizeFootprints("footprints", idx, within)
	require.NoError(t, err)
	assert.Equal(t, 100, presence.ValidCount())
	assert.Equal(t, 5, presence.SetCount())
	for _, c := range [][2]int{{2, 1}, {3, 1}, {2, 2}, {3, 2}, {7, 7}} {
		assert.True(t, presence.IsSet(presence.Index(c[0], c[1])), "cell %v", c)
	}
}

func TestRasterizeFootprintsOutsideMask(t *testing.T) {
	within := maskFromRows(t, "flood", utmFrame, utm33N,
		"1100000000",
		"1100000000",
		"0000000000",
	)
	footprints := []*utils.Polygon{
		rect(t, "inside", utm33N, 500010, 999810, 500090, 999990),
		rect(t, "outside", utm33N, 500710, 999710, 500790, 999790),
	}
	idx, err := NewFootprintIndex(utm33N, footprints)
	require.NoError(t, err)

	presence, err := RasterizeFootprints("footprints", idx, within)
	require.NoError(t, err)
	assert.Equal(t, 2, presence.SetCount())
	assert.True(t, presence.IsSet(presence.Index(0, 0)))
	assert.True(t, presence.IsSet(presence.Index(0, 1)))

	empty := maskFromRows(t, "flood", utmFrame, utm33N, "000", "000")
	presence, err = RasterizeFootprints("footprints", idx, empty)
	require.NoError(t, err)
	assert.Equal(t, 0, presence.SetCount())
	assert.Equal(t, 6, presence.ValidCount())
}

func TestFootprintIndexCRS(t *testing.T) {
	_, err := NewFootprintIndex(utm33N, []*utils.Polygon{rect(t, "b", utils.WGS84, 0, 0, 0.001, 0.001)})
	assert.ErrorIs(t, err, utils.ErrGeometryMismatch)

	idx, err := NewFootprintIndex(utils.WGS84, nil)
	require.NoError(t, err)
	_, err = RasterizeFootprints("footprints", idx, newGrid(t, "g", 2, 2, utmFrame, utm33N, 1))
	assert.ErrorIs(t, err, utils.ErrGeometryMismatch)
}

func TestResampleNearest(t *testing.T) {
	coarseFrame := [6]float64{500000, 200, 0, 1000000, 0, -200}
	src, err := NewRasterGrid("lc", 2, 2, coarseFrame, utm33N, []float32{10, 20, 30, 40}, []bool{true, true, true, false})
	require.NoError(t, err)
	dst := newGrid(t, "flood", 4, 4, utmFrame, utm33N, 0)

	out, err := Resample("lc", src, dst)
	require.NoError(t, err)
	assert.True(t, out.SameFrame(dst))
	want := []float32{
		10, 10, 20, 20,
		10, 10, 20, 20,
		30, 30, 0, 0,
		30, 30, 0, 0,
	}
	assert.Equal(t, want, out.Data)
	assert.Equal(t, 12, out.ValidCount())

	same, err := Resample("lc", dst, dst)
	require.NoError(t, err)
	assert.Same(t, dst, same)

	_, err = Resample("lc", newGrid(t, "g", 2, 2, coarseFrame, "EPSG:32634", 0), dst)
	assert.ErrorIs(t, err, utils.ErrGeometryMismatch)
}
