package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/nci/sarflood/processor"
	"github.com/nci/sarflood/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var utmFrame = [6]float64{500000, 100, 0, 1000000, 0, -100}

func classGrid(t *testing.T) *processor.RasterGrid {
	t.Helper()
	data := make([]float32, 6*4)
	valid := make([]bool, len(data))
	for i := range data {
		data[i] = float32(10 * (1 + i%4))
		valid[i] = i != 5
	}
	g, err := processor.NewRasterGrid("land_cover", 6, 4, utmFrame, "EPSG:32633", data, valid)
	require.NoError(t, err)
	return g
}

func TestExportLandCoverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := classGrid(t)

	exp := NewGeoTIFFExporter(utils.ExportConfig{CRS: "EPSG:32633", Scale: 100}, dir, zap.NewNop().Sugar())
	require.NoError(t, exp.Export(context.Background(), "Clipped_Water_Bodies", src))

	path := filepath.Join(dir, "Clipped_Water_Bodies.tif")
	ds, err := godal.Open(path)
	require.NoError(t, err)
	st := ds.Structure()
	assert.Equal(t, 6, st.SizeX)
	assert.Equal(t, 4, st.SizeY)
	require.NoError(t, ds.Close())

	frame, err := processor.NewRasterGrid("frame", 6, 4, utmFrame, "EPSG:32633", nil, nil)
	require.NoError(t, err)
	lc := NewGeoTIFFLandCover(path, zap.NewNop().Sugar())
	got, err := lc.LandCover(context.Background(), nil, frame)
	require.NoError(t, err)

	require.True(t, got.SameFrame(frame))
	for i := range src.Data {
		assert.Equal(t, src.Valid[i], got.Valid[i], "cell %d", i)
		if src.Valid[i] {
			assert.Equal(t, src.Data[i], got.Data[i], "cell %d", i)
		}
	}
}

func TestExportCropsToValidCells(t *testing.T) {
	dir := t.TempDir()
	// A sub-region clip: only cols 1-2 of rows 1-2 hold data.
	data := make([]float32, 6*4)
	valid := make([]bool, len(data))
	for _, i := range []int{7, 8, 13, 14} {
		data[i], valid[i] = 1, true
	}
	grid, err := processor.NewRasterGrid("Clipped_Flood_Inundation", 6, 4, utmFrame, "EPSG:32633", data, valid)
	require.NoError(t, err)

	exp := NewGeoTIFFExporter(utils.ExportConfig{CRS: "EPSG:32633", Scale: 100}, dir, zap.NewNop().Sugar())
	require.NoError(t, exp.Export(context.Background(), grid.NameSpace, grid))

	ds, err := godal.Open(filepath.Join(dir, "Clipped_Flood_Inundation.tif"))
	require.NoError(t, err)
	defer ds.Close()
	st := ds.Structure()
	assert.Equal(t, 2, st.SizeX)
	assert.Equal(t, 2, st.SizeY)
	gt, err := ds.GeoTransform()
	require.NoError(t, err)
	assert.InDelta(t, 500100, gt[0], 1e-6)
	assert.InDelta(t, 999900, gt[3], 1e-6)
}

func TestLandCoverMissingFile(t *testing.T) {
	frame, err := processor.NewRasterGrid("frame", 2, 2, utmFrame, "EPSG:32633", nil, nil)
	require.NoError(t, err)
	lc := NewGeoTIFFLandCover(filepath.Join(t.TempDir(), "missing.tif"), zap.NewNop().Sugar())
	_, err = lc.LandCover(context.Background(), nil, frame)
	assert.Error(t, err)
}

func TestCompositeNoScenes(t *testing.T) {
	aoi, err := utils.NewPolygon("aoi", utils.WGS84, [][2]float64{{13, 11}, {14, 11}, {14, 12}, {13, 12}, {13, 11}})
	require.NoError(t, err)
	img := NewGeoTIFFImagery(utils.ImageryConfig{CRS: "EPSG:32633"}, &Catalogue{}, zap.NewNop().Sugar())
	_, err = img.Composite(context.Background(), aoi, utils.TimeRange{Start: "2024-08-01", End: "2024-09-01"}, "VH")
	assert.ErrorContains(t, err, "no VH scene")
}

// writeScene stores grid as a GeoTIFF named like a Sentinel-1 export.
func writeScene(t *testing.T, dir, name string, grid *processor.RasterGrid) string {
	t.Helper()
	src, err := memDataset(grid)
	require.NoError(t, err)
	defer src.Close()
	path := filepath.Join(dir, name)
	out, err := src.Translate(path, []string{"-of", "GTiff", "-mo", "ORBIT_DIRECTION=DESCENDING"})
	require.NoError(t, err)
	require.NoError(t, out.Close())
	return path
}

func fillGrid(t *testing.T, w, h int, v float32) *processor.RasterGrid {
	t.Helper()
	data := make([]float32, w*h)
	for i := range data {
		data[i] = v
	}
	g, err := processor.NewRasterGrid("VH", w, h, utmFrame, "EPSG:32633", data, nil)
	require.NoError(t, err)
	return g
}

func TestCrawlAndComposite(t *testing.T) {
	dir := t.TempDir()
	older := writeScene(t, dir, "S1A_IW_GRDH_1SDV_20240805T051743_20240805T051808_055623_06CA5B_7E2C_VH.tif", fillGrid(t, 6, 4, -10))
	newer := writeScene(t, dir, "S1A_IW_GRDH_1SDV_20240820T051743_20240820T051808_055848_06D1F0_1A2B_VH.tif", fillGrid(t, 2, 4, -20))
	other := filepath.Join(dir, "notes.tif")
	require.NoError(t, os.WriteFile(other, []byte("not a scene"), 0644))

	var skipped []string
	cat, err := Crawl(context.Background(), []string{newer, other, older}, func(path string, err error) {
		skipped = append(skipped, path)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{other}, skipped)
	require.Len(t, cat.Scenes, 2)
	s := cat.Scenes[0]
	assert.Equal(t, newer, s.Path)
	assert.Equal(t, "VH", s.Band)
	assert.Equal(t, "IW", s.InstrumentMode)
	assert.Equal(t, "DESCENDING", s.OrbitPass)
	assert.Equal(t, "EPSG:32633", s.CRS)
	require.Len(t, s.BBox, 4)
	assert.InDelta(t, 15, s.BBox[0], 0.1)

	// The middle 2x2 cells are a hole in the AOI.
	aoi, err := utils.NewPolygon("aoi", "EPSG:32633",
		[][2]float64{{500000, 999600}, {500400, 999600}, {500400, 1000000}, {500000, 1000000}, {500000, 999600}},
		[][2]float64{{500100, 999700}, {500300, 999700}, {500300, 999900}, {500100, 999900}, {500100, 999700}},
	)
	require.NoError(t, err)
	img := NewGeoTIFFImagery(utils.ImageryConfig{CRS: "EPSG:32633", Resolution: 100, InstrumentMode: "IW"}, cat, zap.NewNop().Sugar())
	got, err := img.Composite(context.Background(), aoi, utils.TimeRange{Start: "2024-08-01", End: "2024-09-01"}, "VH")
	require.NoError(t, err)

	require.Equal(t, 4, got.Width)
	require.Equal(t, 4, got.Height)
	assert.Equal(t, 12, got.ValidCount())
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			v, ok := got.At(col, row)
			if (col == 1 || col == 2) && (row == 1 || row == 2) {
				assert.False(t, ok, "cell %d,%d", col, row)
				continue
			}
			require.True(t, ok, "cell %d,%d", col, row)
			want := float32(-10)
			if col < 2 {
				want = -20
			}
			assert.Equal(t, want, v, "cell %d,%d", col, row)
		}
	}

	// Only the older scene falls in this window.
	got, err = img.Composite(context.Background(), aoi, utils.TimeRange{Start: "2024-08-01", End: "2024-08-10"}, "VH")
	require.NoError(t, err)
	v, ok := got.At(0, 0)
	require.True(t, ok)
	assert.Equal(t, float32(-10), v)
}

func TestCrawlSceneRejectsUnreadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "S1A_IW_GRDH_1SDV_20240805T051743_20240805T051808_055623_06CA5B_7E2C_VH.tif")
	require.NoError(t, os.WriteFile(path, []byte("truncated"), 0644))
	_, err := CrawlScene(path)
	assert.Error(t, err)

	// A vector dataset opens but has no band to read.
	vector := filepath.Join(dir, "S1A_IW_GRDH_1SDV_20240806T051743_20240806T051808_055638_06CAF0_3C4D_VH.geojson")
	require.NoError(t, os.WriteFile(vector, []byte(`{"type": "FeatureCollection", "features": [
		{"type": "Feature", "properties": {}, "geometry": {"type": "Point", "coordinates": [15, 9]}}]}`), 0644))
	_, err = CrawlScene(vector)
	assert.ErrorContains(t, err, "no raster bands")

	_, err = CrawlScene(filepath.Join(dir, "scene.tif"))
	assert.ErrorContains(t, err, "not a Sentinel-1 product name")
}
