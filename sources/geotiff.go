package sources

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/ctessum/geom"
	"github.com/nci/sarflood/processor"
	"github.com/nci/sarflood/utils"
	"go.uber.org/zap"
)

var registerOnce sync.Once

// RegisterDrivers registers the GDAL drivers once per process.
func RegisterDrivers() {
	registerOnce.Do(godal.RegisterAll)
}

// DefaultResolution is the pixel size, in metres, of the composites when
// none is configured: the native spacing of Sentinel-1 IW GRD products.
const DefaultResolution = 10.0

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// resolutionIn converts a resolution in metres to the units of crs.
func resolutionIn(crs string, metres float64) float64 {
	if utils.IsGeographic(crs) {
		return metres / processor.MetresPerDegree
	}
	return metres
}

// extentIn returns the bounds of poly expressed in crs.
func extentIn(poly *utils.Polygon, crs string) (*geom.Bounds, error) {
	p, err := poly.Reproject(crs)
	if err != nil {
		return nil, err
	}
	return p.Bounds(), nil
}

// readGrid copies the first band of ds into a grid. NaN cells, and cells
// equal to the band's nodata value, are invalid.
func readGrid(ns string, ds *godal.Dataset, crs string) (*processor.RasterGrid, error) {
	st := ds.Structure()
	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, fmt.Errorf("%s: dataset has no band", ns)
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("%s: %v", ns, err)
	}
	data := make([]float32, st.SizeX*st.SizeY)
	if err := bands[0].Read(0, 0, data, st.SizeX, st.SizeY); err != nil {
		return nil, fmt.Errorf("%s: read error: %v", ns, err)
	}
	nodata, hasNoData := bands[0].NoData()
	valid := make([]bool, len(data))
	for i, v := range data {
		valid[i] = !math.IsNaN(float64(v)) && !(hasNoData && float64(v) == nodata)
	}
	return processor.NewRasterGrid(ns, st.SizeX, st.SizeY, gt, crs, data, valid)
}

// GeoTIFFImagery composites single-band SAR scenes listed in a catalogue.
type GeoTIFFImagery struct {
	Catalogue      *Catalogue
	InstrumentMode string
	OrbitPasses    []string
	CRS            string
	Resolution     float64
	Log            *zap.SugaredLogger
}

func NewGeoTIFFImagery(cfg utils.ImageryConfig, catalogue *Catalogue, log *zap.SugaredLogger) *GeoTIFFImagery {
	RegisterDrivers()
	res := cfg.Resolution
	if res <= 0 {
		res = DefaultResolution
	}
	return &GeoTIFFImagery{
		Catalogue:      catalogue,
		InstrumentMode: cfg.InstrumentMode,
		OrbitPasses:    cfg.OrbitPasses,
		CRS:            utils.NormaliseCRS(cfg.CRS),
		Resolution:     res,
		Log:            log,
	}
}

// Composite mosaics the matching scenes onto a grid aligned to multiples
// of the resolution, latest acquisition on top, and clips it to aoi.
func (g *GeoTIFFImagery) Composite(ctx context.Context, aoi *utils.Polygon, period utils.TimeRange, band string) (*processor.RasterGrid, error) {
	wgsBounds, err := extentIn(aoi, utils.WGS84)
	if err != nil {
		return nil, err
	}
	scenes, err := g.Catalogue.Select(SceneFilter{
		Band:           band,
		InstrumentMode: g.InstrumentMode,
		OrbitPasses:    g.OrbitPasses,
		Period:         period,
		Bounds:         wgsBounds,
	})
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("no %s scene in %s/%s over %s", band, period.Start, period.End, aoi.Name)
	}
	g.Log.Debugf("GeoTIFF Imagery: %d %s scenes in %s/%s", len(scenes), band, period.Start, period.End)

	datasets := make([]*godal.Dataset, 0, len(scenes))
	defer func() {
		for _, ds := range datasets {
			ds.Close()
		}
	}()
	for _, s := range scenes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds, err := godal.Open(s.Path)
		if err != nil {
			return nil, fmt.Errorf("opening scene %s: %v", s.Path, err)
		}
		datasets = append(datasets, ds)
	}

	b, err := extentIn(aoi, g.CRS)
	if err != nil {
		return nil, err
	}
	res := resolutionIn(g.CRS, g.Resolution)
	switches := []string{
		"-of", "MEM",
		"-t_srs", g.CRS,
		"-te", ftoa(b.Min.X), ftoa(b.Min.Y), ftoa(b.Max.X), ftoa(b.Max.Y),
		"-tr", ftoa(res), ftoa(res),
		"-tap",
		"-r", "near",
		"-ot", "Float32",
		"-dstnodata", "nan",
	}
	mosaic, err := godal.Warp("", datasets, switches)
	if err != nil {
		return nil, fmt.Errorf("mosaic of %s: %v", band, err)
	}
	defer mosaic.Close()

	grid, err := readGrid(band, mosaic, g.CRS)
	if err != nil {
		return nil, err
	}
	aoiLocal, err := aoi.Reproject(g.CRS)
	if err != nil {
		return nil, err
	}
	return processor.ClipToPolygon(band, grid, aoiLocal)
}

// GeoTIFFLandCover reads a categorical land cover raster such as ESA
// WorldCover.
type GeoTIFFLandCover struct {
	Path string
	Log  *zap.SugaredLogger
}

func NewGeoTIFFLandCover(path string, log *zap.SugaredLogger) *GeoTIFFLandCover {
	RegisterDrivers()
	return &GeoTIFFLandCover{Path: path, Log: log}
}

// LandCover warps the raster onto the frame with nearest neighbour so
// class values are preserved.
func (l *GeoTIFFLandCover) LandCover(ctx context.Context, aoi *utils.Polygon, frame *processor.RasterGrid) (*processor.RasterGrid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds, err := godal.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("opening land cover %s: %v", l.Path, err)
	}
	defer ds.Close()

	b := frame.Bounds()
	switches := []string{
		"-of", "MEM",
		"-t_srs", frame.CRS,
		"-te", ftoa(b.Min.X), ftoa(b.Min.Y), ftoa(b.Max.X), ftoa(b.Max.Y),
		"-ts", strconv.Itoa(frame.Width), strconv.Itoa(frame.Height),
		"-r", "near",
		"-ot", "Float32",
		"-dstnodata", "nan",
	}
	warped, err := ds.Warp("", switches)
	if err != nil {
		return nil, fmt.Errorf("warping land cover: %v", err)
	}
	defer warped.Close()

	l.Log.Debugf("GeoTIFF Land Cover: warped %s onto %dx%d", l.Path, frame.Width, frame.Height)
	return readGrid("land_cover", warped, frame.CRS)
}
