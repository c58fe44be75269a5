package sources

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/nci/sarflood/processor"
	"github.com/nci/sarflood/utils"
	"go.uber.org/zap"
)

// GeoTIFFExporter writes result grids as (cloud optimised) GeoTIFF files,
// reprojected to CRS at Scale metres per pixel.
type GeoTIFFExporter struct {
	Dir            string
	CRS            string
	Scale          float64
	CloudOptimized bool
	Log            *zap.SugaredLogger
}

func NewGeoTIFFExporter(cfg utils.ExportConfig, dir string, log *zap.SugaredLogger) *GeoTIFFExporter {
	RegisterDrivers()
	return &GeoTIFFExporter{
		Dir:            dir,
		CRS:            utils.NormaliseCRS(cfg.CRS),
		Scale:          cfg.Scale,
		CloudOptimized: cfg.CloudOptimized,
		Log:            log,
	}
}

func spatialRef(crs string) (*godal.SpatialRef, error) {
	if code, err := utils.ExtractEPSGCode(crs); err == nil {
		return godal.NewSpatialRefFromEPSG(code)
	}
	def, err := utils.Proj4Definition(crs)
	if err != nil {
		return nil, err
	}
	return godal.NewSpatialRefFromProj4(def)
}

// memDataset copies grid into an in-memory dataset. Invalid cells are NaN.
func memDataset(grid *processor.RasterGrid) (*godal.Dataset, error) {
	ds, err := godal.Create(godal.Memory, "", 1, godal.Float32, grid.Width, grid.Height)
	if err != nil {
		return nil, err
	}
	sr, err := spatialRef(grid.CRS)
	if err != nil {
		ds.Close()
		return nil, err
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		ds.Close()
		return nil, err
	}
	if err := ds.SetGeoTransform(grid.GeoTransform); err != nil {
		ds.Close()
		return nil, err
	}

	nan := float32(math.NaN())
	data := make([]float32, len(grid.Data))
	for i, v := range grid.Data {
		if grid.Valid[i] {
			data[i] = v
		} else {
			data[i] = nan
		}
	}
	band := ds.Bands()[0]
	if err := band.SetNoData(math.NaN()); err != nil {
		ds.Close()
		return nil, err
	}
	if err := band.Write(0, 0, data, grid.Width, grid.Height); err != nil {
		ds.Close()
		return nil, err
	}
	return ds, nil
}

// Export writes Dir/name.tif, cropped to the extent of the valid cells of
// grid.
func (e *GeoTIFFExporter) Export(ctx context.Context, name string, grid *processor.RasterGrid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return err
	}

	src, err := memDataset(grid)
	if err != nil {
		return fmt.Errorf("%s: %v", name, err)
	}
	defer src.Close()

	res := resolutionIn(e.CRS, e.Scale)
	switches := []string{
		"-of", "MEM",
		"-t_srs", e.CRS,
		"-tr", ftoa(res), ftoa(res),
		"-r", "near",
		"-dstnodata", "nan",
	}
	// Clipped grids keep the AOI frame; crop to the cells that hold data.
	if vb := grid.ValidBounds(); vb != nil {
		region, err := utils.PolygonFromGeom(name, grid.CRS, vb)
		if err != nil {
			return fmt.Errorf("%s: %v", name, err)
		}
		b, err := extentIn(region, e.CRS)
		if err != nil {
			return fmt.Errorf("%s: %v", name, err)
		}
		switches = append(switches, "-te", ftoa(b.Min.X), ftoa(b.Min.Y), ftoa(b.Max.X), ftoa(b.Max.Y))
	}
	warped, err := src.Warp("", switches)
	if err != nil {
		return fmt.Errorf("%s: reprojecting to %s: %v", name, e.CRS, err)
	}
	defer warped.Close()

	format := "GTiff"
	if e.CloudOptimized {
		format = "COG"
	}
	path := filepath.Join(e.Dir, name+".tif")
	out, err := warped.Translate(path, []string{"-of", format, "-co", "COMPRESS=DEFLATE"})
	if err != nil {
		return fmt.Errorf("%s: writing %s: %v", name, path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%s: closing %s: %v", name, path, err)
	}
	e.Log.Infof("GeoTIFF Exporter: wrote %s", path)
	return nil
}
