// Package sources implements the data collaborators of the flood
// pipeline: GeoTIFF scene mosaics and land cover through GDAL, building
// footprints and boundaries from shapefiles or PostGIS, and GeoTIFF export.
package sources

import (
	"fmt"
	"io"

	"github.com/nci/sarflood/processor"
	"github.com/nci/sarflood/utils"
	"go.uber.org/zap"
)

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FromConfig builds the sources described by cfg. The returned closer
// releases database connections.
func FromConfig(cfg *utils.Config, log *zap.SugaredLogger) (processor.Sources, io.Closer, error) {
	var srcs processor.Sources
	var closers multiCloser

	if len(cfg.Imagery.Catalogue) == 0 {
		return srcs, closers, fmt.Errorf("imagery: catalogue is required")
	}
	cat, err := LoadCatalogue(cfg.ResolvePath(cfg.Imagery.Catalogue))
	if err != nil {
		return srcs, closers, err
	}
	srcs.Imagery = NewGeoTIFFImagery(cfg.Imagery, cat, log)

	if len(cfg.LandCover.Path) == 0 {
		return srcs, closers, fmt.Errorf("land_cover: path is required")
	}
	srcs.LandCover = NewGeoTIFFLandCover(cfg.ResolvePath(cfg.LandCover.Path), log)

	switch {
	case len(cfg.Footprints.Shapefile) > 0:
		srcs.Footprints = NewShapefileFootprints(cfg.ResolvePath(cfg.Footprints.Shapefile), log)
	case len(cfg.Footprints.PostGIS.URL) > 0:
		pg, err := NewPostGIS(cfg.Footprints.PostGIS)
		if err != nil {
			return srcs, closers, fmt.Errorf("footprints: %w", err)
		}
		closers = append(closers, pg)
		srcs.Footprints = pg
	default:
		return srcs, closers, fmt.Errorf("footprints: shapefile or postgis is required")
	}

	switch {
	case len(cfg.Boundaries.Shapefile) > 0:
		srcs.Boundaries = NewShapefileBoundaries(cfg.ResolvePath(cfg.Boundaries.Shapefile), cfg.Boundaries.NameField)
	case len(cfg.Boundaries.PostGIS.URL) > 0:
		pg, err := NewPostGIS(cfg.Boundaries.PostGIS)
		if err != nil {
			closers.Close()
			return srcs, nil, fmt.Errorf("boundaries: %w", err)
		}
		closers = append(closers, pg)
		srcs.Boundaries = pg
	}

	if cfg.Export.Enabled {
		srcs.Exporter = NewGeoTIFFExporter(cfg.Export, cfg.ResolvePath(cfg.Export.Dir), log)
	}
	return srcs, closers, nil
}
