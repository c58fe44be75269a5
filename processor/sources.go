package processor

import (
	"context"

	"github.com/nci/sarflood/utils"
)

// ImagerySource returns the mosaic of every scene of band acquired in
// period over aoi, clipped to aoi. Cells without coverage are invalid.
type ImagerySource interface {
	Composite(ctx context.Context, aoi *utils.Polygon, period utils.TimeRange, band string) (*RasterGrid, error)
}

// LandCoverSource returns the categorical land cover grid over aoi. The
// grid may be on any frame in the CRS of frame; it is aligned by the
// caller.
type LandCoverSource interface {
	LandCover(ctx context.Context, aoi *utils.Polygon, frame *RasterGrid) (*RasterGrid, error)
}

// FootprintSource returns the building footprints intersecting aoi.
type FootprintSource interface {
	Footprints(ctx context.Context, aoi *utils.Polygon) ([]*utils.Polygon, error)
}

// BoundarySource resolves an administrative boundary by name.
type BoundarySource interface {
	Boundary(ctx context.Context, name string) (*utils.Polygon, error)
}

// Exporter persists a result grid under name.
type Exporter interface {
	Export(ctx context.Context, name string, grid *RasterGrid) error
}

// Sources bundles the collaborators of a flood run. Boundaries and
// Exporter may be nil when every polygon is inline and export is off.
type Sources struct {
	Imagery    ImagerySource
	LandCover  LandCoverSource
	Footprints FootprintSource
	Boundaries BoundarySource
	Exporter   Exporter
}
