package processor

import (
	"context"
	"fmt"
	"math"

	"github.com/nci/sarflood/metrics"
	"github.com/nci/sarflood/utils"
)

type Category string

const (
	Flood       Category = "flood"
	Water       Category = "water"
	Agriculture Category = "agriculture"
	Buildings   Category = "buildings"
)

// Categories lists the reported categories in report order.
var Categories = []Category{Buildings, Agriculture, Water, Flood}

// ExportName is the name under which the sub-region clipped grid of a
// category is exported.
func (c Category) ExportName() string {
	switch c {
	case Buildings:
		return "Clipped_Affected_Buildings"
	case Agriculture:
		return "Clipped_Affected_Agricultural_Areas"
	case Water:
		return "Clipped_Water_Bodies"
	case Flood:
		return "Clipped_Flood_Inundation"
	}
	return "Clipped_" + string(c)
}

type Zone string

const (
	ZoneAOI       Zone = "aoi"
	ZoneSubRegion Zone = "sub_region"
)

// DilationKernels holds the refinement kernel of each category.
type DilationKernels struct {
	Flood       Kernel
	Water       Kernel
	Agriculture Kernel
	Buildings   Kernel
}

func (d DilationKernels) For(c Category) Kernel {
	switch c {
	case Water:
		return d.Water
	case Agriculture:
		return d.Agriculture
	case Buildings:
		return d.Buildings
	}
	return d.Flood
}

// FloodRequest is a fully resolved flood mapping job.
type FloodRequest struct {
	RunID            string
	AOI              *utils.Polygon
	SubRegion        *utils.Polygon
	Before           utils.TimeRange
	After            utils.TimeRange
	Band             string
	BandExpr         *utils.BandExpression
	Denoise          Kernel
	Thresholds       utils.Thresholds
	Dilation         DilationKernels
	Scales           utils.CategoryScales
	CropClass        int
	Export           bool
	Workers          int
	MetricsCollector *metrics.MetricsCollector
}

// Validate checks the parts of a request the stages rely on, so requests
// built without BuildRequest fail the same way config files do.
func (r *FloodRequest) Validate() error {
	if r.AOI == nil || r.SubRegion == nil {
		return fmt.Errorf("flood request: aoi and sub-region are required")
	}
	if err := r.Thresholds.Validate(); err != nil {
		return err
	}
	if err := r.Denoise.Validate(); err != nil {
		return fmt.Errorf("denoise: %w", err)
	}
	for _, c := range Categories {
		if err := r.Dilation.For(c).Validate(); err != nil {
			return fmt.Errorf("%s dilation: %w", c, err)
		}
		for _, z := range []Zone{ZoneAOI, ZoneSubRegion} {
			if v := r.Scale(c, z); math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return fmt.Errorf("%w: %s scale %v", utils.ErrInvalidScale, c, v)
			}
		}
	}
	for _, tr := range []utils.TimeRange{r.Before, r.After} {
		if _, _, err := tr.Bounds(); err != nil {
			return err
		}
	}
	return nil
}

// Scale returns the sampling scale of category c in zone z.
func (r *FloodRequest) Scale(c Category, z Zone) float64 {
	var p utils.ScalePair
	switch c {
	case Water:
		p = r.Scales.Water
	case Agriculture:
		p = r.Scales.Agriculture
	case Buildings:
		p = r.Scales.Buildings
	default:
		p = r.Scales.Flood
	}
	if z == ZoneSubRegion {
		return p.SubRegion
	}
	return p.AOI
}

// FloodScene carries the grids of one run between stages. Each stage
// fills in its own fields and never modifies the grids it received.
type FloodScene struct {
	Req *FloodRequest

	// Polygons in the imagery CRS.
	AOI       *utils.Polygon
	SubRegion *utils.Polygon

	Before *RasterGrid
	After  *RasterGrid

	Masks map[Category]*RasterGrid
}

// ZoneReport is the area of each category in one zone.
type ZoneReport struct {
	Buildings   AreaStatistic `json:"buildings"`
	Agriculture AreaStatistic `json:"agriculture"`
	Water       AreaStatistic `json:"water"`
	Flood       AreaStatistic `json:"flood"`
}

func (z *ZoneReport) set(c Category, a AreaStatistic) {
	switch c {
	case Buildings:
		z.Buildings = a
	case Agriculture:
		z.Agriculture = a
	case Water:
		z.Water = a
	case Flood:
		z.Flood = a
	}
}

func (z ZoneReport) Get(c Category) AreaStatistic {
	switch c {
	case Buildings:
		return z.Buildings
	case Agriculture:
		return z.Agriculture
	case Water:
		return z.Water
	}
	return z.Flood
}

// AreaReport holds the eight area statistics of a run.
type AreaReport struct {
	RunID             string     `json:"run_id"`
	Before            string     `json:"before"`
	After             string     `json:"after"`
	AOIName           string     `json:"aoi_name"`
	SubRegionName     string     `json:"sub_region_name"`
	AOIHectares       int64      `json:"aoi_hectares"`
	SubRegionHectares int64      `json:"sub_region_hectares"`
	AOI               ZoneReport `json:"aoi"`
	SubRegion         ZoneReport `json:"sub_region"`
}

// FloodResult is what a run hands back: the four dilated classification
// grids, their sub-region clipped versions and the area report.
type FloodResult struct {
	Report  *AreaReport
	Masks   map[Category]*RasterGrid
	Clipped map[Category]*RasterGrid
}

// BuildRequest resolves a config into a request. Boundary lookups go
// through boundaries, which may be nil when both polygons are inline.
func BuildRequest(ctx context.Context, cfg *utils.Config, boundaries BoundarySource) (*FloodRequest, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	aoi, err := resolvePolygon(ctx, cfg, cfg.AOI, boundaries)
	if err != nil {
		return nil, fmt.Errorf("aoi: %w", err)
	}
	sub, err := resolvePolygon(ctx, cfg, cfg.SubRegion, boundaries)
	if err != nil {
		return nil, fmt.Errorf("sub_region: %w", err)
	}

	req := &FloodRequest{
		AOI:        aoi,
		SubRegion:  sub,
		Before:     cfg.Before,
		After:      cfg.After,
		Band:       cfg.Imagery.Band,
		Denoise:    KernelFromConfig(cfg.Denoise),
		Thresholds: cfg.Thresholds,
		Dilation: DilationKernels{
			Flood:       KernelFromConfig(cfg.Dilation.Flood),
			Water:       KernelFromConfig(cfg.Dilation.Water),
			Agriculture: KernelFromConfig(cfg.Dilation.Agriculture),
			Buildings:   KernelFromConfig(cfg.Dilation.Buildings),
		},
		Scales:    cfg.Scales,
		CropClass: cfg.LandCover.CropClass,
		Export:    cfg.Export.Enabled,
		Workers:   cfg.Workers,
	}
	if len(cfg.Imagery.Expression) > 0 {
		req.BandExpr, err = utils.ParseBandExpression(cfg.Imagery.Expression)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

func resolvePolygon(ctx context.Context, cfg *utils.Config, g utils.GeometryConfig, boundaries BoundarySource) (*utils.Polygon, error) {
	if !g.IsLookup() {
		return g.Polygon(cfg.BaseDir)
	}
	if boundaries == nil {
		return nil, fmt.Errorf("boundary %q requested but no boundary source is configured", g.Boundary)
	}
	poly, err := boundaries.Boundary(ctx, g.Boundary)
	if err != nil {
		return nil, err
	}
	if len(g.Name) > 0 {
		poly.Name = g.Name
	}
	return poly, nil
}
