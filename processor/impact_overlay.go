package processor

import (
	"context"
	"fmt"

	"github.com/nci/sarflood/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ImpactOverlay derives the affected agriculture and affected buildings
// masks from the dilated flood mask.
type ImpactOverlay struct {
	Context    context.Context
	In         chan *FloodScene
	Out        chan *FloodScene
	Error      chan error
	LandCover  LandCoverSource
	Footprints FootprintSource
	Log        *zap.SugaredLogger
}

func NewImpactOverlay(ctx context.Context, landCover LandCoverSource, footprints FootprintSource, log *zap.SugaredLogger, errChan chan error) *ImpactOverlay {
	return &ImpactOverlay{
		Context:    ctx,
		In:         make(chan *FloodScene, 1),
		Out:        make(chan *FloodScene, 1),
		Error:      errChan,
		LandCover:  landCover,
		Footprints: footprints,
		Log:        log,
	}
}

func (p *ImpactOverlay) Run(verbose bool) {
	if verbose {
		defer p.Log.Infof("Impact Overlay done")
	}
	defer close(p.Out)

	for scene := range p.In {
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("Impact overlay context has been cancel: %v", p.Context.Err())
			return
		default:
		}

		req := scene.Req
		stop := req.MetricsCollector.StartStage("overlay")
		var agriculture, buildings *RasterGrid
		eg, ctx := errgroup.WithContext(p.Context)
		eg.Go(func() error {
			var err error
			agriculture, err = p.agriculture(ctx, scene, verbose)
			return err
		})
		eg.Go(func() error {
			var err error
			buildings, err = p.buildings(ctx, scene, verbose)
			return err
		})
		err := eg.Wait()
		stop()
		if err != nil {
			p.Error <- err
			return
		}

		out := *scene
		out.Masks = make(map[Category]*RasterGrid, len(scene.Masks)+2)
		for c, m := range scene.Masks {
			out.Masks[c] = m
		}
		out.Masks[Agriculture] = agriculture
		out.Masks[Buildings] = buildings
		req.MetricsCollector.RecordPixels(string(Agriculture), agriculture.ValidCount(), agriculture.SetCount())
		req.MetricsCollector.RecordPixels(string(Buildings), buildings.ValidCount(), buildings.SetCount())
		p.Out <- &out
	}
}

func (p *ImpactOverlay) agriculture(ctx context.Context, scene *FloodScene, verbose bool) (*RasterGrid, error) {
	flood := scene.Masks[Flood]
	lc, err := p.LandCover.LandCover(ctx, scene.AOI, flood)
	if err != nil {
		return nil, fmt.Errorf("land cover: %w", err)
	}
	lc, err = Resample("land_cover", lc, flood)
	if err != nil {
		return nil, fmt.Errorf("land cover: %w", err)
	}
	crops := ClassMask("cropland", lc, scene.Req.CropClass)
	if verbose {
		p.Log.Infof("Impact Overlay: %d cells of class %d", crops.SetCount(), scene.Req.CropClass)
	}
	affected, err := Intersect(string(Agriculture), flood, crops)
	if err != nil {
		return nil, fmt.Errorf("agriculture overlay: %w", err)
	}
	return Dilate(ctx, affected, scene.Req.Dilation.Agriculture, scene.Req.Workers)
}

func (p *ImpactOverlay) buildings(ctx context.Context, scene *FloodScene, verbose bool) (*RasterGrid, error) {
	flood := scene.Masks[Flood]
	fps, err := p.Footprints.Footprints(ctx, scene.AOI)
	if err != nil {
		return nil, fmt.Errorf("footprints: %w", err)
	}
	projected := make([]*utils.Polygon, 0, len(fps))
	for _, fp := range fps {
		pfp, err := fp.Reproject(flood.CRS)
		if err != nil {
			return nil, fmt.Errorf("footprints: %w", err)
		}
		projected = append(projected, pfp)
	}
	idx, err := NewFootprintIndex(flood.CRS, projected)
	if err != nil {
		return nil, err
	}
	presence, err := RasterizeFootprints("footprints", idx, flood)
	if err != nil {
		return nil, err
	}
	if verbose {
		p.Log.Infof("Impact Overlay: %d footprints painted %d cells", idx.Count, presence.SetCount())
	}
	affected, err := Intersect(string(Buildings), flood, presence)
	if err != nil {
		return nil, fmt.Errorf("buildings overlay: %w", err)
	}
	return Dilate(ctx, affected, scene.Req.Dilation.Buildings, scene.Req.Workers)
}
