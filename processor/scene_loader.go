package processor

import (
	"context"
	"fmt"

	"github.com/nci/sarflood/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SceneLoader fetches the before and after composites of a request and
// expresses its polygons in the imagery CRS.
type SceneLoader struct {
	Context context.Context
	In      chan *FloodRequest
	Out     chan *FloodScene
	Error   chan error
	Imagery ImagerySource
	Log     *zap.SugaredLogger
}

func NewSceneLoader(ctx context.Context, imagery ImagerySource, log *zap.SugaredLogger, errChan chan error) *SceneLoader {
	return &SceneLoader{
		Context: ctx,
		In:      make(chan *FloodRequest, 1),
		Out:     make(chan *FloodScene, 1),
		Error:   errChan,
		Imagery: imagery,
		Log:     log,
	}
}

func (p *SceneLoader) Run(verbose bool) {
	if verbose {
		defer p.Log.Infof("Scene Loader done")
	}
	defer close(p.Out)

	for req := range p.In {
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("Scene loader context has been cancel: %v", p.Context.Err())
			return
		default:
		}

		stop := req.MetricsCollector.StartStage("scene_loader")
		scene, err := p.load(req, verbose)
		stop()
		if err != nil {
			p.Error <- err
			return
		}
		req.MetricsCollector.RecordPixels("scene_loader", scene.After.ValidCount(), 0)
		p.Out <- scene
	}
}

func (p *SceneLoader) load(req *FloodRequest, verbose bool) (*FloodScene, error) {
	scene := &FloodScene{Req: req, Masks: map[Category]*RasterGrid{}}

	eg, ctx := errgroup.WithContext(p.Context)
	eg.Go(func() error {
		g, err := p.composite(ctx, req, req.Before, "before")
		scene.Before = g
		return err
	})
	eg.Go(func() error {
		g, err := p.composite(ctx, req, req.After, "after")
		scene.After = g
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	after, err := Resample("after", scene.After, scene.Before)
	if err != nil {
		return nil, err
	}
	scene.After = after

	crs := scene.Before.CRS
	if scene.AOI, err = req.AOI.Reproject(crs); err != nil {
		return nil, err
	}
	if scene.SubRegion, err = req.SubRegion.Reproject(crs); err != nil {
		return nil, err
	}
	if verbose {
		p.Log.Infof("Scene Loader: %s %dx%d in %s, %d/%d valid before/after cells", req.AOI.Name,
			scene.Before.Width, scene.Before.Height, crs, scene.Before.ValidCount(), scene.After.ValidCount())
	}
	return scene, nil
}

// composite loads the analysis band for period, deriving it from its
// source bands when the request carries a band expression.
func (p *SceneLoader) composite(ctx context.Context, req *FloodRequest, period utils.TimeRange, ns string) (*RasterGrid, error) {
	if req.BandExpr == nil {
		g, err := p.Imagery.Composite(ctx, req.AOI, period, req.Band)
		if err != nil {
			return nil, fmt.Errorf("%s composite of %s: %w", ns, req.Band, err)
		}
		g.NameSpace = ns
		return g, nil
	}

	bands := make(map[string]*RasterGrid, len(req.BandExpr.VarList))
	var ref *RasterGrid
	for _, band := range req.BandExpr.VarList {
		g, err := p.Imagery.Composite(ctx, req.AOI, period, band)
		if err != nil {
			return nil, fmt.Errorf("%s composite of %s: %w", ns, band, err)
		}
		if ref == nil {
			ref = g
		} else if g, err = Resample(band, g, ref); err != nil {
			return nil, err
		}
		bands[band] = g
	}
	return ApplyBandExpression(ns, req.BandExpr, bands)
}
