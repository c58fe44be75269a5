package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChangeDetector classifies the denoised epochs into the flood and water
// masks, keeps only their set cells and dilates them.
type ChangeDetector struct {
	Context context.Context
	In      chan *FloodScene
	Out     chan *FloodScene
	Error   chan error
	Log     *zap.SugaredLogger
}

func NewChangeDetector(ctx context.Context, log *zap.SugaredLogger, errChan chan error) *ChangeDetector {
	return &ChangeDetector{
		Context: ctx,
		In:      make(chan *FloodScene, 1),
		Out:     make(chan *FloodScene, 1),
		Error:   errChan,
		Log:     log,
	}
}

func (p *ChangeDetector) Run(verbose bool) {
	if verbose {
		defer p.Log.Infof("Change Detector done")
	}
	defer close(p.Out)

	for scene := range p.In {
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("Change detector context has been cancel: %v", p.Context.Err())
			return
		default:
		}

		req := scene.Req
		stop := req.MetricsCollector.StartStage("classify")
		var flood, water *RasterGrid
		eg, ctx := errgroup.WithContext(p.Context)
		eg.Go(func() error {
			var err error
			flood, err = p.refine(ctx, scene, Flood, ClassifyFlood, req.Thresholds.Flood)
			return err
		})
		eg.Go(func() error {
			var err error
			water, err = p.refine(ctx, scene, Water, ClassifyWater, req.Thresholds.Water)
			return err
		})
		err := eg.Wait()
		stop()
		if err != nil {
			p.Error <- err
			return
		}

		out := *scene
		out.Masks = map[Category]*RasterGrid{Flood: flood, Water: water}
		for c, m := range out.Masks {
			req.MetricsCollector.RecordPixels(string(c), m.ValidCount(), m.SetCount())
			if verbose {
				p.Log.Infof("Change Detector: %s mask has %d set cells", c, m.SetCount())
			}
		}
		p.Out <- &out
	}
}

type classifier func(before, after *RasterGrid, threshold float64) (*RasterGrid, error)

func (p *ChangeDetector) refine(ctx context.Context, scene *FloodScene, c Category, classify classifier, threshold float64) (*RasterGrid, error) {
	m, err := classify(scene.Before, scene.After, threshold)
	if err != nil {
		return nil, fmt.Errorf("%s classification: %w", c, err)
	}
	m, err = Dilate(ctx, SelfMask(string(c), m), scene.Req.Dilation.For(c), scene.Req.Workers)
	if err != nil {
		return nil, fmt.Errorf("%s dilation: %w", c, err)
	}
	return m, nil
}
