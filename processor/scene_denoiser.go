package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SceneDenoiser applies the median filter to both epochs.
type SceneDenoiser struct {
	Context context.Context
	In      chan *FloodScene
	Out     chan *FloodScene
	Error   chan error
	Log     *zap.SugaredLogger
}

func NewSceneDenoiser(ctx context.Context, log *zap.SugaredLogger, errChan chan error) *SceneDenoiser {
	return &SceneDenoiser{
		Context: ctx,
		In:      make(chan *FloodScene, 1),
		Out:     make(chan *FloodScene, 1),
		Error:   errChan,
		Log:     log,
	}
}

func (p *SceneDenoiser) Run(verbose bool) {
	if verbose {
		defer p.Log.Infof("Scene Denoiser done")
	}
	defer close(p.Out)

	for scene := range p.In {
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("Scene denoiser context has been cancel: %v", p.Context.Err())
			return
		default:
		}

		req := scene.Req
		stop := req.MetricsCollector.StartStage("denoise")
		out := *scene
		eg, ctx := errgroup.WithContext(p.Context)
		eg.Go(func() error {
			g, err := Denoise(ctx, scene.Before, req.Denoise, req.Workers)
			out.Before = g
			return err
		})
		eg.Go(func() error {
			g, err := Denoise(ctx, scene.After, req.Denoise, req.Workers)
			out.After = g
			return err
		})
		err := eg.Wait()
		stop()
		if err != nil {
			p.Error <- fmt.Errorf("denoise: %w", err)
			return
		}
		req.MetricsCollector.RecordPixels("denoise", out.After.ValidCount(), 0)
		if verbose {
			p.Log.Infof("Scene Denoiser: %s radius %d", req.Denoise.Shape, req.Denoise.Radius)
		}
		p.Out <- &out
	}
}
