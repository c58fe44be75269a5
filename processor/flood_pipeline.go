package processor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type FloodPipeline struct {
	Context context.Context
	Error   chan error
	Sources Sources
	Log     *zap.SugaredLogger
}

func InitFloodPipeline(ctx context.Context, sources Sources, log *zap.SugaredLogger, errChan chan error) *FloodPipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FloodPipeline{
		Context: ctx,
		Error:   errChan,
		Sources: sources,
		Log:     log,
	}
}

// Process wires the stages and feeds them req. The returned channel
// yields the result, or is closed without one after an error has been
// sent on the pipeline's error channel.
func (fp *FloodPipeline) Process(req *FloodRequest, verbose bool) chan *FloodResult {
	sl := NewSceneLoader(fp.Context, fp.Sources.Imagery, fp.Log, fp.Error)
	sd := NewSceneDenoiser(fp.Context, fp.Log, fp.Error)
	cd := NewChangeDetector(fp.Context, fp.Log, fp.Error)
	io := NewImpactOverlay(fp.Context, fp.Sources.LandCover, fp.Sources.Footprints, fp.Log, fp.Error)
	ar := NewAreaReporter(fp.Context, fp.Log, fp.Error)
	re := NewResultExporter(fp.Context, fp.Sources.Exporter, fp.Log, fp.Error)

	go func() {
		sl.In <- req
		close(sl.In)
	}()

	sd.In = sl.Out
	cd.In = sd.Out
	io.In = cd.Out
	ar.In = io.Out
	re.In = ar.Out

	go sl.Run(verbose)
	go sd.Run(verbose)
	go cd.Run(verbose)
	go io.Run(verbose)
	go ar.Run(verbose)
	go re.Run(req.Export, verbose)

	return re.Out
}

// RunFloodPipeline runs req to completion. The metrics collector of req,
// if any, is logged with the outcome.
func RunFloodPipeline(ctx context.Context, sources Sources, req *FloodRequest, log *zap.SugaredLogger, verbose bool) (*FloodResult, error) {
	if sources.Imagery == nil || sources.LandCover == nil || sources.Footprints == nil {
		return nil, fmt.Errorf("flood pipeline: imagery, land cover and footprint sources are required")
	}
	if err := req.Validate(); err != nil {
		req.MetricsCollector.Log(err)
		return nil, err
	}
	if len(req.RunID) == 0 {
		req.RunID = uuid.New().String()
	}
	if req.MetricsCollector != nil {
		req.MetricsCollector.Info.RunID = req.RunID
		req.MetricsCollector.Info.AOI = req.AOI.Name
		req.MetricsCollector.Info.SubRegion = req.SubRegion.Name
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 100)
	fp := InitFloodPipeline(ctx, sources, log, errChan)
	out := fp.Process(req, verbose)

	res, err := collect(out, errChan)
	if err != nil {
		cancel()
		// Drain so every stage can exit.
		for range out {
		}
	}
	if res != nil && req.MetricsCollector != nil {
		req.MetricsCollector.Info.AOIArea = float64(res.Report.AOIHectares)
		if m, ok := res.Masks[Flood]; ok {
			req.MetricsCollector.Info.Width = m.Width
			req.MetricsCollector.Info.Height = m.Height
		}
	}
	req.MetricsCollector.Log(err)
	return res, err
}

func collect(out chan *FloodResult, errChan chan error) (*FloodResult, error) {
	select {
	case res, ok := <-out:
		if ok && res != nil {
			return res, nil
		}
		select {
		case err := <-errChan:
			return nil, err
		default:
			return nil, fmt.Errorf("flood pipeline produced no result")
		}
	case err := <-errChan:
		return nil, err
	}
}
