package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nci/sarflood/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AreaReporter clips the masks to the sub-region and computes the eight
// area statistics.
type AreaReporter struct {
	Context context.Context
	In      chan *FloodScene
	Out     chan *FloodResult
	Error   chan error
	Log     *zap.SugaredLogger
}

func NewAreaReporter(ctx context.Context, log *zap.SugaredLogger, errChan chan error) *AreaReporter {
	return &AreaReporter{
		Context: ctx,
		In:      make(chan *FloodScene, 1),
		Out:     make(chan *FloodResult, 1),
		Error:   errChan,
		Log:     log,
	}
}

func (p *AreaReporter) Run(verbose bool) {
	if verbose {
		defer p.Log.Infof("Area Reporter done")
	}
	defer close(p.Out)

	for scene := range p.In {
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("Area reporter context has been cancel: %v", p.Context.Err())
			return
		default:
		}

		stop := scene.Req.MetricsCollector.StartStage("aggregate")
		res, err := p.report(scene)
		stop()
		if err != nil {
			p.Error <- err
			return
		}
		if verbose {
			p.Log.Infof("Area Reporter: run %s flood %d ha in %s, %d ha in %s", res.Report.RunID,
				res.Report.AOI.Flood.Hectares, res.Report.AOIName, res.Report.SubRegion.Flood.Hectares, res.Report.SubRegionName)
		}
		p.Out <- res
	}
}

func (p *AreaReporter) report(scene *FloodScene) (*FloodResult, error) {
	req := scene.Req
	if len(req.RunID) == 0 {
		req.RunID = uuid.New().String()
	}
	report := &AreaReport{
		RunID:             req.RunID,
		Before:            fmt.Sprintf("%s/%s", req.Before.Start, req.Before.End),
		After:             fmt.Sprintf("%s/%s", req.After.Start, req.After.End),
		AOIName:           req.AOI.Name,
		SubRegionName:     req.SubRegion.Name,
		AOIHectares:       PolygonHectares(scene.AOI),
		SubRegionHectares: PolygonHectares(scene.SubRegion),
	}
	res := &FloodResult{
		Report:  report,
		Masks:   scene.Masks,
		Clipped: make(map[Category]*RasterGrid, len(Categories)),
	}

	for _, c := range Categories {
		if _, ok := scene.Masks[c]; !ok {
			return nil, fmt.Errorf("area reporter: %s mask missing", c)
		}
	}

	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(p.Context)
	for _, c := range Categories {
		c := c
		mask := scene.Masks[c]
		eg.Go(func() error {
			a, err := p.aggregate(ctx, mask, scene.AOI, req.Scale(c, ZoneAOI))
			if err != nil {
				return fmt.Errorf("%s area over %s: %w", c, req.AOI.Name, err)
			}
			mu.Lock()
			report.AOI.set(c, a)
			mu.Unlock()
			return nil
		})
		eg.Go(func() error {
			clipped, err := ClipToPolygon(c.ExportName(), mask, scene.SubRegion)
			if err != nil {
				return err
			}
			a, err := p.aggregate(ctx, clipped, scene.SubRegion, req.Scale(c, ZoneSubRegion))
			if err != nil {
				return fmt.Errorf("%s area over %s: %w", c, req.SubRegion.Name, err)
			}
			mu.Lock()
			report.SubRegion.set(c, a)
			res.Clipped[c] = clipped
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, c := range Categories {
		req.MetricsCollector.RecordArea(string(c), string(ZoneAOI), report.AOI.Get(c).Hectares)
		req.MetricsCollector.RecordArea(string(c), string(ZoneSubRegion), report.SubRegion.Get(c).Hectares)
	}
	return res, nil
}

func (p *AreaReporter) aggregate(ctx context.Context, mask *RasterGrid, poly *utils.Polygon, scale float64) (AreaStatistic, error) {
	if err := ctx.Err(); err != nil {
		return AreaStatistic{}, err
	}
	return AggregateArea(mask, poly, scale)
}
