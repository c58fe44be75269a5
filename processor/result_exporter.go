package processor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const DefaultExportConcLimit = 2

// ResultExporter hands the sub-region clipped grids to the exporter and
// passes the result on once every export has finished.
type ResultExporter struct {
	Context   context.Context
	In        chan *FloodResult
	Out       chan *FloodResult
	Error     chan error
	Exporter  Exporter
	ConcLimit int
	Log       *zap.SugaredLogger
}

func NewResultExporter(ctx context.Context, exporter Exporter, log *zap.SugaredLogger, errChan chan error) *ResultExporter {
	return &ResultExporter{
		Context:   ctx,
		In:        make(chan *FloodResult, 1),
		Out:       make(chan *FloodResult, 1),
		Error:     errChan,
		Exporter:  exporter,
		ConcLimit: DefaultExportConcLimit,
		Log:       log,
	}
}

func (p *ResultExporter) Run(export bool, verbose bool) {
	if verbose {
		defer p.Log.Infof("Result Exporter done")
	}
	defer close(p.Out)

	for res := range p.In {
		if export && p.Exporter != nil {
			if err := p.export(res, verbose); err != nil {
				p.Error <- err
				return
			}
		}
		p.Out <- res
	}
}

func (p *ResultExporter) export(res *FloodResult, verbose bool) error {
	cLimiter := NewConcLimiter(p.ConcLimit)
	var mu sync.Mutex
	var firstErr error

	for _, c := range Categories {
		grid, ok := res.Clipped[c]
		if !ok {
			continue
		}
		if err := cLimiter.Increase(p.Context); err != nil {
			cLimiter.Wait()
			return fmt.Errorf("Result exporter context has been cancel: %v", err)
		}
		go func(name string, grid *RasterGrid) {
			defer cLimiter.Decrease()
			err := p.Exporter.Export(p.Context, name, grid)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("export %s: %w", name, err)
				}
				mu.Unlock()
				return
			}
			if verbose {
				p.Log.Infof("Result Exporter: wrote %s", name)
			}
		}(c.ExportName(), grid)
	}
	cLimiter.Wait()
	return firstErr
}
