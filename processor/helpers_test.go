package processor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/nci/sarflood/utils"
	"github.com/stretchr/testify/require"
)

const utm33N = "EPSG:32633"

// utmFrame is a grid of 100 m pixels whose top left corner sits on a
// multiple of every sampling scale used in the tests.
var utmFrame = [6]float64{500000, 100, 0, 1000000, 0, -100}

func newGrid(t *testing.T, ns string, w, h int, geot [6]float64, crs string, fill float32) *RasterGrid {
	t.Helper()
	data := make([]float32, w*h)
	for i := range data {
		data[i] = fill
	}
	g, err := NewRasterGrid(ns, w, h, geot, crs, data, nil)
	require.NoError(t, err)
	return g
}

// maskFromRows builds a mask from rows of '1', '0' and '.' (invalid).
func maskFromRows(t *testing.T, ns string, geot [6]float64, crs string, rows ...string) *RasterGrid {
	t.Helper()
	h, w := len(rows), len(rows[0])
	data := make([]float32, w*h)
	valid := make([]bool, w*h)
	for r, row := range rows {
		require.Len(t, row, w)
		for c, ch := range row {
			i := r*w + c
			switch ch {
			case '1':
				data[i], valid[i] = 1, true
			case '0':
				valid[i] = true
			}
		}
	}
	g, err := NewRasterGrid(ns, w, h, geot, crs, data, valid)
	require.NoError(t, err)
	return g
}

func rect(t *testing.T, name, crs string, x0, y0, x1, y1 float64) *utils.Polygon {
	t.Helper()
	p, err := utils.NewPolygon(name, crs, [][2]float64{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}})
	require.NoError(t, err)
	return p
}

type fakeImagery struct {
	byPeriod map[string]*RasterGrid
	err      error
}

func (f *fakeImagery) Composite(ctx context.Context, aoi *utils.Polygon, period utils.TimeRange, band string) (*RasterGrid, error) {
	if f.err != nil {
		return nil, f.err
	}
	g, ok := f.byPeriod[period.Start]
	if !ok {
		return nil, fmt.Errorf("no scene for %s", period.Start)
	}
	return g.Clone(band), nil
}

type fakeLandCover struct {
	grid *RasterGrid
}

func (f *fakeLandCover) LandCover(ctx context.Context, aoi *utils.Polygon, frame *RasterGrid) (*RasterGrid, error) {
	return f.grid, nil
}

type fakeFootprints struct {
	footprints []*utils.Polygon
}

func (f *fakeFootprints) Footprints(ctx context.Context, aoi *utils.Polygon) ([]*utils.Polygon, error) {
	return f.footprints, nil
}

type fakeExporter struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakeExporter) Export(ctx context.Context, name string, grid *RasterGrid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.names = append(f.names, name)
	return nil
}

type fakeBoundaries struct {
	polygons map[string]*utils.Polygon
}

func (f *fakeBoundaries) Boundary(ctx context.Context, name string) (*utils.Polygon, error) {
	p, ok := f.polygons[name]
	if !ok {
		return nil, fmt.Errorf("boundary %q not found", name)
	}
	return p, nil
}
