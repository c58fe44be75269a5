package processor

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/nci/sarflood/utils"
	"golang.org/x/sync/errgroup"
)

const (
	KernelCircle = "circle"
	KernelSquare = "square"
)

// Kernel is a focal neighbourhood in pixel units. A circle of radius r
// holds the offsets with dx²+dy² <= (r+0.5)², so radius 1 covers the
// whole 3x3 block.
type Kernel struct {
	Shape  string
	Radius int
}

func KernelFromConfig(k utils.KernelConfig) Kernel {
	return Kernel{Shape: k.Shape, Radius: k.Radius}
}

func (k Kernel) Validate() error {
	if k.Shape != KernelCircle && k.Shape != KernelSquare {
		return fmt.Errorf("%w: shape %q", utils.ErrInvalidKernel, k.Shape)
	}
	if k.Radius < 0 {
		return fmt.Errorf("%w: radius %d", utils.ErrInvalidKernel, k.Radius)
	}
	return nil
}

// Offsets lists the (dx, dy) pairs covered by the kernel, centre
// included.
func (k Kernel) Offsets() [][2]int {
	r := k.Radius
	lim := (float64(r) + 0.5) * (float64(r) + 0.5)
	var offs [][2]int
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if k.Shape == KernelCircle && float64(dx*dx+dy*dy) > lim {
				continue
			}
			offs = append(offs, [2]int{dx, dy})
		}
	}
	return offs
}

// focalRows runs fn over every row of g with a bounded number of
// goroutines. fn owns the output row it writes.
func focalRows(ctx context.Context, height, workers int, fn func(row int)) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for row := 0; row < height; row++ {
		row := row
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(row)
			return nil
		})
	}
	return eg.Wait()
}

// Denoise replaces every valid cell with the median of the valid
// in-bounds cells of its neighbourhood. Invalid cells stay invalid: only
// dilation may grow the validity mask.
func Denoise(ctx context.Context, g *RasterGrid, k Kernel, workers int) (*RasterGrid, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	offs := k.Offsets()
	out := NewEmptyLike(g.NameSpace, g)
	err := focalRows(ctx, g.Height, workers, func(row int) {
		buf := make([]float64, 0, len(offs))
		for col := 0; col < g.Width; col++ {
			i := g.Index(col, row)
			if !g.Valid[i] {
				continue
			}
			buf = buf[:0]
			for _, o := range offs {
				if v, ok := g.At(col+o[0], row+o[1]); ok {
					buf = append(buf, float64(v))
				}
			}
			out.Data[i] = float32(median(buf))
			out.Valid[i] = true
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// median sorts vals in place. An even count averages the two middle
// values.
func median(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// Dilate replaces every cell with the maximum of the valid in-bounds
// cells of its neighbourhood. An invalid cell next to a set cell becomes
// valid and set, which closes small gaps in a mask.
func Dilate(ctx context.Context, m *RasterGrid, k Kernel, workers int) (*RasterGrid, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	offs := k.Offsets()
	out := NewEmptyLike(m.NameSpace, m)
	err := focalRows(ctx, m.Height, workers, func(row int) {
		for col := 0; col < m.Width; col++ {
			found := false
			var best float32
			for _, o := range offs {
				v, ok := m.At(col+o[0], row+o[1])
				if !ok {
					continue
				}
				if !found || v > best {
					best = v
					found = true
				}
			}
			if !found {
				continue
			}
			i := out.Index(col, row)
			out.Data[i] = best
			out.Valid[i] = true
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
