package processor

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/nci/sarflood/utils"
)

// RasterGrid is an in-memory sampled field with a per-cell validity layer.
// GeoTransform follows the GDAL convention:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
//
// Grids are treated as immutable once produced; every stage returns a new
// grid.
type RasterGrid struct {
	NameSpace    string
	Data         []float32
	Valid        []bool
	Width        int
	Height       int
	GeoTransform [6]float64
	CRS          string
}

// NewRasterGrid wraps data and valid. A nil valid slice marks every cell
// valid; a nil data slice allocates zeros.
func NewRasterGrid(ns string, width, height int, geot [6]float64, crs string, data []float32, valid []bool) (*RasterGrid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %s has size %dx%d", utils.ErrShapeMismatch, ns, width, height)
	}
	n := width * height
	if data == nil {
		data = make([]float32, n)
	}
	if valid == nil {
		valid = make([]bool, n)
		for i := range valid {
			valid[i] = true
		}
	}
	if len(data) != n || len(valid) != n {
		return nil, fmt.Errorf("%w: %s is %dx%d but has %d values and %d validity flags", utils.ErrShapeMismatch, ns, width, height, len(data), len(valid))
	}
	if geot[1] == 0 || geot[5] == 0 {
		return nil, fmt.Errorf("%w: %s has a degenerate geotransform %v", utils.ErrShapeMismatch, ns, geot)
	}
	return &RasterGrid{
		NameSpace:    ns,
		Data:         data,
		Valid:        valid,
		Width:        width,
		Height:       height,
		GeoTransform: geot,
		CRS:          utils.NormaliseCRS(crs),
	}, nil
}

// NewEmptyLike allocates an all-invalid grid on the frame of g.
func NewEmptyLike(ns string, g *RasterGrid) *RasterGrid {
	n := g.Width * g.Height
	return &RasterGrid{
		NameSpace:    ns,
		Data:         make([]float32, n),
		Valid:        make([]bool, n),
		Width:        g.Width,
		Height:       g.Height,
		GeoTransform: g.GeoTransform,
		CRS:          g.CRS,
	}
}

func (g *RasterGrid) Clone(ns string) *RasterGrid {
	out := NewEmptyLike(ns, g)
	copy(out.Data, g.Data)
	copy(out.Valid, g.Valid)
	return out
}

func (g *RasterGrid) Index(col, row int) int {
	return row*g.Width + col
}

func (g *RasterGrid) InBounds(col, row int) bool {
	return col >= 0 && col < g.Width && row >= 0 && row < g.Height
}

// At returns the value at (col, row) and whether it is valid. Out of
// bounds cells are reported invalid.
func (g *RasterGrid) At(col, row int) (float32, bool) {
	if !g.InBounds(col, row) {
		return 0, false
	}
	i := g.Index(col, row)
	return g.Data[i], g.Valid[i]
}

func (g *RasterGrid) IsValid(i int) bool {
	return g.Valid[i]
}

// IsSet reports whether cell i is a valid positive mask cell.
func (g *RasterGrid) IsSet(i int) bool {
	return g.Valid[i] && g.Data[i] > 0
}

// PixelCenter returns the CRS coordinates of the centre of (col, row).
func (g *RasterGrid) PixelCenter(col, row int) (float64, float64) {
	c, r := float64(col)+0.5, float64(row)+0.5
	gt := g.GeoTransform
	return gt[0] + c*gt[1] + r*gt[2], gt[3] + c*gt[4] + r*gt[5]
}

// CellOf returns the cell containing (x, y). ok is false outside the
// grid.
func (g *RasterGrid) CellOf(x, y float64) (col, row int, ok bool) {
	gt := g.GeoTransform
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 {
		return 0, 0, false
	}
	dx, dy := x-gt[0], y-gt[3]
	fc := (gt[5]*dx - gt[2]*dy) / det
	fr := (gt[1]*dy - gt[4]*dx) / det
	col, row = int(math.Floor(fc)), int(math.Floor(fr))
	return col, row, g.InBounds(col, row)
}

// SameFrame reports whether both grids share shape, geotransform and CRS,
// so cell i of one covers the same ground as cell i of the other.
func (g *RasterGrid) SameFrame(o *RasterGrid) bool {
	if g.Width != o.Width || g.Height != o.Height || !utils.SameCRS(g.CRS, o.CRS) {
		return false
	}
	for i := range g.GeoTransform {
		if math.Abs(g.GeoTransform[i]-o.GeoTransform[i]) > 1e-9*math.Max(1, math.Abs(g.GeoTransform[i])) {
			return false
		}
	}
	return true
}

func checkFrames(grids ...*RasterGrid) error {
	for _, g := range grids[1:] {
		if !utils.SameCRS(grids[0].CRS, g.CRS) {
			return fmt.Errorf("%w: %s is in %s, %s is in %s", utils.ErrGeometryMismatch, grids[0].NameSpace, grids[0].CRS, g.NameSpace, g.CRS)
		}
		if !grids[0].SameFrame(g) {
			return fmt.Errorf("%w: %s (%dx%d) and %s (%dx%d)", utils.ErrShapeMismatch, grids[0].NameSpace, grids[0].Width, grids[0].Height, g.NameSpace, g.Width, g.Height)
		}
	}
	return nil
}

func (g *RasterGrid) ValidCount() int {
	n := 0
	for _, v := range g.Valid {
		if v {
			n++
		}
	}
	return n
}

func (g *RasterGrid) SetCount() int {
	n := 0
	for i := range g.Data {
		if g.IsSet(i) {
			n++
		}
	}
	return n
}

// Bounds returns the extent of the whole grid in CRS units.
func (g *RasterGrid) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	for _, c := range [][2]int{{0, 0}, {g.Width, 0}, {0, g.Height}, {g.Width, g.Height}} {
		gt := g.GeoTransform
		x := gt[0] + float64(c[0])*gt[1] + float64(c[1])*gt[2]
		y := gt[3] + float64(c[0])*gt[4] + float64(c[1])*gt[5]
		b.Extend(geom.Point{X: x, Y: y}.Bounds())
	}
	return b
}

// SetBounds returns the extent of the set cells, or nil when no cell is
// set.
func (g *RasterGrid) SetBounds() *geom.Bounds {
	return g.cellBounds(g.IsSet)
}

// ValidBounds returns the extent of the valid cells, or nil when no cell
// is valid.
func (g *RasterGrid) ValidBounds() *geom.Bounds {
	return g.cellBounds(g.IsValid)
}

func (g *RasterGrid) cellBounds(keep func(i int) bool) *geom.Bounds {
	var b *geom.Bounds
	dx, dy := math.Abs(g.GeoTransform[1])/2, math.Abs(g.GeoTransform[5])/2
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			if !keep(g.Index(col, row)) {
				continue
			}
			x, y := g.PixelCenter(col, row)
			cb := &geom.Bounds{Min: geom.Point{X: x - dx, Y: y - dy}, Max: geom.Point{X: x + dx, Y: y + dy}}
			if b == nil {
				b = cb
			} else {
				b.Extend(cb)
			}
		}
	}
	return b
}

// SelfMask invalidates every cell that is not set, leaving a mask whose
// valid cells are all 1.
func SelfMask(ns string, m *RasterGrid) *RasterGrid {
	out := NewEmptyLike(ns, m)
	for i := range m.Data {
		if m.IsSet(i) {
			out.Data[i] = 1
			out.Valid[i] = true
		}
	}
	return out
}
