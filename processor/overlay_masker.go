package processor

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/nci/sarflood/utils"
)

// Intersect keeps the cells that are set in both primary and aux. Every
// other cell is invalid.
func Intersect(ns string, primary, aux *RasterGrid) (*RasterGrid, error) {
	if err := checkFrames(primary, aux); err != nil {
		return nil, err
	}
	out := NewEmptyLike(ns, primary)
	for i := range primary.Data {
		if primary.IsSet(i) && aux.IsSet(i) {
			out.Data[i] = 1
			out.Valid[i] = true
		}
	}
	return out, nil
}

// ClassMask selects one class of a categorical grid, e.g. cropland in a
// land cover layer, as a self-masked mask.
func ClassMask(ns string, landCover *RasterGrid, class int) *RasterGrid {
	out := NewEmptyLike(ns, landCover)
	for i, v := range landCover.Data {
		if landCover.Valid[i] && int(math.Round(float64(v))) == class {
			out.Data[i] = 1
			out.Valid[i] = true
		}
	}
	return out
}

// ClipToPolygon invalidates the cells whose centre falls outside poly.
func ClipToPolygon(ns string, g *RasterGrid, poly *utils.Polygon) (*RasterGrid, error) {
	if !utils.SameCRS(g.CRS, poly.CRS) {
		return nil, fmt.Errorf("%w: polygon %q is in %s, grid %s is in %s", utils.ErrGeometryMismatch, poly.Name, poly.CRS, g.NameSpace, g.CRS)
	}
	out := NewEmptyLike(ns, g)
	pb := poly.Bounds()
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			i := g.Index(col, row)
			if !g.Valid[i] {
				continue
			}
			x, y := g.PixelCenter(col, row)
			if x < pb.Min.X || x > pb.Max.X || y < pb.Min.Y || y > pb.Max.Y {
				continue
			}
			if poly.Contains(x, y) {
				out.Data[i] = g.Data[i]
				out.Valid[i] = true
			}
		}
	}
	return out, nil
}

type footprint struct {
	geom.MultiPolygon
}

// FootprintIndex is an R-tree over building footprints.
type FootprintIndex struct {
	CRS   string
	tree  *rtree.Rtree
	Count int
}

// NewFootprintIndex indexes footprints that all share one CRS.
func NewFootprintIndex(crs string, footprints []*utils.Polygon) (*FootprintIndex, error) {
	idx := &FootprintIndex{CRS: utils.NormaliseCRS(crs), tree: rtree.NewTree(25, 50)}
	for _, fp := range footprints {
		if !utils.SameCRS(fp.CRS, crs) {
			return nil, fmt.Errorf("%w: footprint %q is in %s, expecting %s", utils.ErrGeometryMismatch, fp.Name, fp.CRS, crs)
		}
		idx.tree.Insert(&footprint{fp.Geom})
		idx.Count++
	}
	return idx, nil
}

// Search returns the footprints whose bounds intersect b.
func (idx *FootprintIndex) Search(b *geom.Bounds) []geom.MultiPolygon {
	var out []geom.MultiPolygon
	for _, item := range idx.tree.SearchIntersect(b) {
		if fp, ok := item.(*footprint); ok {
			out = append(out, fp.MultiPolygon)
		}
	}
	return out
}

// RasterizeFootprints paints a presence grid on the frame of within. Only
// footprints intersecting the extent of the set cells of within are
// painted. A cell is 1 when its centre lies in a footprint; footprints too
// small to cover any centre paint the cell holding their bounds centre.
// Every other cell is a valid 0.
func RasterizeFootprints(ns string, idx *FootprintIndex, within *RasterGrid) (*RasterGrid, error) {
	if !utils.SameCRS(idx.CRS, within.CRS) {
		return nil, fmt.Errorf("%w: footprints are in %s, grid %s is in %s", utils.ErrGeometryMismatch, idx.CRS, within.NameSpace, within.CRS)
	}
	out := NewEmptyLike(ns, within)
	for i := range out.Valid {
		out.Valid[i] = true
	}
	sb := within.SetBounds()
	if sb == nil {
		return out, nil
	}

	for _, fp := range idx.Search(sb) {
		fb := fp.Bounds()
		c0, r0, c1, r1 := cellWindow(within, fb)
		painted := false
		for row := r0; row <= r1; row++ {
			for col := c0; col <= c1; col++ {
				x, y := within.PixelCenter(col, row)
				if (geom.Point{X: x, Y: y}).Within(fp) != geom.Outside {
					out.Data[out.Index(col, row)] = 1
					painted = true
				}
			}
		}
		if !painted {
			cx, cy := (fb.Min.X+fb.Max.X)/2, (fb.Min.Y+fb.Max.Y)/2
			if col, row, ok := within.CellOf(cx, cy); ok {
				out.Data[out.Index(col, row)] = 1
			}
		}
	}
	return out, nil
}

// cellWindow returns the inclusive range of cells overlapping b, clamped
// to the grid.
func cellWindow(g *RasterGrid, b *geom.Bounds) (c0, r0, c1, r1 int) {
	c0, r0 = g.Width, g.Height
	c1, r1 = -1, -1
	for _, p := range [][2]float64{{b.Min.X, b.Min.Y}, {b.Min.X, b.Max.Y}, {b.Max.X, b.Min.Y}, {b.Max.X, b.Max.Y}} {
		col, row, _ := g.CellOf(p[0], p[1])
		c0, c1 = minInt(c0, col), maxInt(c1, col)
		r0, r1 = minInt(r0, row), maxInt(r1, row)
	}
	return maxInt(c0, 0), maxInt(r0, 0), minInt(c1, g.Width-1), minInt(r1, g.Height-1)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
