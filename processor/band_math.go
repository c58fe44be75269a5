package processor

import (
	"fmt"

	"github.com/nci/sarflood/utils"
)

// ApplyBandExpression evaluates expr cell by cell over the named band
// grids. A cell is invalid when any referenced band is invalid there or
// when the result is not finite, e.g. log10 of a zero power value.
func ApplyBandExpression(ns string, expr *utils.BandExpression, bands map[string]*RasterGrid) (*RasterGrid, error) {
	var ref *RasterGrid
	grids := make([]*RasterGrid, 0, len(expr.VarList))
	for _, v := range expr.VarList {
		g, ok := bands[v]
		if !ok {
			return nil, fmt.Errorf("band expression %q: band %s not loaded", expr.Text, v)
		}
		if ref == nil {
			ref = g
		}
		grids = append(grids, g)
	}
	if err := checkFrames(grids...); err != nil {
		return nil, err
	}

	out := NewEmptyLike(ns, ref)
	values := make(map[string]float64, len(grids))
	for i := range out.Data {
		valid := true
		for iv, g := range grids {
			if !g.Valid[i] {
				valid = false
				break
			}
			values[expr.VarList[iv]] = float64(g.Data[i])
		}
		if !valid {
			continue
		}
		val, ok, err := expr.Evaluate(values)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Data[i] = float32(val)
			out.Valid[i] = true
		}
	}
	return out, nil
}
