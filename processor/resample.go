package processor

import (
	"fmt"

	"github.com/nci/sarflood/utils"
)

// Resample aligns src onto the frame of dst by nearest neighbour. Cells of
// dst whose centre falls outside src are invalid. A grid already on the
// frame is returned unchanged.
func Resample(ns string, src, dst *RasterGrid) (*RasterGrid, error) {
	if !utils.SameCRS(src.CRS, dst.CRS) {
		return nil, fmt.Errorf("%w: cannot resample %s from %s to %s", utils.ErrGeometryMismatch, src.NameSpace, src.CRS, dst.CRS)
	}
	if src.SameFrame(dst) {
		return src, nil
	}
	out := NewEmptyLike(ns, dst)
	for row := 0; row < dst.Height; row++ {
		for col := 0; col < dst.Width; col++ {
			x, y := dst.PixelCenter(col, row)
			sc, sr, ok := src.CellOf(x, y)
			if !ok {
				continue
			}
			si := src.Index(sc, sr)
			if !src.Valid[si] {
				continue
			}
			i := out.Index(col, row)
			out.Data[i] = src.Data[si]
			out.Valid[i] = true
		}
	}
	return out, nil
}
