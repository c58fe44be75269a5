package processor

import (
	"fmt"
	"math"

	"github.com/nci/sarflood/utils"
)

// ClassifyFlood marks newly inundated cells: backscatter above the
// threshold before the event and below it after. Both comparisons are
// strict. A cell invalid in either epoch is invalid in the result.
func ClassifyFlood(before, after *RasterGrid, threshold float64) (*RasterGrid, error) {
	return classify("flood", before, after, threshold, func(b, a, t float64) bool {
		return b > t && a < t
	})
}

// ClassifyWater marks persistent water: backscatter below the threshold in
// both epochs.
func ClassifyWater(before, after *RasterGrid, threshold float64) (*RasterGrid, error) {
	return classify("water", before, after, threshold, func(b, a, t float64) bool {
		return b < t && a < t
	})
}

func classify(ns string, before, after *RasterGrid, t float64, rule func(b, a, t float64) bool) (*RasterGrid, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return nil, fmt.Errorf("%w: %s threshold %v", utils.ErrNonFiniteThreshold, ns, t)
	}
	if err := checkFrames(before, after); err != nil {
		return nil, err
	}
	out := NewEmptyLike(ns, before)
	for i := range before.Data {
		if !before.Valid[i] || !after.Valid[i] {
			continue
		}
		out.Valid[i] = true
		if rule(float64(before.Data[i]), float64(after.Data[i]), t) {
			out.Data[i] = 1
		}
	}
	return out, nil
}
