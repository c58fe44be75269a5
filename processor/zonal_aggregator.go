package processor

import (
	"fmt"
	"math"

	"github.com/nci/sarflood/utils"
	"gonum.org/v1/gonum/floats"
)

// MetresPerDegree is the length of one degree of arc on the equator of the
// WGS84 ellipsoid. It converts sampling scales to degrees for geographic
// grids.
const MetresPerDegree = 111319.49079327357

// AreaStatistic is the area of the set cells of a mask inside a polygon,
// in whole hectares. Samples is the number of lattice samples that
// contributed. When no sample contributes the statistic is 0; Empty tells
// that case apart from a measured area that rounds to 0.
type AreaStatistic struct {
	Hectares int64 `json:"hectares"`
	Samples  int   `json:"samples"`
}

func (a AreaStatistic) Empty() bool {
	return a.Samples == 0
}

// AggregateArea samples mask on a lattice of scale metres anchored at the
// CRS origin and sums the ground area of every sample that lands on a set
// cell inside poly. The sum is converted to hectares and rounded.
func AggregateArea(mask *RasterGrid, poly *utils.Polygon, scale float64) (AreaStatistic, error) {
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return AreaStatistic{}, fmt.Errorf("%w: %v", utils.ErrInvalidScale, scale)
	}
	if !utils.SameCRS(mask.CRS, poly.CRS) {
		return AreaStatistic{}, fmt.Errorf("%w: polygon %q is in %s, grid %s is in %s", utils.ErrGeometryMismatch, poly.Name, poly.CRS, mask.NameSpace, mask.CRS)
	}

	geographic := utils.IsGeographic(mask.CRS)
	step := scale
	if geographic {
		step = scale / MetresPerDegree
	}

	b := poly.Bounds()
	gb := mask.Bounds()
	minX, maxX := math.Max(b.Min.X, gb.Min.X), math.Min(b.Max.X, gb.Max.X)
	minY, maxY := math.Max(b.Min.Y, gb.Min.Y), math.Min(b.Max.Y, gb.Max.Y)
	if minX >= maxX || minY >= maxY {
		return AreaStatistic{}, nil
	}

	// Sample k sits at the centre of lattice cell [k*step, (k+1)*step).
	k0x, k1x := int64(math.Floor(minX/step)), int64(math.Ceil(maxX/step))
	k0y, k1y := int64(math.Floor(minY/step)), int64(math.Ceil(maxY/step))

	var rowSums []float64
	samples := 0
	for ky := k0y; ky < k1y; ky++ {
		y := (float64(ky) + 0.5) * step
		cellArea := step * step
		if geographic {
			cellArea = sphericalCellArea(y, step)
		}
		n := 0
		for kx := k0x; kx < k1x; kx++ {
			x := (float64(kx) + 0.5) * step
			col, row, ok := mask.CellOf(x, y)
			if !ok || !mask.IsSet(mask.Index(col, row)) {
				continue
			}
			if !poly.Contains(x, y) {
				continue
			}
			n++
		}
		if n > 0 {
			rowSums = append(rowSums, float64(n)*cellArea)
			samples += n
		}
	}
	if samples == 0 {
		return AreaStatistic{}, nil
	}
	return AreaStatistic{
		Hectares: int64(math.Round(floats.Sum(rowSums) / 10000)),
		Samples:  samples,
	}, nil
}

// sphericalCellArea is the area in square metres of a step x step degree
// cell centred on latitude lat.
func sphericalCellArea(lat, step float64) float64 {
	const r = utils.AuthalicRadius
	lat0 := math.Max(lat-step/2, -90) * math.Pi / 180
	lat1 := math.Min(lat+step/2, 90) * math.Pi / 180
	return r * r * (step * math.Pi / 180) * math.Abs(math.Sin(lat1)-math.Sin(lat0))
}

// PolygonHectares is the area of poly in whole hectares. Geographic
// polygons are measured on the sphere.
func PolygonHectares(poly *utils.Polygon) int64 {
	var m2 float64
	if utils.IsGeographic(poly.CRS) {
		m2 = poly.GeodesicArea()
	} else {
		m2 = math.Abs(poly.Geom.Area())
	}
	return int64(math.Round(m2 / 10000))
}
