package processor

import (
	"testing"

	"github.com/nci/sarflood/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBandExpressionDecibels(t *testing.T) {
	expr, err := utils.ParseBandExpression("10 * log10(VH)")
	require.NoError(t, err)

	vh, err := NewRasterGrid("VH", 4, 1, utmFrame, utm33N, []float32{0.1, 0.01, 0, 1}, []bool{true, true, true, false})
	require.NoError(t, err)

	db, err := ApplyBandExpression("db", expr, map[string]*RasterGrid{"VH": vh})
	require.NoError(t, err)
	assert.InDelta(t, -10, db.Data[0], 1e-4)
	assert.InDelta(t, -20, db.Data[1], 1e-4)
	// log10(0) is not finite.
	assert.False(t, db.Valid[2])
	assert.False(t, db.Valid[3])
}

func TestApplyBandExpressionRatio(t *testing.T) {
	expr, err := utils.ParseBandExpression("VH - VV")
	require.NoError(t, err)

	vh := newGrid(t, "VH", 2, 2, utmFrame, utm33N, -18)
	vv := newGrid(t, "VV", 2, 2, utmFrame, utm33N, -12)
	out, err := ApplyBandExpression("ratio", expr, map[string]*RasterGrid{"VH": vh, "VV": vv})
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, -6, v, 1e-6)
	}

	_, err = ApplyBandExpression("ratio", expr, map[string]*RasterGrid{"VH": vh})
	assert.Error(t, err)

	vvSmall := newGrid(t, "VV", 1, 2, utmFrame, utm33N, -12)
	_, err = ApplyBandExpression("ratio", expr, map[string]*RasterGrid{"VH": vh, "VV": vvSmall})
	assert.ErrorIs(t, err, utils.ErrShapeMismatch)
}
