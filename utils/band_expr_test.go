package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBandExpression(t *testing.T) {
	expr, err := ParseBandExpression("10 * log10(VH)")
	require.NoError(t, err)
	assert.Equal(t, []string{"VH"}, expr.VarList)

	val, ok, err := expr.Evaluate(map[string]float64{"VH": 0.01})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, -20, val, 1e-4)

	_, ok, err = expr.Evaluate(map[string]float64{"VH": 0})
	require.NoError(t, err)
	assert.False(t, ok)

	expr, err = ParseBandExpression("VH - VV + VH")
	require.NoError(t, err)
	assert.Equal(t, []string{"VH", "VV"}, expr.VarList)

	_, err = ParseBandExpression("10 * (")
	assert.Error(t, err)
	_, err = ParseBandExpression("3 + 4")
	assert.Error(t, err)
}

func TestCacheKey(t *testing.T) {
	a := CacheKey([]byte("etc"), []byte(`{"x":1}`))
	assert.Len(t, a, 32)
	assert.Equal(t, a, CacheKey([]byte("etc"), []byte(`{"x":1}`)))
	// Part boundaries matter.
	assert.NotEqual(t, a, CacheKey([]byte("et"), []byte(`c{"x":1}`)))

	var cache *ReportCache
	assert.Nil(t, NewReportCache(""))
	cache.Put(a, []byte("report"))
	_, ok := cache.Get(a)
	assert.False(t, ok)
}

type reportData struct {
	RunID             string
	Before, After     string
	AOIName           string
	SubRegionName     string
	AOIHectares       int64
	SubRegionHectares int64
}

func TestRenderReport(t *testing.T) {
	dir := t.TempDir()
	data := &reportData{RunID: "r1", AOIName: "Borno", AOIHectares: 42}

	require.NoError(t, os.WriteFile(filepath.Join(dir, ReportTemplateName), []byte("{{ .AOIName }}: {{ .AOIHectares }} ha"), 0644))
	var buf bytes.Buffer
	require.NoError(t, RenderReport(&buf, dir, data))
	assert.Equal(t, "Borno: 42 ha", buf.String())

	var bad bytes.Buffer
	require.NoError(t, os.WriteFile(filepath.Join(dir, ReportTemplateName), []byte("{{ .AOIName "), 0644))
	assert.Error(t, RenderReport(&bad, dir, data))
}
