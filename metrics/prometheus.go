package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics holds the Prometheus series exported by the flood service.
type PromMetrics struct {
	Runs          *prometheus.CounterVec   // labels: outcome={success,error}
	StageDuration *prometheus.HistogramVec // labels: stage
	AreaHectares  *prometheus.GaugeVec     // labels: category, zone={aoi,sub_region}
	CacheLookups  *prometheus.CounterVec   // labels: result={hit,miss}
}

func newPromMetrics() *PromMetrics {
	return &PromMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sarflood",
			Name:      "runs_total",
			Help:      "Flood mapping runs by outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sarflood",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"stage"}),
		AreaHectares: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sarflood",
			Name:      "last_area_hectares",
			Help:      "Area statistic of the last successful run.",
		}, []string{"category", "zone"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sarflood",
			Name:      "report_cache_total",
			Help:      "Report cache lookups by result.",
		}, []string{"result"}),
	}
}

// NewPromMetrics creates the series and registers them with reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := newPromMetrics()
	reg.MustRegister(m.Runs, m.StageDuration, m.AreaHectares, m.CacheLookups)
	return m
}

// NewPromMetricsForTesting returns unregistered series so tests can create
// as many as they like.
func NewPromMetricsForTesting() *PromMetrics {
	return newPromMetrics()
}
