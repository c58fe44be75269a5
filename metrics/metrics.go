package metrics

import (
	"bytes"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type StageInfo struct {
	Duration    time.Duration `json:"duration"`
	ValidPixels int           `json:"valid_pixels"`
	SetPixels   int           `json:"set_pixels"`
}

// RunInfo is the record emitted once per pipeline run.
type RunInfo struct {
	RunID       string                `json:"run_id"`
	ReqTime     string                `json:"req_time"`
	ReqDuration time.Duration         `json:"req_duration"`
	AOI         string                `json:"aoi"`
	SubRegion   string                `json:"sub_region"`
	AOIArea     float64               `json:"aoi_area"`
	Width       int                   `json:"width"`
	Height      int                   `json:"height"`
	Stages      map[string]*StageInfo `json:"stages"`
	Areas       map[string]int64      `json:"areas"`
	RemoteAddr  string                `json:"remote_addr,omitempty"`
	RemoteHost  string                `json:"remote_host,omitempty"`
	RemotePort  string                `json:"remote_port,omitempty"`
	HTTPStatus  int                   `json:"http_status,omitempty"`
	CacheHit    bool                  `json:"cache_hit,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// MetricsCollector accumulates the RunInfo of one run. Stages of parallel
// branches report concurrently, so every update goes through the mutex.
type MetricsCollector struct {
	Info   *RunInfo
	logger Logger
	prom   *PromMetrics
	clock  clockwork.Clock
	start  time.Time
	mu     sync.Mutex
}

type CollectorOption func(*MetricsCollector)

func WithClock(clock clockwork.Clock) CollectorOption {
	return func(m *MetricsCollector) { m.clock = clock }
}

func WithPrometheus(p *PromMetrics) CollectorOption {
	return func(m *MetricsCollector) { m.prom = p }
}

func NewMetricsCollector(logger Logger, opts ...CollectorOption) *MetricsCollector {
	m := &MetricsCollector{
		Info: &RunInfo{
			Stages: map[string]*StageInfo{},
			Areas:  map[string]int64{},
		},
		logger: logger,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.start = m.clock.Now()
	m.Info.ReqTime = m.start.UTC().Format(time.RFC3339)
	return m
}

func (m *MetricsCollector) stage(name string) *StageInfo {
	s, ok := m.Info.Stages[name]
	if !ok {
		s = &StageInfo{}
		m.Info.Stages[name] = s
	}
	return s
}

// StartStage starts timing a stage; the returned func stops it. A nil
// collector is allowed so stages can run without metrics.
func (m *MetricsCollector) StartStage(name string) func() {
	if m == nil {
		return func() {}
	}
	t0 := m.clock.Now()
	return func() {
		d := m.clock.Since(t0)
		m.mu.Lock()
		m.stage(name).Duration += d
		m.mu.Unlock()
		if m.prom != nil {
			m.prom.StageDuration.WithLabelValues(name).Observe(d.Seconds())
		}
	}
}

func (m *MetricsCollector) RecordPixels(name string, valid, set int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stage(name)
	s.ValidPixels = valid
	s.SetPixels = set
}

func (m *MetricsCollector) RecordArea(category, zone string, hectares int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.Info.Areas[category+"_"+zone] = hectares
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.AreaHectares.WithLabelValues(category, zone).Set(float64(hectares))
	}
}

func (m *MetricsCollector) SetRemoteAddr(addr string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Info.RemoteAddr = addr
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		m.Info.RemoteHost = host
		m.Info.RemotePort = port
	} else {
		m.Info.RemoteHost = addr
	}
}

// Log finalises the run duration and hands the record to the logger.
func (m *MetricsCollector) Log(runErr error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.Info.ReqDuration = m.clock.Since(m.start)
	outcome := "success"
	if runErr != nil {
		m.Info.Error = runErr.Error()
		outcome = "error"
	}
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.Runs.WithLabelValues(outcome).Inc()
	}
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *RunInfo) ToJSON() (string, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(i); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SetCacheHit records the outcome of a report cache lookup.
func (m *MetricsCollector) SetCacheHit(hit bool, status int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.Info.CacheHit = hit
	m.Info.HTTPStatus = status
	m.mu.Unlock()
	if m.prom != nil {
		result := "miss"
		if hit {
			result = "hit"
		}
		m.prom.CacheLookups.WithLabelValues(result).Inc()
	}
}
