package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/sarflood/metrics"
	proc "github.com/nci/sarflood/processor"
	"github.com/nci/sarflood/sources"
	"github.com/nci/sarflood/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

const maxRequestBody = 4 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve flood reports over HTTP",
	Long: `serve answers POST /flood with the JSON area report of a run. The
request body is a partial config document applied over the config file,
typically new time windows or a new area of interest. The config file is
reloaded on SIGHUP.`,
	RunE: runServe,
}

type floodServer struct {
	store   *utils.ConfigStore
	cache   *utils.ReportCache
	prom    *metrics.PromMetrics
	metrics metrics.Logger
	log     *zap.SugaredLogger
	verbose bool
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := utils.NewConfigStore(configFile)
	if err != nil {
		return err
	}
	config := store.Get()
	if verbose {
		config.Log.Verbose = true
		config.Log.Level = "debug"
	}
	log, err := utils.NewLogger(config.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	utils.WatchConfig(log, store)

	metricsLogger, flush, err := newMetricsLogger(config, log)
	if err != nil {
		return err
	}
	defer flush()

	fs := &floodServer{
		store:   store,
		cache:   utils.NewReportCache(config.Service.MemcacheURI),
		prom:    metrics.NewPromMetrics(prometheus.DefaultRegisterer),
		metrics: metricsLogger,
		log:     log,
		verbose: config.Log.Verbose,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/flood", fs.floodHandler)
	mux.Handle("/metrics", promhttp.Handler())

	lis, err := reuseport.Listen("tcp", config.Service.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", config.Service.ListenAddr, err)
	}
	if config.Service.MaxConns > 0 {
		lis = netutil.LimitListener(lis, config.Service.MaxConns)
	}

	srv := &http.Server{Handler: mux}
	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("floodmap is ready on %s", config.Service.ListenAddr)
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// requestConfig applies the JSON document body over a copy of base.
func requestConfig(base *utils.Config, body []byte) (*utils.Config, error) {
	raw, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	config := &utils.Config{}
	if err := json.Unmarshal(raw, config); err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, config); err != nil {
			return nil, fmt.Errorf("malformed request: %v", err)
		}
	}
	config.BaseDir = base.BaseDir
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (fs *floodServer) floodHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "POST a config document to /flood", http.StatusMethodNotAllowed)
		return
	}
	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	config, err := requestConfig(fs.store.Get(), body)
	if err != nil {
		fs.log.Infof("Rejected flood request from %s: %v", r.RemoteAddr, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	collector := metrics.NewMetricsCollector(fs.metrics, metrics.WithPrometheus(fs.prom))
	collector.SetRemoteAddr(r.RemoteAddr)

	effective, err := json.Marshal(config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	key := utils.CacheKey([]byte(config.BaseDir), effective)
	if cached, ok := fs.cache.Get(key); ok {
		collector.SetCacheHit(true, http.StatusOK)
		collector.Log(nil)
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}
	if fs.cache != nil {
		collector.SetCacheHit(false, 0)
	}

	report, status, err := fs.runFlood(r.Context(), config, collector)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	out, err := json.Marshal(report)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fs.cache.Put(key, out)
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

// runFlood returns the report, or the HTTP status matching the failure.
func (fs *floodServer) runFlood(ctx context.Context, config *utils.Config, collector *metrics.MetricsCollector) (*proc.AreaReport, int, error) {
	srcs, closer, err := sources.FromConfig(config, fs.log)
	if err != nil {
		fs.log.Errorf("Flood sources: %v", err)
		return nil, http.StatusInternalServerError, err
	}
	defer closer.Close()

	req, err := proc.BuildRequest(ctx, config, srcs.Boundaries)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	req.MetricsCollector = collector

	res, err := proc.RunFloodPipeline(ctx, srcs, req, fs.log, fs.verbose)
	if err != nil {
		fs.log.Errorf("Flood pipeline %s failed: %v", req.RunID, err)
		return nil, http.StatusInternalServerError, err
	}
	return res.Report, http.StatusOK, nil
}
