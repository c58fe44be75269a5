package main

/* floodmap maps flood extent from Sentinel-1 backscatter composites of a
   dry and a wet acquisition window, overlays the flood on cropland and
   building footprints, and reports the affected areas in hectares for
   an area of interest and one of its sub-regions.
   A run is described by a YAML or JSON config document. The same
   pipeline can be served over HTTP with the serve command. */

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nci/sarflood/metrics"
	proc "github.com/nci/sarflood/processor"
	"github.com/nci/sarflood/sources"
	"github.com/nci/sarflood/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh/terminal"
)

var (
	configFile  string
	verbose     bool
	outputJSON  bool
	templateDir string
)

var rootCmd = &cobra.Command{
	Use:   "floodmap",
	Short: "SAR change detection flood mapping",
	Long: `floodmap compares Sentinel-1 backscatter before and after a flood
event, derives the flood extent, and reports the flooded area, permanent
water, affected cropland and affected buildings in hectares for an area
of interest and a sub-region of it.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the flood pipeline described by the config file",
	RunE:  runFlood,
}

var checkConfCmd = &cobra.Command{
	Use:   "check-conf",
	Short: "Validate the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := utils.LoadConfigFile(configFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", configFile)
		return nil
	},
}

var dumpConfCmd = &cobra.Command{
	Use:   "dump-conf",
	Short: "Print the effective config, defaults included",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := utils.LoadConfigFile(configFile)
		if err != nil {
			return err
		}
		out, err := utils.DumpConfig(config)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [scene files...]",
	Short: "Build a scene catalogue from Sentinel-1 GeoTIFF exports",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCrawl,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "floodmap.yaml", "Config file.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose mode for more outputs.")

	runCmd.Flags().BoolVar(&outputJSON, "json", false, "Print the report as JSON even on a terminal.")
	runCmd.Flags().StringVar(&templateDir, "template_dir", "", "Directory holding "+utils.ReportTemplateName+".")

	rootCmd.AddCommand(runCmd, checkConfCmd, dumpConfCmd, crawlCmd, serveCmd)
}

// setup loads the config and builds the logger.
func setup() (*utils.Config, *zap.SugaredLogger, error) {
	config, err := utils.LoadConfigFile(configFile)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		config.Log.Verbose = true
		config.Log.Level = "debug"
	}
	log, err := utils.NewLogger(config.Log)
	if err != nil {
		return nil, nil, err
	}
	return config, log, nil
}

// newMetricsLogger writes run records to the metrics log directory when
// one is configured, otherwise through the process logger. The returned
// function flushes pending records.
func newMetricsLogger(config *utils.Config, log *zap.SugaredLogger) (metrics.Logger, func(), error) {
	if len(config.Log.MetricsLogDir) == 0 {
		return metrics.NewZapLogger(log), func() {}, nil
	}
	fl, err := metrics.NewFileLogger(config.ResolvePath(config.Log.MetricsLogDir), 0, 0, log)
	if err != nil {
		return nil, nil, err
	}
	return fl, fl.Close, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runFlood(cmd *cobra.Command, args []string) error {
	config, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	srcs, closer, err := sources.FromConfig(config, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	req, err := proc.BuildRequest(ctx, config, srcs.Boundaries)
	if err != nil {
		return err
	}

	metricsLogger, flush, err := newMetricsLogger(config, log)
	if err != nil {
		return err
	}
	defer flush()
	req.MetricsCollector = metrics.NewMetricsCollector(metricsLogger,
		metrics.WithPrometheus(metrics.NewPromMetrics(prometheus.NewRegistry())))

	res, err := proc.RunFloodPipeline(ctx, srcs, req, log, config.Log.Verbose)
	if err != nil {
		log.Errorf("Flood pipeline failed: %v", err)
		return err
	}
	return writeReport(cmd.OutOrStdout(), res.Report, !outputJSON && isTerminal(cmd.OutOrStdout()), templateDir)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && terminal.IsTerminal(int(f.Fd()))
}

// writeReport renders the report as text for a terminal and as JSON
// otherwise.
func writeReport(w io.Writer, report *proc.AreaReport, text bool, templateDir string) error {
	if text {
		return utils.RenderReport(w, templateDir, report)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	log, err := utils.NewLogger(utils.LogConfig{Level: "info"})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	var paths []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return err
		}
		paths = append(paths, matches...)
	}
	cat, err := sources.Crawl(ctx, paths, func(path string, err error) {
		log.Warnf("Crawl: skipping %s: %v", path, err)
	})
	if err != nil {
		return err
	}
	if verbose {
		if ext := cat.Extent(); ext != nil {
			log.Infof("Crawl: %d scenes within [%v %v %v %v]", len(cat.Scenes), ext.Min.X, ext.Min.Y, ext.Max.X, ext.Max.Y)
		}
	}
	out, err := sources.MarshalCatalogue(cat)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
