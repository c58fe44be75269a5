package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// DateFormat is the layout of the time window bounds in config files.
const DateFormat = "2006-01-02"

// ISOFormat is used when a time window bound carries a time of day.
const ISOFormat = "2006-01-02T15:04:05.000Z"

// TimeRange is a half-open acquisition window [Start, End).
type TimeRange struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

func parseBound(s string) (time.Time, error) {
	for _, layout := range []string{DateFormat, ISOFormat, time.RFC3339} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q", ErrInvalidPeriod, s)
}

// Bounds parses the window. Start must be strictly before End.
func (tr TimeRange) Bounds() (time.Time, time.Time, error) {
	start, err := parseBound(tr.Start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseBound(tr.End)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidPeriod, tr.Start, tr.End)
	}
	return start, end, nil
}

// Contains reports whether t falls in [Start, End).
func (tr TimeRange) Contains(t time.Time) bool {
	start, end, err := tr.Bounds()
	if err != nil {
		return false
	}
	return !t.Before(start) && t.Before(end)
}

// KernelConfig describes a focal neighbourhood in pixel units.
type KernelConfig struct {
	Shape  string `json:"shape" yaml:"shape"`
	Radius int    `json:"radius" yaml:"radius"`
}

func (k KernelConfig) validate(name string) error {
	switch k.Shape {
	case "circle", "square":
	default:
		return fmt.Errorf("%w: %s shape %q, expecting circle or square", ErrInvalidKernel, name, k.Shape)
	}
	if k.Radius < 0 {
		return fmt.Errorf("%w: %s radius %d is negative", ErrInvalidKernel, name, k.Radius)
	}
	return nil
}

// Thresholds are backscatter decibel values. Water detection is stricter
// than flood detection so permanent water is not counted as new flooding.
type Thresholds struct {
	Flood float64 `json:"flood" yaml:"flood"`
	Water float64 `json:"water" yaml:"water"`
}

func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{"flood": t.Flood, "water": t.Water} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s threshold %v", ErrNonFiniteThreshold, name, v)
		}
	}
	if t.Water >= t.Flood {
		return fmt.Errorf("%w: water %v, flood %v", ErrInvalidThresholdOrdering, t.Water, t.Flood)
	}
	return nil
}

// ScalePair holds the nominal sampling distances, in metres, used when a
// category is aggregated over the AOI and over the sub-region.
type ScalePair struct {
	AOI       float64 `json:"aoi" yaml:"aoi"`
	SubRegion float64 `json:"sub_region" yaml:"sub_region"`
}

type CategoryScales struct {
	Flood       ScalePair `json:"flood" yaml:"flood"`
	Water       ScalePair `json:"water" yaml:"water"`
	Agriculture ScalePair `json:"agriculture" yaml:"agriculture"`
	Buildings   ScalePair `json:"buildings" yaml:"buildings"`
}

type CategoryKernels struct {
	Flood       KernelConfig `json:"flood" yaml:"flood"`
	Water       KernelConfig `json:"water" yaml:"water"`
	Agriculture KernelConfig `json:"agriculture" yaml:"agriculture"`
	Buildings   KernelConfig `json:"buildings" yaml:"buildings"`
}

// GeometryConfig locates a polygon. Exactly one of Coordinates,
// GeoJSONFile or Boundary is expected; Boundary is resolved against the
// configured boundary source at run time.
type GeometryConfig struct {
	Name        string        `json:"name" yaml:"name"`
	CRS         string        `json:"crs" yaml:"crs"`
	Coordinates [][][]float64 `json:"coordinates,omitempty" yaml:"coordinates,omitempty"`
	GeoJSONFile string        `json:"geojson_file,omitempty" yaml:"geojson_file,omitempty"`
	Boundary    string        `json:"boundary,omitempty" yaml:"boundary,omitempty"`
}

// IsLookup reports whether the polygon comes from a boundary source.
func (g GeometryConfig) IsLookup() bool {
	return len(g.Coordinates) == 0 && len(g.GeoJSONFile) == 0 && len(g.Boundary) > 0
}

// Polygon builds the inline or file-backed polygon. Relative GeoJSON
// paths are resolved against baseDir.
func (g GeometryConfig) Polygon(baseDir string) (*Polygon, error) {
	crs := NormaliseCRS(g.CRS)
	switch {
	case len(g.Coordinates) > 0:
		rings := make([][][2]float64, len(g.Coordinates))
		for ir, ring := range g.Coordinates {
			rings[ir] = make([][2]float64, len(ring))
			for iv, v := range ring {
				if len(v) != 2 {
					return nil, fmt.Errorf("polygon %q ring %d vertex %d: expecting [x, y], got %v", g.Name, ir, iv, v)
				}
				rings[ir][iv] = [2]float64{v[0], v[1]}
			}
		}
		return NewPolygon(g.Name, crs, rings...)
	case len(g.GeoJSONFile) > 0:
		path := g.GeoJSONFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("polygon %q: %v", g.Name, err)
		}
		return ParseGeoJSONPolygon(g.Name, crs, data)
	}
	return nil, fmt.Errorf("polygon %q: no coordinates or geojson_file", g.Name)
}

type PostGISConfig struct {
	URL        string `json:"url" yaml:"url"`
	Table      string `json:"table" yaml:"table"`
	GeomColumn string `json:"geom_column" yaml:"geom_column"`
	NameColumn string `json:"name_column" yaml:"name_column"`
}

// ImageryConfig selects SAR scenes from a catalogue of GeoTIFF granules.
type ImageryConfig struct {
	Catalogue      string   `json:"catalogue" yaml:"catalogue"`
	Band           string   `json:"band" yaml:"band"`
	Expression     string   `json:"expression" yaml:"expression"`
	InstrumentMode string   `json:"instrument_mode" yaml:"instrument_mode"`
	OrbitPasses    []string `json:"orbit_passes" yaml:"orbit_passes"`
	CRS            string   `json:"crs" yaml:"crs"`
	Resolution     float64  `json:"resolution" yaml:"resolution"`
}

type LandCoverConfig struct {
	Path      string `json:"path" yaml:"path"`
	CropClass int    `json:"crop_class" yaml:"crop_class"`
}

type FootprintConfig struct {
	Shapefile string        `json:"shapefile" yaml:"shapefile"`
	PostGIS   PostGISConfig `json:"postgis" yaml:"postgis"`
}

type BoundaryConfig struct {
	Shapefile string        `json:"shapefile" yaml:"shapefile"`
	NameField string        `json:"name_field" yaml:"name_field"`
	PostGIS   PostGISConfig `json:"postgis" yaml:"postgis"`
}

// ExportConfig controls how the clipped classification grids are written.
type ExportConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	Dir            string  `json:"dir" yaml:"dir"`
	Scale          float64 `json:"scale" yaml:"scale"`
	CRS            string  `json:"crs" yaml:"crs"`
	CloudOptimized bool    `json:"cloud_optimized" yaml:"cloud_optimized"`
}

type ServiceConfig struct {
	ListenAddr  string `json:"listen_addr" yaml:"listen_addr"`
	MaxConns    int    `json:"max_conns" yaml:"max_conns"`
	MemcacheURI string `json:"memcache" yaml:"memcache"`
	TemplateDir string `json:"template_dir" yaml:"template_dir"`
}

type LogConfig struct {
	Level         string `json:"level" yaml:"level"`
	Format        string `json:"format" yaml:"format"`
	Verbose       bool   `json:"verbose" yaml:"verbose"`
	MetricsLogDir string `json:"metrics_log_dir" yaml:"metrics_log_dir"`
}

// Config is the complete description of one flood mapping job and of the
// services it talks to.
type Config struct {
	AOI        GeometryConfig  `json:"aoi" yaml:"aoi"`
	SubRegion  GeometryConfig  `json:"sub_region" yaml:"sub_region"`
	Before     TimeRange       `json:"before" yaml:"before"`
	After      TimeRange       `json:"after" yaml:"after"`
	Imagery    ImageryConfig   `json:"imagery" yaml:"imagery"`
	Denoise    KernelConfig    `json:"denoise" yaml:"denoise"`
	Thresholds Thresholds      `json:"thresholds" yaml:"thresholds"`
	Dilation   CategoryKernels `json:"dilation" yaml:"dilation"`
	Scales     CategoryScales  `json:"scales" yaml:"scales"`
	LandCover  LandCoverConfig `json:"land_cover" yaml:"land_cover"`
	Footprints FootprintConfig `json:"footprints" yaml:"footprints"`
	Boundaries BoundaryConfig  `json:"boundaries" yaml:"boundaries"`
	Export     ExportConfig    `json:"export" yaml:"export"`
	Service    ServiceConfig   `json:"service" yaml:"service"`
	Log        LogConfig       `json:"log" yaml:"log"`
	Workers    int             `json:"workers" yaml:"workers"`

	// BaseDir is the directory of the config file; relative paths are
	// resolved against it.
	BaseDir string `json:"-" yaml:"-"`
}

// DefaultConfig returns the processing defaults: a radius 3 circular
// median, -15/-20 dB thresholds, radius 3 circular dilation, ESA
// WorldCover cropland and the per-category sampling scales.
func DefaultConfig() *Config {
	dilate := KernelConfig{Shape: "circle", Radius: 3}
	return &Config{
		AOI:       GeometryConfig{Name: "AOI", CRS: WGS84},
		SubRegion: GeometryConfig{Name: "Sub-region", CRS: WGS84},
		Imagery: ImageryConfig{
			Band:           "VH",
			InstrumentMode: "IW",
			OrbitPasses:    []string{"ASCENDING", "DESCENDING"},
			CRS:            WGS84,
		},
		Denoise:    KernelConfig{Shape: "circle", Radius: 3},
		Thresholds: Thresholds{Flood: -15, Water: -20},
		Dilation: CategoryKernels{
			Flood:       dilate,
			Water:       dilate,
			Agriculture: dilate,
			Buildings:   dilate,
		},
		Scales: CategoryScales{
			Flood:       ScalePair{AOI: 50, SubRegion: 100},
			Water:       ScalePair{AOI: 50, SubRegion: 100},
			Agriculture: ScalePair{AOI: 50, SubRegion: 100},
			Buildings:   ScalePair{AOI: 30, SubRegion: 100},
		},
		LandCover: LandCoverConfig{CropClass: 40},
		Boundaries: BoundaryConfig{
			NameField: "NAME",
			PostGIS:   PostGISConfig{GeomColumn: "geom", NameColumn: "name"},
		},
		Footprints: FootprintConfig{
			PostGIS: PostGISConfig{GeomColumn: "geom"},
		},
		Export: ExportConfig{Scale: 100, CRS: WGS84, CloudOptimized: true},
		Service: ServiceConfig{
			ListenAddr: ":8080",
			MaxConns:   64,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// LoadConfigFile reads a YAML or JSON config document over the defaults
// and validates it.
func LoadConfigFile(configFile string) (*Config, error) {
	raw, err := ioutil.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}
	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".json":
		err = json.Unmarshal(raw, config)
	default:
		err = yaml.Unmarshal(raw, config)
	}
	if err != nil {
		return nil, fmt.Errorf("Error at parsing config document: %s. Error: %v", configFile, err)
	}
	config.BaseDir = filepath.Dir(configFile)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", configFile, err)
	}
	return config, nil
}

// Validate checks every value a run depends on so malformed input is
// rejected before any data is loaded.
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if _, _, err := c.Before.Bounds(); err != nil {
		return fmt.Errorf("before window: %w", err)
	}
	if _, _, err := c.After.Bounds(); err != nil {
		return fmt.Errorf("after window: %w", err)
	}
	if len(c.Imagery.Band) == 0 && len(c.Imagery.Expression) == 0 {
		return fmt.Errorf("imagery: band or expression is required")
	}
	if len(c.Imagery.Expression) > 0 {
		if _, err := ParseBandExpression(c.Imagery.Expression); err != nil {
			return err
		}
	}
	if err := c.Denoise.validate("denoise"); err != nil {
		return err
	}
	kernels := map[string]KernelConfig{
		"flood dilation":       c.Dilation.Flood,
		"water dilation":       c.Dilation.Water,
		"agriculture dilation": c.Dilation.Agriculture,
		"buildings dilation":   c.Dilation.Buildings,
	}
	for name, k := range kernels {
		if err := k.validate(name); err != nil {
			return err
		}
	}
	scales := map[string]ScalePair{
		"flood":       c.Scales.Flood,
		"water":       c.Scales.Water,
		"agriculture": c.Scales.Agriculture,
		"buildings":   c.Scales.Buildings,
	}
	for name, s := range scales {
		for _, v := range []float64{s.AOI, s.SubRegion} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return fmt.Errorf("%w: %s scale %v", ErrInvalidScale, name, v)
			}
		}
	}
	if c.LandCover.CropClass <= 0 {
		return fmt.Errorf("land cover: crop class must be positive, got %d", c.LandCover.CropClass)
	}
	if c.AOI.IsLookup() {
		return fmt.Errorf("aoi: coordinates or geojson_file is required")
	}
	if _, err := c.AOI.Polygon(c.BaseDir); err != nil {
		return fmt.Errorf("aoi: %w", err)
	}
	if !c.SubRegion.IsLookup() {
		if _, err := c.SubRegion.Polygon(c.BaseDir); err != nil {
			return fmt.Errorf("sub_region: %w", err)
		}
	}
	if c.Export.Enabled {
		if len(c.Export.Dir) == 0 {
			return fmt.Errorf("export: dir is required when export is enabled")
		}
		if math.IsNaN(c.Export.Scale) || c.Export.Scale <= 0 {
			return fmt.Errorf("%w: export scale %v", ErrInvalidScale, c.Export.Scale)
		}
	}
	return nil
}

// ResolvePath makes p absolute relative to the config file directory.
func (c *Config) ResolvePath(p string) string {
	if len(p) == 0 || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// DumpConfig renders the effective configuration, defaults included.
func DumpConfig(config *Config) (string, error) {
	out, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ConfigStore holds the config served by a long running process and
// swaps it on reload.
type ConfigStore struct {
	mu     sync.RWMutex
	path   string
	config *Config
}

func NewConfigStore(path string) (*ConfigStore, error) {
	config, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return &ConfigStore{path: path, config: config}, nil
}

func (s *ConfigStore) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *ConfigStore) Reload() error {
	config, err := LoadConfigFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.config = config
	s.mu.Unlock()
	return nil
}

// WatchConfig reloads the store whenever the process receives SIGHUP. A
// config that fails validation is logged and the previous one is kept.
func WatchConfig(log *zap.SugaredLogger, store *ConfigStore) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Infof("Caught SIGHUP, reloading config %s", store.path)
			if err := store.Reload(); err != nil {
				log.Errorf("Error in reloading config: %v", err)
			}
		}
	}()
}
