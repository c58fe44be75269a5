package sources

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/nci/sarflood/utils"
	"gopkg.in/yaml.v2"
)

// Scene is one single-band SAR granule of the catalogue.
type Scene struct {
	Path           string    `yaml:"path"`
	Band           string    `yaml:"band"`
	Acquired       time.Time `yaml:"acquired"`
	InstrumentMode string    `yaml:"instrument_mode"`
	OrbitPass      string    `yaml:"orbit_pass"`
	CRS            string    `yaml:"crs,omitempty"`
	// BBox is [minx, miny, maxx, maxy] in WGS84. Scenes without a bbox are
	// never filtered out spatially.
	BBox []float64 `yaml:"bbox,omitempty"`
}

func (s *Scene) bounds() *geom.Bounds {
	if len(s.BBox) != 4 {
		return nil
	}
	return &geom.Bounds{Min: geom.Point{X: s.BBox[0], Y: s.BBox[1]}, Max: geom.Point{X: s.BBox[2], Y: s.BBox[3]}}
}

// Catalogue lists the scenes available to the imagery source.
type Catalogue struct {
	Scenes []*Scene `yaml:"scenes"`
}

// LoadCatalogue reads a YAML catalogue. Relative scene paths are resolved
// against the directory of the catalogue.
func LoadCatalogue(path string) (*Catalogue, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scene catalogue: %v", err)
	}
	cat := &Catalogue{}
	if err := yaml.Unmarshal(raw, cat); err != nil {
		return nil, fmt.Errorf("scene catalogue %s: %v", path, err)
	}
	dir := filepath.Dir(path)
	for i, s := range cat.Scenes {
		if len(s.Path) == 0 {
			return nil, fmt.Errorf("scene catalogue %s: scene %d has no path", path, i)
		}
		if !filepath.IsAbs(s.Path) {
			s.Path = filepath.Join(dir, s.Path)
		}
		if len(s.BBox) != 0 && len(s.BBox) != 4 {
			return nil, fmt.Errorf("scene catalogue %s: scene %s bbox needs 4 values", path, s.Path)
		}
	}
	return cat, nil
}

// SceneFilter selects scenes by polarisation band, instrument mode, orbit
// pass, acquisition window and footprint.
type SceneFilter struct {
	Band           string
	InstrumentMode string
	OrbitPasses    []string
	Period         utils.TimeRange
	// Bounds is the AOI extent in WGS84; nil disables the spatial test.
	Bounds *geom.Bounds
}

// Select returns the matching scenes ordered by acquisition time, oldest
// first, so that mosaicking in order leaves the latest scene on top.
func (c *Catalogue) Select(f SceneFilter) ([]*Scene, error) {
	start, end, err := f.Period.Bounds()
	if err != nil {
		return nil, err
	}
	passes := map[string]bool{}
	for _, p := range f.OrbitPasses {
		passes[strings.ToUpper(p)] = true
	}

	var out []*Scene
	for _, s := range c.Scenes {
		if !strings.EqualFold(s.Band, f.Band) {
			continue
		}
		if len(f.InstrumentMode) > 0 && !strings.EqualFold(s.InstrumentMode, f.InstrumentMode) {
			continue
		}
		if len(passes) > 0 && !passes[strings.ToUpper(s.OrbitPass)] {
			continue
		}
		if s.Acquired.Before(start) || !s.Acquired.Before(end) {
			continue
		}
		if sb := s.bounds(); f.Bounds != nil && sb != nil && !sb.Overlaps(f.Bounds) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Acquired.Before(out[j].Acquired)
	})
	return out, nil
}

// Sentinel-1 product names, optionally suffixed with the polarisation of
// a single-band export, e.g.
// S1A_IW_GRDH_1SDV_20240912T051743_20240912T051808_055623_06CA5B_7E2C_VH.tif
var s1Name = regexp.MustCompile(`^S1[ABCD]_([A-Z0-9]{2})_[A-Z]{3}[A-Z_]_\d[A-Z]{3}_(\d{8}T\d{6})_\d{8}T\d{6}_\d{6}_[0-9A-F]{6}_[0-9A-F]{4}(?:_([VH]{2}))?`)

// ParseSceneName extracts the instrument mode, start time and band from a
// Sentinel-1 product file name.
func ParseSceneName(path string) (mode string, acquired time.Time, band string, err error) {
	m := s1Name.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", time.Time{}, "", fmt.Errorf("%s is not a Sentinel-1 product name", filepath.Base(path))
	}
	acquired, err = time.Parse("20060102T150405", m[2])
	if err != nil {
		return "", time.Time{}, "", err
	}
	return m[1], acquired.UTC(), m[3], nil
}

// MarshalCatalogue renders a catalogue document.
func MarshalCatalogue(c *Catalogue) ([]byte, error) {
	return yaml.Marshal(c)
}
