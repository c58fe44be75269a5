package sources

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/ctessum/geom"
	"github.com/nci/sarflood/utils"
)

// orbitPassKeys are the metadata items GRD exports carry the orbit
// direction in.
var orbitPassKeys = []string{"ORBIT_DIRECTION", "orbitProperties_pass", "PASS"}

// CrawlScene builds the catalogue entry of a single-band scene file. Mode,
// start time and band come from the Sentinel-1 product name; the orbit
// pass from the file metadata; the bbox from the geotransform.
func CrawlScene(path string) (*Scene, error) {
	RegisterDrivers()
	mode, acquired, band, err := ParseSceneName(path)
	if err != nil {
		return nil, err
	}

	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %v", path, err)
	}
	defer ds.Close()

	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, fmt.Errorf("%s: dataset has no raster bands", path)
	}
	if len(band) == 0 {
		band = bands[0].Description()
	}
	if len(band) == 0 {
		return nil, fmt.Errorf("%s: cannot tell the polarisation band", path)
	}

	scene := &Scene{
		Path:           path,
		Band:           strings.ToUpper(band),
		Acquired:       acquired,
		InstrumentMode: mode,
	}
	for _, key := range orbitPassKeys {
		if v := ds.Metadata(key); len(v) > 0 {
			scene.OrbitPass = strings.ToUpper(v)
			break
		}
	}

	sr := ds.SpatialRef()
	if sr == nil {
		return scene, nil
	}
	defer sr.Close()
	if name, code := sr.AuthorityName(""), sr.AuthorityCode(""); name == "EPSG" && len(code) > 0 {
		scene.CRS = "EPSG:" + code
	} else {
		return scene, nil
	}

	gt, err := ds.GeoTransform()
	if err != nil {
		return scene, nil
	}
	st := ds.Structure()
	ring := [][2]float64{
		{gt[0], gt[3]},
		{gt[0] + float64(st.SizeX)*gt[1], gt[3] + float64(st.SizeX)*gt[4]},
		{gt[0] + float64(st.SizeX)*gt[1] + float64(st.SizeY)*gt[2], gt[3] + float64(st.SizeX)*gt[4] + float64(st.SizeY)*gt[5]},
		{gt[0] + float64(st.SizeY)*gt[2], gt[3] + float64(st.SizeY)*gt[5]},
		{gt[0], gt[3]},
	}
	footprint, err := utils.NewPolygon(filepath.Base(path), scene.CRS, ring)
	if err != nil {
		return scene, nil
	}
	if b, err := extentIn(footprint, utils.WGS84); err == nil {
		scene.BBox = []float64{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y}
	}
	return scene, nil
}

// Crawl builds a catalogue from scene files. Files that are not
// recognised are reported through skip and left out.
func Crawl(ctx context.Context, paths []string, skip func(path string, err error)) (*Catalogue, error) {
	cat := &Catalogue{}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scene, err := CrawlScene(p)
		if err != nil {
			if skip != nil {
				skip(p, err)
			}
			continue
		}
		cat.Scenes = append(cat.Scenes, scene)
	}
	return cat, nil
}

// Extent returns the union of the scene bboxes, or nil when no scene has
// one.
func (c *Catalogue) Extent() *geom.Bounds {
	var b *geom.Bounds
	for _, s := range c.Scenes {
		sb := s.bounds()
		if sb == nil {
			continue
		}
		if b == nil {
			b = sb
		} else {
			b.Extend(sb)
		}
	}
	return b
}
