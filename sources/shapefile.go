package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	"github.com/nci/sarflood/utils"
	"go.uber.org/zap"
)

// shapeRow is one decoded shapefile record in WGS84.
type shapeRow struct {
	geom   geom.Geom
	fields map[string]string
}

// readShapefile decodes every record of path, transforming geometries to
// WGS84. A shapefile without a .prj is assumed to be WGS84 already.
func readShapefile(ctx context.Context, path string, fields ...string) ([]shapeRow, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %v", path, err)
	}
	defer dec.Close()

	var trans proj.Transformer
	if sr, err := dec.SR(); err == nil {
		wgs84, err := utils.SpatialRef(utils.WGS84)
		if err != nil {
			return nil, err
		}
		if trans, err = sr.NewTransform(wgs84); err != nil {
			return nil, fmt.Errorf("%s: %v", path, err)
		}
	}

	var rows []shapeRow
	for n := 0; ; n++ {
		if n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		g, f, more := dec.DecodeRowFields(fields...)
		if !more {
			break
		}
		if g == nil {
			continue
		}
		if trans != nil {
			if g, err = g.Transform(trans); err != nil {
				return nil, fmt.Errorf("%s: %v", path, err)
			}
		}
		rows = append(rows, shapeRow{geom: closeRings(g), fields: f})
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return rows, nil
}

// closeRings repeats the first vertex of any polygon ring that does not
// end on it. Shapefile rings are closed on disk but some writers drop the
// repeated vertex.
func closeRings(g geom.Geom) geom.Geom {
	closePart := func(p geom.Polygon) geom.Polygon {
		out := make(geom.Polygon, len(p))
		for i, path := range p {
			if len(path) > 0 && path[0] != path[len(path)-1] {
				path = append(path[:len(path):len(path)], path[0])
			}
			out[i] = path
		}
		return out
	}
	switch t := g.(type) {
	case geom.Polygon:
		return closePart(t)
	case geom.MultiPolygon:
		out := make(geom.MultiPolygon, len(t))
		for i, p := range t {
			out[i] = closePart(p)
		}
		return out
	}
	return g
}

// ShapefileFootprints reads building footprint polygons, e.g. an Open
// Buildings extract, from a shapefile.
type ShapefileFootprints struct {
	Path string
	Log  *zap.SugaredLogger
}

func NewShapefileFootprints(path string, log *zap.SugaredLogger) *ShapefileFootprints {
	return &ShapefileFootprints{Path: path, Log: log}
}

// Footprints returns the footprints whose bounds intersect aoi, in WGS84.
func (s *ShapefileFootprints) Footprints(ctx context.Context, aoi *utils.Polygon) ([]*utils.Polygon, error) {
	b, err := extentIn(aoi, utils.WGS84)
	if err != nil {
		return nil, err
	}
	rows, err := readShapefile(ctx, s.Path)
	if err != nil {
		return nil, err
	}
	var out []*utils.Polygon
	for i, r := range rows {
		if !r.geom.Bounds().Overlaps(b) {
			continue
		}
		p, err := utils.PolygonFromGeom(fmt.Sprintf("footprint %d", i), utils.WGS84, r.geom)
		if err != nil {
			s.Log.Debugf("Shapefile Footprints: skipping record %d: %v", i, err)
			continue
		}
		out = append(out, p)
	}
	s.Log.Debugf("Shapefile Footprints: %d of %d footprints over %s", len(out), len(rows), aoi.Name)
	return out, nil
}

// ShapefileBoundaries looks administrative boundaries up by the value of
// a name attribute.
type ShapefileBoundaries struct {
	Path      string
	NameField string
}

func NewShapefileBoundaries(path, nameField string) *ShapefileBoundaries {
	return &ShapefileBoundaries{Path: path, NameField: nameField}
}

// Boundary returns the first record whose name matches, ignoring case.
func (s *ShapefileBoundaries) Boundary(ctx context.Context, name string) (*utils.Polygon, error) {
	rows, err := readShapefile(ctx, s.Path, s.NameField)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if strings.EqualFold(strings.TrimSpace(r.fields[s.NameField]), name) {
			return utils.PolygonFromGeom(name, utils.WGS84, r.geom)
		}
	}
	return nil, fmt.Errorf("boundary %q not found in %s", name, s.Path)
}
