package sources

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/nci/sarflood/utils"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostGIS serves building footprints or administrative boundaries from a
// PostGIS table. Geometries are returned in WGS84.
type PostGIS struct {
	db    *sqlx.DB
	table string
	geom  string
	name  string
}

func NewPostGIS(cfg utils.PostGISConfig) (*PostGIS, error) {
	for _, id := range []string{cfg.Table, cfg.GeomColumn} {
		if !identifier.MatchString(id) {
			return nil, fmt.Errorf("postgis: invalid identifier %q", id)
		}
	}
	if len(cfg.NameColumn) > 0 && !identifier.MatchString(cfg.NameColumn) {
		return nil, fmt.Errorf("postgis: invalid identifier %q", cfg.NameColumn)
	}
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgis: %v", err)
	}
	return &PostGIS{db: db, table: cfg.Table, geom: cfg.GeomColumn, name: cfg.NameColumn}, nil
}

func (p *PostGIS) Close() error {
	return p.db.Close()
}

type geoJSONRow struct {
	Name    string `db:"name"`
	GeoJSON string `db:"geojson"`
}

// Footprints returns the polygons intersecting the extent of aoi.
func (p *PostGIS) Footprints(ctx context.Context, aoi *utils.Polygon) ([]*utils.Polygon, error) {
	b, err := extentIn(aoi, utils.WGS84)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT
			'' AS name,
			ST_AsGeoJSON(ST_Transform(%[1]s, 4326)) AS geojson
		FROM %[2]s
		WHERE ST_Intersects(ST_Transform(%[1]s, 4326), ST_MakeEnvelope($1, $2, $3, $4, 4326))`, p.geom, p.table)

	var rows []geoJSONRow
	if err := p.db.SelectContext(ctx, &rows, query, b.Min.X, b.Min.Y, b.Max.X, b.Max.Y); err != nil {
		return nil, fmt.Errorf("failed to query footprints: %w", err)
	}
	out := make([]*utils.Polygon, 0, len(rows))
	for i, r := range rows {
		poly, err := utils.ParseGeoJSONPolygon(fmt.Sprintf("footprint %d", i), utils.WGS84, []byte(r.GeoJSON))
		if err != nil {
			return nil, err
		}
		out = append(out, poly)
	}
	return out, nil
}

// Boundary returns the row whose name column equals name, ignoring case.
func (p *PostGIS) Boundary(ctx context.Context, name string) (*utils.Polygon, error) {
	if len(p.name) == 0 {
		return nil, fmt.Errorf("postgis: no name column configured for %s", p.table)
	}
	query := fmt.Sprintf(`
		SELECT
			%[1]s AS name,
			ST_AsGeoJSON(ST_Transform(%[2]s, 4326)) AS geojson
		FROM %[3]s
		WHERE lower(%[1]s) = lower($1)
		LIMIT 1`, p.name, p.geom, p.table)

	var row geoJSONRow
	if err := p.db.GetContext(ctx, &row, query, name); err != nil {
		return nil, fmt.Errorf("failed to query boundary %q: %w", name, err)
	}
	return utils.ParseGeoJSONPolygon(name, utils.WGS84, []byte(row.GeoJSON))
}
