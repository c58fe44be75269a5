package utils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
)

const WGS84 = "EPSG:4326"

const wgs84Proj4 = "+proj=longlat +datum=WGS84 +no_defs"

// NormaliseCRS maps the spellings accepted in config files onto a
// canonical "EPSG:<code>" form. Unknown definitions are returned trimmed.
func NormaliseCRS(crs string) string {
	c := strings.ToUpper(strings.TrimSpace(crs))
	switch c {
	case "", "WGS84", "CRS:84", "OGC:CRS84", "EPSG:4326":
		return WGS84
	}
	if strings.HasPrefix(c, "EPSG:") {
		return c
	}
	return strings.TrimSpace(crs)
}

func SameCRS(a, b string) bool {
	return NormaliseCRS(a) == NormaliseCRS(b)
}

// IsGeographic reports whether the CRS has angular (degree) units.
func IsGeographic(crs string) bool {
	c := NormaliseCRS(crs)
	return c == WGS84 || strings.Contains(c, "+proj=longlat") || strings.Contains(c, "+proj=latlong")
}

// ExtractEPSGCode returns the numeric code of an "EPSG:<code>" CRS.
func ExtractEPSGCode(crs string) (int, error) {
	c := NormaliseCRS(crs)
	if !strings.HasPrefix(c, "EPSG:") {
		return 0, fmt.Errorf("CRS %q is not an EPSG code", crs)
	}
	return strconv.Atoi(strings.TrimPrefix(c, "EPSG:"))
}

// Proj4Definition resolves a CRS to a proj4 string understood by the
// proj package. EPSG support covers WGS84, web mercator and the WGS84
// UTM zones, which is what SAR GRD products and land cover layers use.
func Proj4Definition(crs string) (string, error) {
	c := NormaliseCRS(crs)
	if strings.HasPrefix(c, "+proj") {
		return c, nil
	}
	code, err := ExtractEPSGCode(c)
	if err != nil {
		return "", err
	}
	switch {
	case code == 4326:
		return wgs84Proj4, nil
	case code == 3857:
		return "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs", nil
	case code > 32600 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600), nil
	case code > 32700 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700), nil
	}
	return "", fmt.Errorf("EPSG:%d is not supported", code)
}

// SpatialRef parses a CRS into a proj spatial reference.
func SpatialRef(crs string) (*proj.SR, error) {
	def, err := Proj4Definition(crs)
	if err != nil {
		return nil, err
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %v", def, err)
	}
	return sr, nil
}

// NewTransform builds a coordinate transformer between two CRS.
func NewTransform(src, dst string) (proj.Transformer, error) {
	srcSR, err := SpatialRef(src)
	if err != nil {
		return nil, fmt.Errorf("source CRS: %v", err)
	}
	dstSR, err := SpatialRef(dst)
	if err != nil {
		return nil, fmt.Errorf("destination CRS: %v", err)
	}
	return srcSR.NewTransform(dstSR)
}

// Reproject returns the polygon expressed in crs. A polygon already in
// crs is returned as is. Failure to build a transform is reported as a
// geometry mismatch since the caller cannot proceed with mixed CRS.
func (p *Polygon) Reproject(crs string) (*Polygon, error) {
	if SameCRS(p.CRS, crs) {
		return p, nil
	}
	trans, err := NewTransform(p.CRS, crs)
	if err != nil {
		return nil, fmt.Errorf("%w: polygon %q from %s to %s: %v", ErrGeometryMismatch, p.Name, p.CRS, crs, err)
	}
	g, err := p.Geom.Transform(trans)
	if err != nil {
		return nil, fmt.Errorf("%w: polygon %q from %s to %s: %v", ErrGeometryMismatch, p.Name, p.CRS, crs, err)
	}
	return PolygonFromGeom(p.Name, NormaliseCRS(crs), g)
}
