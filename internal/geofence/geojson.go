// Package geofence loads a district boundary from a GeoJSON document and
// answers point-in-boundary queries. Polygons and multi-polygons are
// supported, including hole rings. The boundary is parsed once per process
// lifetime and cached (see Cache).
package geofence

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Point is one boundary vertex in GeoJSON axis order: longitude first.
type Point struct {
	Lon float64
	Lat float64
}

// Ring is a closed sequence of vertices. The GeoJSON convention of repeating
// the first vertex at the end is tolerated but not required; the ray caster
// wraps around.
type Ring []Point

// Polygon is one outer ring followed by zero or more hole rings.
type Polygon []Ring

// Boundary is a parsed district boundary: one or more polygons.
type Boundary struct {
	District string
	polygons []Polygon
}

// candidatePropertyKeys are the GeoJSON feature property names consulted when
// matching a feature to the configured district. Korean administrative
// boundary files vary between SIG_KOR_NM/SIG_ENG_NM and plain name keys.
var candidatePropertyKeys = []string{
	"SIG_KOR_NM", "SIG_ENG_NM", "name", "NAME", "NAME_1", "adm_nm", "admName", "gu", "GUNAME",
}

// districtAliases maps a district name to its counterpart in the other
// language, consulted when no direct property match is found.
var districtAliases = map[string]string{
	"송파구":      "songpa-gu",
	"songpa-gu": "송파구",
}

type geoFeature struct {
	Properties map[string]any `json:"properties"`
	Geometry   *geoGeometry   `json:"geometry"`
}

type geoGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type geoDocument struct {
	Type       string         `json:"type"`
	Features   []geoFeature   `json:"features"`
	Properties map[string]any `json:"properties"`
	Geometry   *geoGeometry   `json:"geometry"`
}

// ParseBoundary decodes a GeoJSON document (a single feature or a feature
// collection) and extracts the boundary of the named district. Failure to
// find the district, or an unsupported geometry type, is a configuration
// error: without a boundary no record can be geo-validated.
func ParseBoundary(doc []byte, district string) (*Boundary, error) {
	var gj geoDocument
	if err := json.Unmarshal(doc, &gj); err != nil {
		return nil, fmt.Errorf("parse boundary GeoJSON: %w", err)
	}

	features := gj.Features
	if gj.Type != "FeatureCollection" {
		features = []geoFeature{{Properties: gj.Properties, Geometry: gj.Geometry}}
	}

	geom := findDistrictGeometry(features, district)
	if geom == nil {
		return nil, fmt.Errorf("district %q not found in boundary document", district)
	}

	polygons, err := parseGeometry(geom)
	if err != nil {
		return nil, err
	}

	return &Boundary{District: district, polygons: polygons}, nil
}

// findDistrictGeometry selects the feature whose properties name the wanted
// district, comparing trimmed and case-folded. When no direct match exists,
// the bilingual alias of the name is tried as a fallback.
func findDistrictGeometry(features []geoFeature, district string) *geoGeometry {
	if g := matchFeatures(features, district); g != nil {
		return g
	}
	if alias, ok := districtAliases[normalizeName(district)]; ok {
		if g := matchFeatures(features, alias); g != nil {
			return g
		}
	}
	return nil
}

func matchFeatures(features []geoFeature, want string) *geoGeometry {
	wantNorm := normalizeName(want)
	for _, feat := range features {
		for _, key := range candidatePropertyKeys {
			v, ok := feat.Properties[key]
			if !ok {
				continue
			}
			s, ok := v.(string)
			if !ok {
				continue
			}
			if normalizeName(s) == wantNorm {
				return feat.Geometry
			}
		}
	}
	return nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func parseGeometry(geom *geoGeometry) ([]Polygon, error) {
	if geom == nil {
		return nil, fmt.Errorf("district feature has no geometry")
	}

	switch geom.Type {
	case "Polygon":
		var coords [][][]float64
		if err := json.Unmarshal(geom.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("parse Polygon coordinates: %w", err)
		}
		return []Polygon{buildPolygon(coords)}, nil

	case "MultiPolygon":
		var coords [][][][]float64
		if err := json.Unmarshal(geom.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("parse MultiPolygon coordinates: %w", err)
		}
		polygons := make([]Polygon, 0, len(coords))
		for _, poly := range coords {
			polygons = append(polygons, buildPolygon(poly))
		}
		return polygons, nil

	default:
		return nil, fmt.Errorf("boundary geometry must be Polygon or MultiPolygon, got %q", geom.Type)
	}
}

func buildPolygon(coords [][][]float64) Polygon {
	poly := make(Polygon, 0, len(coords))
	for _, ringCoords := range coords {
		ring := make(Ring, 0, len(ringCoords))
		for _, pair := range ringCoords {
			if len(pair) < 2 {
				continue
			}
			ring = append(ring, Point{Lon: pair[0], Lat: pair[1]})
		}
		poly = append(poly, ring)
	}
	return poly
}
