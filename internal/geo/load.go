package geo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// LoadGeofences loads a geofence table from a GeoJSON (.geojson, .json) or
// shapefile (.shp) path. An empty path yields a nil table and no error:
// geofencing is optional and its absence disables containment filtering.
func LoadGeofences(path, nameProperty string) (*GeofenceTable, error) {
	if path == "" {
		return nil, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return LoadShapefile(path, nameProperty)
	case ".geojson", ".json":
		return LoadGeoJSON(path, nameProperty)
	default:
		return nil, eris.Errorf("geo: unsupported geofence file %q", path)
	}
}

// LoadGeoJSON reads a FeatureCollection of Polygon/MultiPolygon features.
// Each feature's nameProperty becomes its fence name.
func LoadGeoJSON(path, nameProperty string) (*GeofenceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "geo: read geojson")
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "geo: decode geojson")
	}

	log := zap.L().With(zap.String("component", "geo.loader"), zap.String("path", path))
	table := NewGeofenceTable()
	for i, f := range fc.Features {
		name := propertyString(f.Properties, nameProperty)
		if name == "" {
			log.Debug("geo: skipping feature without name", zap.Int("feature", i))
			continue
		}
		mp := toMultiPolygon(f.Geometry)
		if mp == nil {
			log.Debug("geo: skipping non-polygon feature", zap.String("name", name))
			continue
		}
		table.Add(&Geofence{Name: name, Shape: mp})
	}

	log.Info("geofences loaded", zap.Int("fences", table.Len()))
	return table, nil
}

// LoadShapefile reads polygon records from a shapefile, naming each by the
// nameField attribute. All parts of a record are kept as rings of one
// polygon so the even-odd rule in Contains handles holes.
func LoadShapefile(path, nameField string) (*GeofenceTable, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "geo: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	nameIdx := fieldIndex(reader, nameField)
	if nameIdx < 0 {
		return nil, eris.Errorf("geo: shapefile field %q not found", nameField)
	}

	table := NewGeofenceTable()
	for reader.Next() {
		_, shape := reader.Shape()
		p, ok := shape.(*shp.Polygon)
		if !ok || p == nil {
			continue
		}
		name := strings.TrimSpace(reader.Attribute(nameIdx))
		if name == "" {
			continue
		}
		mp := shpPolygonToMultiPolygon(p)
		if mp == nil {
			continue
		}
		table.Add(&Geofence{Name: name, Shape: mp})
	}

	zap.L().Info("geofences loaded",
		zap.String("component", "geo.loader"),
		zap.String("path", path),
		zap.Int("fences", table.Len()),
	)
	return table, nil
}

func propertyString(props map[string]interface{}, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func toMultiPolygon(g geom.T) *geom.MultiPolygon {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		if t.NumPolygons() == 0 {
			return nil
		}
		return t
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(t.Layout()).SetSRID(4326)
		if err := mp.Push(t); err != nil {
			return nil
		}
		return mp
	default:
		return nil
	}
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

func shpPolygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	poly := geom.NewPolygon(geom.XY)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("geo: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	if poly.NumLinearRings() == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	if err := mp.Push(poly); err != nil {
		return nil
	}
	return mp
}
