package geo

import (
	"sort"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/siting-cli/internal/model"
)

// Geofence is a named boundary. Coordinates are X=lng, Y=lat (SRID 4326).
type Geofence struct {
	Name  string
	Shape *geom.MultiPolygon
}

// Contains reports whether (lat, lng) lies inside the boundary. Within each
// polygon rings are evaluated with the even-odd rule, so interior rings
// (holes) exclude the area they enclose. Points on an edge count as inside.
func (g *Geofence) Contains(lat, lng float64) bool {
	if g == nil || g.Shape == nil {
		return false
	}
	p := geom.Coord{lng, lat}
	for i := 0; i < g.Shape.NumPolygons(); i++ {
		poly := g.Shape.Polygon(i)
		inside := 0
		for j := 0; j < poly.NumLinearRings(); j++ {
			ring := poly.LinearRing(j)
			if xy.IsPointInRing(ring.Layout(), p, ring.FlatCoords()) {
				inside++
			}
		}
		if inside%2 == 1 {
			return true
		}
	}
	return false
}

// GeofenceTable maps segment or region names to boundaries. A nil table means
// no geofences were configured; every lookup then misses.
type GeofenceTable struct {
	fences map[string]*Geofence
}

// NewGeofenceTable builds a table from fences keyed by their normalized name.
// Later duplicates replace earlier ones.
func NewGeofenceTable(fences ...*Geofence) *GeofenceTable {
	t := &GeofenceTable{fences: make(map[string]*Geofence, len(fences))}
	for _, f := range fences {
		t.Add(f)
	}
	return t
}

// Add inserts or replaces a fence.
func (t *GeofenceTable) Add(f *Geofence) {
	if f == nil || f.Shape == nil {
		return
	}
	key := model.NewSegmentKey(f.Name, "").Category
	t.fences[key] = f
}

// Lookup returns the fence for a segment, trying the full "category/region"
// key first and then the region alone.
func (t *GeofenceTable) Lookup(seg model.SegmentKey) (*Geofence, bool) {
	if t == nil {
		return nil, false
	}
	if f, ok := t.fences[seg.String()]; ok {
		return f, true
	}
	if seg.Region != "" {
		if f, ok := t.fences[seg.Region]; ok {
			return f, true
		}
	}
	return nil, false
}

// Len returns the number of fences.
func (t *GeofenceTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.fences)
}

// Names returns the fence names in sorted order.
func (t *GeofenceTable) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.fences))
	for n := range t.fences {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewPolygonFence builds a single-polygon fence from lat/lng vertices. The
// ring is closed automatically.
func NewPolygonFence(name string, vertices []model.LatLng, holes ...[]model.LatLng) (*Geofence, error) {
	poly := geom.NewPolygon(geom.XY)
	rings := append([][]model.LatLng{vertices}, holes...)
	for _, r := range rings {
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, closeRing(r))); err != nil {
			return nil, err
		}
	}
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	if err := mp.Push(poly); err != nil {
		return nil, err
	}
	return &Geofence{Name: name, Shape: mp}, nil
}

func closeRing(vertices []model.LatLng) []float64 {
	flat := make([]float64, 0, 2*len(vertices)+2)
	for _, v := range vertices {
		flat = append(flat, v.Lng, v.Lat)
	}
	if n := len(vertices); n > 0 && vertices[0] != vertices[n-1] {
		flat = append(flat, vertices[0].Lng, vertices[0].Lat)
	}
	return flat
}
