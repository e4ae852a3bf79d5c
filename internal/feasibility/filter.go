// Package feasibility drops cluster centroids that fall outside a segment's
// geofence and measures their distance to existing entities.
package feasibility

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/siting-cli/internal/geo"
	"github.com/sells-group/siting-cli/internal/model"
)

// Candidate is a cluster that passed containment, with its nearest entity.
type Candidate struct {
	Cluster         model.Cluster
	NearestEntityID string
	// NearestDistance is in meters, +Inf when the segment has no entities.
	NearestDistance float64
}

// Filter applies geofence containment. A nil table disables containment for
// every segment.
type Filter struct {
	fences *geo.GeofenceTable
}

// New creates a Filter.
func New(fences *geo.GeofenceTable) *Filter {
	return &Filter{fences: fences}
}

// Apply keeps clusters whose centroid lies inside the segment's geofence, or
// all clusters when the segment has none. Only entities of the same segment
// with finite coordinates count toward the nearest distance.
func (f *Filter) Apply(segment model.SegmentKey, clusters []model.Cluster, entities []model.Entity) ([]Candidate, int) {
	fence, hasFence := f.fences.Lookup(segment)
	refs := Refs(segment, entities)

	kept := make([]Candidate, 0, len(clusters))
	excluded := 0
	for _, c := range clusters {
		if hasFence && !fence.Contains(c.Centroid.Lat, c.Centroid.Lng) {
			excluded++
			continue
		}
		n := geo.NearestRef(c.Centroid.Lat, c.Centroid.Lng, refs)
		kept = append(kept, Candidate{Cluster: c, NearestEntityID: n.ID, NearestDistance: n.Distance})
	}

	if excluded > 0 {
		zap.L().Debug("feasibility: centroids outside geofence",
			zap.String("segment", segment.String()),
			zap.String("geofence", fence.Name),
			zap.Int("excluded", excluded),
		)
	}
	return kept, excluded
}

// Refs converts the segment's entities into distance references.
func Refs(segment model.SegmentKey, entities []model.Entity) []geo.Ref {
	var refs []geo.Ref
	for _, e := range entities {
		if e.Segment != segment || !finite(e.Location.Lat) || !finite(e.Location.Lng) {
			continue
		}
		refs = append(refs, geo.Ref{ID: e.ID, Lat: e.Location.Lat, Lng: e.Location.Lng})
	}
	return refs
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
