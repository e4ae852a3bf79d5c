// Package cluster groups a segment's demand points into weighted spatial
// clusters.
package cluster

import (
	"go.uber.org/zap"

	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/model"
)

// Strategies selectable through config.ClusterConfig.Strategy.
const (
	StrategyKMeans = "kmeans"
	StrategyDBSCAN = "dbscan"
)

// DefaultConfig returns the k-means settings used when none are configured.
func DefaultConfig() config.ClusterConfig {
	return config.ClusterConfig{
		Strategy:         StrategyKMeans,
		KMax:             6,
		MinPointsDivisor: 3,
		MinPoints:        1,
		Seed:             42,
		BatchSize:        100,
		MaxIter:          100,
		DBSCANEpsMeters:  500,
		DBSCANMinSamples: 2,
	}
}

// Clusterer clusters demand points with the configured strategy.
type Clusterer struct {
	cfg config.ClusterConfig
}

// New creates a Clusterer.
func New(cfg config.ClusterConfig) *Clusterer {
	return &Clusterer{cfg: cfg}
}

// Cluster partitions points into clusters. Every input point belongs to
// exactly one returned cluster. Segments with fewer than MinPoints points
// return an InsufficientDataError.
func (c *Clusterer) Cluster(segment model.SegmentKey, points []model.DemandPoint) ([]model.Cluster, error) {
	minPoints := max(1, c.cfg.MinPoints)
	if len(points) < minPoints {
		return nil, &model.InsufficientDataError{Segment: segment, Points: len(points), Min: minPoints}
	}

	var labels []int
	switch c.cfg.Strategy {
	case StrategyDBSCAN:
		locs := make([]model.LatLng, len(points))
		for i, p := range points {
			locs[i] = p.Location
		}
		labels = DBSCAN{EpsMeters: c.cfg.DBSCANEpsMeters, MinSamples: c.cfg.DBSCANMinSamples}.Fit(locs)
	default:
		k := ChooseK(len(points), c.cfg.KMax, c.cfg.MinPointsDivisor)
		labels = MiniBatchKMeans{
			K:         k,
			BatchSize: c.cfg.BatchSize,
			MaxIter:   c.cfg.MaxIter,
			Seed:      c.cfg.Seed,
		}.Fit(Standardize(features(points)))
	}

	clusters := group(segment, points, labels)
	months := segmentMonths(points)
	for i := range clusters {
		clusters[i].MonthsObserved = months
	}
	zap.L().Debug("cluster: segment clustered",
		zap.String("segment", segment.String()),
		zap.String("strategy", c.cfg.Strategy),
		zap.Int("points", len(points)),
		zap.Int("clusters", len(clusters)),
	)
	return clusters, nil
}

// segmentMonths counts the distinct periods observed across every point of a
// segment. Per-period estimates of all its clusters divide by this count.
func segmentMonths(points []model.DemandPoint) int {
	periods := make(map[string]struct{})
	for _, p := range points {
		for _, per := range p.Periods {
			periods[per] = struct{}{}
		}
	}
	return max(1, len(periods))
}

func features(points []model.DemandPoint) [][]float64 {
	X := make([][]float64, len(points))
	for i, p := range points {
		X[i] = []float64{p.Location.Lat, p.Location.Lng, float64(p.Orders), p.Sales}
	}
	return X
}

// group aggregates points by dense label. Clusters come back in label order.
func group(segment model.SegmentKey, points []model.DemandPoint, labels []int) []model.Cluster {
	n := 0
	for _, l := range labels {
		n = max(n, l+1)
	}
	members := make([][]model.DemandPoint, n)
	for i, l := range labels {
		members[l] = append(members[l], points[i])
	}
	out := make([]model.Cluster, 0, n)
	for _, m := range members {
		if len(m) == 0 {
			continue
		}
		out = append(out, Summarize(segment, m))
	}
	return out
}

// Summarize builds a cluster from its member points. MonthsObserved is the
// members' own period union; Cluster replaces it with the segment-wide count.
// The centroid is weighted
// by orders, or by sales when no member has orders; equal weights apply only
// when every member has zero orders and sales.
func Summarize(segment model.SegmentKey, members []model.DemandPoint) model.Cluster {
	c := model.Cluster{Segment: segment, Members: members}
	periods := make(map[string]struct{})
	var weightSum float64
	for _, p := range members {
		c.Orders += p.Orders
		c.Sales += p.Sales
		w := p.Weight
		if w <= 0 {
			w = 1
		}
		weightSum += w
		for _, per := range p.Periods {
			periods[per] = struct{}{}
		}
	}
	c.Weight = weightSum / float64(len(members))
	c.MonthsObserved = max(1, len(periods))

	demand := func(p model.DemandPoint) float64 { return 1 }
	switch {
	case c.Orders > 0:
		demand = func(p model.DemandPoint) float64 { return float64(p.Orders) }
	case c.Sales > 0:
		demand = func(p model.DemandPoint) float64 { return p.Sales }
	}
	var total, lat, lng float64
	for _, p := range members {
		w := demand(p)
		total += w
		lat += w * p.Location.Lat
		lng += w * p.Location.Lng
	}
	c.Centroid = model.LatLng{Lat: lat / total, Lng: lng / total}
	return c
}
