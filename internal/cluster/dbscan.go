package cluster

import (
	"github.com/sells-group/siting-cli/internal/geo"
	"github.com/sells-group/siting-cli/internal/model"
)

// DBSCAN groups points by density over great-circle distance.
type DBSCAN struct {
	EpsMeters  float64
	MinSamples int
}

// Fit returns a dense label per point. Noise points each receive their own
// label after every dense cluster, so every point belongs to exactly one group.
func (d DBSCAN) Fit(points []model.LatLng) []int {
	const unvisited = -1
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}
	minSamples := max(1, d.MinSamples)

	neighbours := func(i int) []int {
		var out []int
		for j := range points {
			if geo.Haversine(points[i].Lat, points[i].Lng, points[j].Lat, points[j].Lng) <= d.EpsMeters {
				out = append(out, j)
			}
		}
		return out
	}

	noise := make([]bool, n)
	next := 0
	for i := range points {
		if labels[i] != unvisited || noise[i] {
			continue
		}
		nb := neighbours(i)
		if len(nb) < minSamples {
			noise[i] = true
			continue
		}
		labels[i] = next
		queue := append([]int(nil), nb...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if noise[j] {
				noise[j] = false
				labels[j] = next
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = next
			if jnb := neighbours(j); len(jnb) >= minSamples {
				queue = append(queue, jnb...)
			}
		}
		next++
	}

	for i := range labels {
		if labels[i] == unvisited {
			labels[i] = next
			next++
		}
	}
	return labels
}
