package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two WGS84 points.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Nearest is the closest reference to a query point.
type Nearest struct {
	ID       string
	Distance float64
}

// Ref is a named reference location.
type Ref struct {
	ID  string
	Lat float64
	Lng float64
}

// NearestRef scans refs for the one closest to (lat, lng). With no refs it
// returns an empty ID and +Inf. Equal distances resolve to the smaller ID.
func NearestRef(lat, lng float64, refs []Ref) Nearest {
	best := Nearest{Distance: math.Inf(1)}
	for _, r := range refs {
		d := Haversine(lat, lng, r.Lat, r.Lng)
		if d < best.Distance || (d == best.Distance && best.ID != "" && r.ID < best.ID) {
			best = Nearest{ID: r.ID, Distance: d}
		}
	}
	return best
}
