package scorer

import (
	"math"
	"sort"

	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/feasibility"
	"github.com/sells-group/siting-cli/internal/forecast"
)

// Components breaks a score into its terms. Penalty is the total subtracted.
type Components struct {
	Orders   float64 `json:"orders"`
	Sales    float64 `json:"sales"`
	Distance float64 `json:"distance"`
	Growth   float64 `json:"growth"`
	Penalty  float64 `json:"penalty"`
}

// Scored is a candidate with its per-period estimates and score.
type Scored struct {
	feasibility.Candidate
	EstOrders  int
	EstSales   float64
	GrowthRate float64
	HasGrowth  bool
	Components Components
	Score      float64
}

// Scorer applies the weighted score with soft penalties.
type Scorer struct {
	cfg    config.ScorerConfig
	growth forecast.GrowthSignal
}

// New creates a Scorer. A nil growth signal, or GrowthEnabled=false, disables
// the growth term.
func New(cfg config.ScorerConfig, growth forecast.GrowthSignal) *Scorer {
	if growth == nil || !cfg.GrowthEnabled {
		growth = forecast.NoGrowth{}
	}
	return &Scorer{cfg: cfg, growth: growth}
}

// Score computes
//
//	w_orders*estOrders*weight + w_sales*estSales*weight/100
//	+ w_dist*nearest/100 + w_growth*growth - penalties
//
// where estimates are cluster totals over the segment's observed months and
// nearest is uncapped. A segment without entities scores nearest as
// DistanceCapMeters. Order and sales penalties compare the cluster totals
// with their thresholds.
func (s *Scorer) Score(c feasibility.Candidate) Scored {
	cl := c.Cluster
	months := max(1, cl.MonthsObserved)
	weight := cl.Weight
	if weight <= 0 {
		weight = 1
	}

	out := Scored{
		Candidate: c,
		EstOrders: cl.Orders / months,
		EstSales:  cl.Sales / float64(months),
	}

	dist := c.NearestDistance
	if math.IsNaN(dist) {
		dist = math.Inf(1)
	}
	// No entity in the segment scores as DistanceCapMeters away.
	spacing := dist
	if math.IsInf(spacing, 1) {
		spacing = s.cfg.DistanceCapMeters
	}

	out.Components.Orders = s.cfg.OrdersWeight * float64(out.EstOrders) * weight
	out.Components.Sales = s.cfg.SalesWeight * (out.EstSales * weight) / 100
	out.Components.Distance = s.cfg.DistanceWeight * (spacing / 100)
	if rate, ok := s.growth.Growth(cl.Segment, cl.Centroid); ok {
		out.GrowthRate, out.HasGrowth = rate, true
		out.Components.Growth = s.cfg.GrowthWeight * rate
	}

	if cl.Orders < s.cfg.MinOrders {
		out.Components.Penalty += s.cfg.OrdersPenalty
	}
	if cl.Sales < s.cfg.MinSales {
		out.Components.Penalty += s.cfg.SalesPenalty
	}
	if dist < s.cfg.MinSpacingMeters {
		out.Components.Penalty += s.cfg.SpacingPenalty
	}

	cp := out.Components
	out.Score = cp.Orders + cp.Sales + cp.Distance + cp.Growth - cp.Penalty
	return out
}

// ScoreAll scores every candidate and sorts the result with Less.
func (s *Scorer) ScoreAll(cands []feasibility.Candidate) []Scored {
	out := make([]Scored, len(cands))
	for i, c := range cands {
		out[i] = s.Score(c)
	}
	Sort(out)
	return out
}

// Less orders by score descending, then cluster orders descending, then
// centroid longitude and latitude ascending.
func Less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Cluster.Orders != b.Cluster.Orders {
		return a.Cluster.Orders > b.Cluster.Orders
	}
	if a.Cluster.Centroid.Lng != b.Cluster.Centroid.Lng {
		return a.Cluster.Centroid.Lng < b.Cluster.Centroid.Lng
	}
	return a.Cluster.Centroid.Lat < b.Cluster.Centroid.Lat
}

// Sort orders scored candidates in place with Less.
func Sort(s []Scored) {
	sort.SliceStable(s, func(i, j int) bool { return Less(s[i], s[j]) })
}
