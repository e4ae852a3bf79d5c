// Package aggregate turns raw demand events into per-location demand points
// and per-entity monthly series.
package aggregate

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/siting-cli/internal/model"
)

// Drop reasons recorded in Stats.Dropped.
const (
	ReasonTimestamp = "timestamp"
	ReasonLocation  = "location"
	ReasonSegment   = "segment"
	ReasonVolume    = "volume"
	ReasonRevenue   = "revenue"
)

// PeriodLayout formats a month period key.
const PeriodLayout = "2006-01"

// Options configures an Aggregator.
type Options struct {
	// Location is the timezone months are cut in. Defaults to UTC.
	Location *time.Location
	// LocationPrecision rounds coordinates to this many decimals before
	// grouping. Negative keeps exact coordinates.
	LocationPrecision int
	// Statuses lists the event statuses counted as demand. Empty accepts all.
	Statuses []string
}

// Stats counts what happened to every event offered to the aggregator.
type Stats struct {
	Accepted int            `json:"accepted"`
	Filtered int            `json:"filtered"`
	Dropped  map[string]int `json:"dropped"`
}

// DroppedTotal sums dropped events across reasons.
func (s Stats) DroppedTotal() int {
	var n int
	for _, c := range s.Dropped {
		n += c
	}
	return n
}

type locKey struct {
	lat, lng float64
}

type pointAcc struct {
	loc       model.LatLng
	orders    int
	volume    float64
	sales     float64
	periods   map[string]struct{}
	customers map[string]struct{}
}

type customerAcc struct {
	orders int
	spend  float64
}

// Aggregator accumulates events one at a time so arbitrarily large streams can
// be consumed without holding every event in memory. It is not safe for
// concurrent use.
type Aggregator struct {
	opts      Options
	statuses  map[string]struct{}
	entities  map[string]model.Entity
	points    map[model.SegmentKey]map[locKey]*pointAcc
	series    map[string]map[time.Time]float64
	seriesSeg map[string]model.SegmentKey
	customers map[string]*customerAcc
	stats     Stats
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	statuses := make(map[string]struct{}, len(opts.Statuses))
	for _, s := range opts.Statuses {
		statuses[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return &Aggregator{
		opts:      opts,
		statuses:  statuses,
		entities:  make(map[string]model.Entity),
		points:    make(map[model.SegmentKey]map[locKey]*pointAcc),
		series:    make(map[string]map[time.Time]float64),
		seriesSeg: make(map[string]model.SegmentKey),
		customers: make(map[string]*customerAcc),
		stats:     Stats{Dropped: make(map[string]int)},
	}
}

// AddEntities registers existing facilities. Events naming an entity inherit
// its segment when they carry none of their own.
func (a *Aggregator) AddEntities(entities []model.Entity) {
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		a.entities[e.ID] = e
	}
}

// Normalize validates and coerces a raw event. Entity segments fill in a
// missing event segment.
func (a *Aggregator) Normalize(raw model.RawEvent) (model.DemandEvent, error) {
	ev := model.DemandEvent{ID: raw.ID, EntityIDs: raw.EntityIDs, CustomerID: strings.TrimSpace(raw.CustomerID)}

	ts, err := ToTime(raw.Timestamp)
	if err != nil {
		return ev, model.NewValidationError(raw.ID, ReasonTimestamp+": "+err.Error())
	}
	ev.Timestamp = ts

	lat, latErr := ToFloat(raw.Lat)
	lng, lngErr := ToFloat(raw.Lng)
	if latErr != nil || lngErr != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ev, model.NewValidationError(raw.ID, ReasonLocation+": missing or invalid coordinates")
	}
	ev.Location = model.LatLng{Lat: lat, Lng: lng}

	ev.Segment = model.NewSegmentKey(raw.Category, raw.Region)
	if ev.Segment.IsZero() {
		for _, id := range raw.EntityIDs {
			if e, ok := a.entities[id]; ok && !e.Segment.IsZero() {
				region := ev.Segment.Region
				if region == "" {
					region = e.Segment.Region
				}
				ev.Segment = model.NewSegmentKey(e.Segment.Category, region)
				break
			}
		}
	}
	if ev.Segment.IsZero() {
		return ev, model.NewValidationError(raw.ID, ReasonSegment+": no segment on event or entity")
	}

	ev.Volume = 1
	if raw.Volume != nil {
		v, err := ToFloat(raw.Volume)
		if err != nil || v < 0 {
			return ev, model.NewValidationError(raw.ID, ReasonVolume+": not a non-negative number")
		}
		ev.Volume = v
	}
	if raw.Revenue != nil {
		r, err := ToFloat(raw.Revenue)
		if err != nil || r < 0 {
			return ev, model.NewValidationError(raw.ID, ReasonRevenue+": not a non-negative number")
		}
		ev.Revenue = r
	}
	return ev, nil
}

// Add offers one raw event. Events with a non-demand status are counted as
// filtered. Invalid events are counted under their drop reason and the
// ValidationError is returned for the caller's logging; the aggregator itself
// never fails on a bad row.
func (a *Aggregator) Add(raw model.RawEvent) error {
	if !a.statusAccepted(raw.Status) {
		a.stats.Filtered++
		return nil
	}
	ev, err := a.Normalize(raw)
	if err != nil {
		a.stats.Dropped[dropReason(err)]++
		return err
	}
	a.addEvent(ev)
	return nil
}

func (a *Aggregator) statusAccepted(status string) bool {
	if len(a.statuses) == 0 || status == "" {
		return true
	}
	_, ok := a.statuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

func dropReason(err error) string {
	var v *model.ValidationError
	if !errors.As(err, &v) {
		return "other"
	}
	reason, _, _ := strings.Cut(v.Reason, ":")
	return reason
}

func (a *Aggregator) addEvent(ev model.DemandEvent) {
	a.stats.Accepted++
	month := MonthStart(ev.Timestamp, a.opts.Location)
	period := month.Format(PeriodLayout)

	byLoc, ok := a.points[ev.Segment]
	if !ok {
		byLoc = make(map[locKey]*pointAcc)
		a.points[ev.Segment] = byLoc
	}
	key := locKey{lat: round(ev.Location.Lat, a.opts.LocationPrecision), lng: round(ev.Location.Lng, a.opts.LocationPrecision)}
	p, ok := byLoc[key]
	if !ok {
		p = &pointAcc{
			loc:       model.LatLng{Lat: key.lat, Lng: key.lng},
			periods:   make(map[string]struct{}),
			customers: make(map[string]struct{}),
		}
		byLoc[key] = p
	}
	p.orders++
	p.volume += ev.Volume
	p.sales += ev.Revenue
	p.periods[period] = struct{}{}

	if ev.CustomerID != "" {
		p.customers[ev.CustomerID] = struct{}{}
		c, ok := a.customers[ev.CustomerID]
		if !ok {
			c = &customerAcc{}
			a.customers[ev.CustomerID] = c
		}
		c.orders++
		c.spend += ev.Revenue
	}

	for _, id := range uniqueIDs(ev.EntityIDs) {
		seg := ev.Segment
		if e, ok := a.entities[id]; ok && !e.Segment.IsZero() {
			seg = e.Segment
		}
		months, ok := a.series[id]
		if !ok {
			months = make(map[time.Time]float64)
			a.series[id] = months
			a.seriesSeg[id] = seg
		}
		months[month] += ev.Volume
	}
}

// Result is the aggregated view of everything added so far.
type Result struct {
	Points   map[model.SegmentKey][]model.DemandPoint
	Series   map[string]model.PeriodSeries
	Entities []model.Entity
	Stats    Stats
}

// Segments returns every segment with demand points or entities, sorted.
func (r *Result) Segments() []model.SegmentKey {
	set := make(map[model.SegmentKey]struct{})
	for k := range r.Points {
		set[k] = struct{}{}
	}
	for _, e := range r.Entities {
		if !e.Segment.IsZero() {
			set[e.Segment] = struct{}{}
		}
	}
	out := make([]model.SegmentKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// EntitiesIn returns the entities of one segment, sorted by ID.
func (r *Result) EntitiesIn(seg model.SegmentKey) []model.Entity {
	var out []model.Entity
	for _, e := range r.Entities {
		if e.Segment == seg {
			out = append(out, e)
		}
	}
	return out
}

// SeriesIn returns the entity series of one segment, sorted by entity ID.
func (r *Result) SeriesIn(seg model.SegmentKey) []model.PeriodSeries {
	var out []model.PeriodSeries
	for _, s := range r.Series {
		if s.Segment == seg {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Result builds the demand points and series. Points within a segment are
// sorted by latitude then longitude so downstream clustering sees a stable
// order regardless of ingestion order.
func (a *Aggregator) Result() *Result {
	res := &Result{
		Points: make(map[model.SegmentKey][]model.DemandPoint, len(a.points)),
		Series: make(map[string]model.PeriodSeries, len(a.series)),
		Stats:  a.snapshotStats(),
	}

	weights := a.customerWeights()
	for seg, byLoc := range a.points {
		pts := make([]model.DemandPoint, 0, len(byLoc))
		for _, p := range byLoc {
			pts = append(pts, p.build(weights))
		}
		sort.Slice(pts, func(i, j int) bool {
			if pts[i].Location.Lat != pts[j].Location.Lat {
				return pts[i].Location.Lat < pts[j].Location.Lat
			}
			return pts[i].Location.Lng < pts[j].Location.Lng
		})
		res.Points[seg] = pts
	}

	for id, months := range a.series {
		res.Series[id] = buildSeries(id, a.seriesSeg[id], months)
	}

	ids := make([]string, 0, len(a.entities))
	for id := range a.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		res.Entities = append(res.Entities, a.entities[id])
	}
	return res
}

func (a *Aggregator) snapshotStats() Stats {
	s := Stats{Accepted: a.stats.Accepted, Filtered: a.stats.Filtered, Dropped: make(map[string]int, len(a.stats.Dropped))}
	for k, v := range a.stats.Dropped {
		s.Dropped[k] = v
	}
	return s
}

// customerWeights computes the recency/frequency weight per customer identity:
// 1 + frequency/10 + avgSpend/100.
func (a *Aggregator) customerWeights() map[string]float64 {
	w := make(map[string]float64, len(a.customers))
	for id, c := range a.customers {
		avg := 0.0
		if c.orders > 0 {
			avg = c.spend / float64(c.orders)
		}
		w[id] = 1 + float64(c.orders)/10 + avg/100
	}
	return w
}

func (p *pointAcc) build(weights map[string]float64) model.DemandPoint {
	periods := make([]string, 0, len(p.periods))
	for k := range p.periods {
		periods = append(periods, k)
	}
	sort.Strings(periods)

	weight := 1.0
	if len(p.customers) > 0 {
		var sum float64
		for c := range p.customers {
			sum += weights[c]
		}
		weight = sum / float64(len(p.customers))
	}

	return model.DemandPoint{
		Location:       p.loc,
		Orders:         p.orders,
		Volume:         p.volume,
		Sales:          p.sales,
		Periods:        periods,
		MonthsObserved: max(1, len(periods)),
		Weight:         weight,
	}
}

func buildSeries(id string, seg model.SegmentKey, months map[time.Time]float64) model.PeriodSeries {
	keys := make([]time.Time, 0, len(months))
	for m := range months {
		keys = append(keys, m)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	s := model.PeriodSeries{EntityID: id, Segment: seg}
	if len(keys) == 0 {
		return s
	}
	s.FirstPeriod = keys[0]
	for _, m := range keys {
		s.Values = append(s.Values, model.PeriodValue{Index: MonthsBetween(keys[0], m), Value: months[m]})
	}
	return s
}

// MonthsBetween returns the number of calendar months from a to b.
func MonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// MonthStart returns the first instant of t's month in loc.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

func round(v float64, precision int) float64 {
	if precision < 0 {
		return v
	}
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
