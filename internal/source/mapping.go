// Package source reads raw demand events and existing entities from fixture
// files or a live postgres document store and maps them onto model types.
package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/siting-cli/internal/aggregate"
	"github.com/sells-group/siting-cli/internal/model"
)

// Mapping resolves model fields from raw documents. Each field lists dotted
// paths tried in order; the first present, non-empty value wins.
type Mapping struct {
	Version string

	EventID    []string
	Timestamp  []string
	Status     []string
	EntityID   []string // single entity reference
	EntityIDs  []string // list of entity references, used when EntityID is absent
	CustomerID []string
	Category   []string
	Region     []string
	Lat        []string
	Lng        []string
	Volume     []string
	Revenue    []string

	EntityKey      []string
	EntityLat      []string
	EntityLng      []string
	EntityCategory []string
	EntityRegion   []string
	EntityMetadata map[string][]string
}

// Mappings holds every known document schema by version.
var Mappings = map[string]Mapping{
	"v1": {
		Version:    "v1",
		EventID:    []string{"id", "saleId", "orderId"},
		Timestamp:  []string{"createdAt", "timestamp"},
		Status:     []string{"status"},
		EntityID:   []string{"stationOwnerId", "entityId"},
		EntityIDs:  []string{"stationOwnerIds", "entityIds"},
		CustomerID: []string{"customerId", "customer.id"},
		Category:   []string{"waterType", "category"},
		Region:     []string{"districtName", "district"},
		Lat:        []string{"customer_coords.lat", "shippingAddress.latitude", "lat"},
		Lng:        []string{"customer_coords.lng", "shippingAddress.longitude", "lng"},
		Volume:     []string{"quantity", "volume"},
		Revenue:    []string{"totalPrice", "total_amount", "revenue"},

		EntityKey:      []string{"id", "stationOwnerId"},
		EntityLat:      []string{"location.latitude", "location.lat", "location.map.lat"},
		EntityLng:      []string{"location.longitude", "location.lng", "location.map.lng"},
		EntityCategory: []string{"products.0.waterType", "waterType", "category"},
		EntityRegion:   []string{"districtName", "district", "address.district", "location.districtName"},
		EntityMetadata: map[string][]string{
			"name":    {"stationName", "businessName", "name"},
			"address": {"address.formatted", "address.street"},
		},
	},
}

// LookupMapping returns the mapping for a schema version.
func LookupMapping(version string) (Mapping, error) {
	m, ok := Mappings[version]
	if !ok {
		known := make([]string, 0, len(Mappings))
		for k := range Mappings {
			known = append(known, k)
		}
		sort.Strings(known)
		return Mapping{}, eris.Errorf("source: unknown schema version %q (known: %s)", version, strings.Join(known, ", "))
	}
	return m, nil
}

// MapEvent maps one event document. id is used when the document carries no
// id field of its own. Values are not coerced here.
func (m Mapping) MapEvent(id string, doc map[string]any) model.RawEvent {
	ev := model.RawEvent{
		ID:         firstString(doc, m.EventID),
		Timestamp:  first(doc, m.Timestamp),
		Status:     firstString(doc, m.Status),
		CustomerID: firstString(doc, m.CustomerID),
		Category:   firstString(doc, m.Category),
		Region:     firstString(doc, m.Region),
		Lat:        first(doc, m.Lat),
		Lng:        first(doc, m.Lng),
		Volume:     first(doc, m.Volume),
		Revenue:    first(doc, m.Revenue),
	}
	if ev.ID == "" {
		ev.ID = id
	}
	if one := firstString(doc, m.EntityID); one != "" {
		ev.EntityIDs = []string{one}
	} else if list, ok := first(doc, m.EntityIDs).([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				ev.EntityIDs = append(ev.EntityIDs, s)
			}
		}
	}
	return ev
}

// MapEntity maps one entity document. Entities without usable coordinates or
// category return a ValidationError.
func (m Mapping) MapEntity(id string, doc map[string]any) (model.Entity, error) {
	e := model.Entity{ID: firstString(doc, m.EntityKey)}
	if e.ID == "" {
		e.ID = id
	}
	if e.ID == "" {
		return e, model.NewValidationError("", "entity without id")
	}

	lat, latErr := aggregate.ToFloat(first(doc, m.EntityLat))
	lng, lngErr := aggregate.ToFloat(first(doc, m.EntityLng))
	if latErr != nil || lngErr != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return e, model.NewValidationError(e.ID, "location: missing or invalid coordinates")
	}
	e.Location = model.LatLng{Lat: lat, Lng: lng}

	e.Segment = model.NewSegmentKey(firstString(doc, m.EntityCategory), firstString(doc, m.EntityRegion))
	if e.Segment.IsZero() {
		return e, model.NewValidationError(e.ID, "segment: entity without category")
	}

	for key, paths := range m.EntityMetadata {
		if v := firstString(doc, paths); v != "" {
			if e.Metadata == nil {
				e.Metadata = make(map[string]string)
			}
			e.Metadata[key] = v
		}
	}
	return e, nil
}

// first returns the first value found along paths.
func first(doc map[string]any, paths []string) any {
	for _, p := range paths {
		if v, ok := lookup(doc, p); ok {
			return v
		}
	}
	return nil
}

// firstString is first restricted to values with a non-empty string form.
func firstString(doc map[string]any, paths []string) string {
	for _, p := range paths {
		v, ok := lookup(doc, p)
		if !ok {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case fmt.Stringer:
			s = t.String()
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case int, int64, uint64:
			s = fmt.Sprint(t)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// lookup walks a dotted path through nested maps and lists. Numeric segments
// index into lists. Missing keys, nil values and empty strings are absent.
func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	if s, ok := cur.(string); ok && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return cur, true
}
