package aggregate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToTime coerces a document timestamp. Accepted forms are time.Time,
// RFC3339 and common naive layouts (interpreted as UTC), unix seconds or
// milliseconds, and {seconds, nanos} maps as written by document stores.
func ToTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, eris.New("timestamp missing")
	case time.Time:
		if t.IsZero() {
			return time.Time{}, eris.New("timestamp zero")
		}
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, eris.New("timestamp missing")
		}
		return ToTime(*t)
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		return time.Time{}, eris.Errorf("timestamp %q not parseable", s)
	case map[string]any:
		secs, ok := firstNumber(t, "seconds", "_seconds")
		if !ok {
			return time.Time{}, eris.New("timestamp map without seconds")
		}
		nanos, _ := firstNumber(t, "nanos", "nanoseconds", "_nanoseconds")
		return time.Unix(int64(secs), int64(nanos)).UTC(), nil
	default:
		f, err := ToFloat(v)
		if err != nil {
			return time.Time{}, eris.Errorf("timestamp of type %T not parseable", v)
		}
		return fromEpoch(f)
	}
}

func fromEpoch(f float64) (time.Time, error) {
	if f <= 0 {
		return time.Time{}, eris.New("timestamp not positive")
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, err := ToFloat(v); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// ToFloat coerces a numeric document value. Strings are trimmed and parsed.
// NaN and infinities are rejected.
func ToFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, eris.New("value missing")
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		p, err := n.Float64()
		if err != nil {
			return 0, eris.Wrapf(err, "value %q not numeric", n.String())
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, eris.Errorf("value %q not numeric", n)
		}
		f = p
	default:
		return 0, eris.Errorf("value of type %T not numeric", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.New("value not finite")
	}
	return f, nil
}
