package forecast

import "time"

// HybridBlend estimates an in-progress period as the actual demand so far plus
// the full-period forecast prorated over the remaining units.
func HybridBlend(actual, full, remaining, total float64) float64 {
	if total <= 0 {
		return actual
	}
	remaining = min(max(remaining, 0), total)
	return actual + full*remaining/total
}

// CurrentPeriodHybrid blends by days: the day of now counts as elapsed.
func CurrentPeriodHybrid(actual, full float64, now time.Time) float64 {
	days := DaysInMonth(now)
	return HybridBlend(actual, full, float64(days-now.Day()), float64(days))
}

// DaysInMonth returns the number of days in t's month.
func DaysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
