package evaluator

import (
	"sort"
	"time"

	"github.com/avolokh/taskmind/internal/schedule"
)

// classifyRecurrence infers a recurrence pattern from the timestamps of prior
// occurrences of the same event. It needs at least two occurrences and
// tolerates drift of up to a quarter of the candidate interval, so a "weekly"
// meeting that slips by a day still classifies. Returns false when the gaps
// fit no pattern.
func classifyRecurrence(occurrences []time.Time) (schedule.Type, bool) {
	if len(occurrences) < 2 {
		return "", false
	}

	sorted := make([]time.Time, len(occurrences))
	copy(sorted, occurrences)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	gaps := make([]time.Duration, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].Sub(sorted[i-1]))
	}

	candidates := []struct {
		typ      schedule.Type
		interval time.Duration
	}{
		{schedule.TypeDaily, 24 * time.Hour},
		{schedule.TypeWeekly, 7 * 24 * time.Hour},
		{schedule.TypeMonthly, 30 * 24 * time.Hour},
	}

	for _, c := range candidates {
		tolerance := c.interval / 4
		ok := true
		for _, g := range gaps {
			if g < c.interval-tolerance || g > c.interval+tolerance {
				ok = false
				break
			}
		}
		if ok {
			return c.typ, true
		}
	}
	return "", false
}

// declaredRecurrence maps an event's own recurrence field onto a schedule
// type. A declared pattern always wins over history inference.
func declaredRecurrence(recurrence string) (schedule.Type, bool) {
	switch recurrence {
	case "daily":
		return schedule.TypeDaily, true
	case "weekly":
		return schedule.TypeWeekly, true
	case "monthly":
		return schedule.TypeMonthly, true
	default:
		return "", false
	}
}
