package tracking

import "time"

type eventKey struct {
	description string
	time        int64
	hasTime     bool
}

func keyOf(e Event) eventKey {
	k := eventKey{description: e.Description}
	if e.Time != nil {
		k.time = e.Time.UnixNano()
		k.hasTime = true
	}
	return k
}

// MergeEvents concatenates prior events with newly observed ones, preserving
// order, and drops any later event whose (description, time) pair was
// already seen. Repeated polls of the same shipment therefore never grow
// the stored history with duplicates.
func MergeEvents(old, observed []Event) []Event {
	merged := make([]Event, 0, len(old)+len(observed))
	seen := make(map[eventKey]struct{}, len(old)+len(observed))
	for _, e := range old {
		k := keyOf(e)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, e)
	}
	for _, e := range observed {
		k := keyOf(e)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, e)
	}
	return merged
}

// LatestEventTime returns the most recent event timestamp, or nil when no
// event carries one.
func LatestEventTime(events []Event) *time.Time {
	var latest *time.Time
	for i := range events {
		t := events[i].Time
		if t == nil {
			continue
		}
		if latest == nil || t.After(*latest) {
			latest = t
		}
	}
	return latest
}
