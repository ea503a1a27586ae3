package tracking

import (
	"strings"
	"time"
)

var spacer = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")

// CleanText collapses runs of whitespace into single spaces and trims the
// result. All adapter status and event text passes through here.
func CleanText(s string) string {
	return strings.Join(strings.Fields(spacer.Replace(s)), " ")
}

// IsDelivered reports whether a normalized status text means the shipment
// reached its destination.
func IsDelivered(status string) bool {
	return strings.Contains(strings.ToLower(status), "delivered")
}

// courier sites disagree wildly on date formats; try the common ones.
var eventTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04",
	"01/02/2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"2 Jan 2006 15:04",
	"2006-01-02",
}

// ParseEventTime best-effort parses a scraped timestamp. Returns nil when
// the text matches no known layout; callers keep the raw text elsewhere.
func ParseEventTime(s string) *time.Time {
	s = CleanText(s)
	if s == "" {
		return nil
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// NewEvent builds a normalized event. Returns ok=false when the description
// is empty after cleaning; such events are discarded.
func NewEvent(description, location string, at *time.Time) (Event, bool) {
	desc := CleanText(description)
	if desc == "" {
		return Event{}, false
	}
	return Event{Description: desc, Location: CleanText(location), Time: at}, true
}
