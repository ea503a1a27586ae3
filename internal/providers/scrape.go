package providers

import (
	"time"

	"github.com/adyam/logistics-tracker/internal/tracking"
)

// eventsFromRows converts (description, location, time) cell triples into
// normalized events, dropping rows without a description.
func eventsFromRows(rows [][]string) []tracking.Event {
	events := make([]tracking.Event, 0, len(rows))
	for _, row := range rows {
		var desc, loc, ts string
		if len(row) > 0 {
			desc = row[0]
		}
		if len(row) > 1 {
			loc = row[1]
		}
		if len(row) > 2 {
			ts = row[2]
		}
		if e, ok := tracking.NewEvent(desc, loc, tracking.ParseEventTime(ts)); ok {
			events = append(events, e)
		}
	}
	return events
}

// eventsFromTexts converts bare history-row texts into description-only
// events. Some courier pages expose no structured columns at all.
func eventsFromTexts(texts []string) []tracking.Event {
	events := make([]tracking.Event, 0, len(texts))
	for _, t := range texts {
		if e, ok := tracking.NewEvent(t, "", nil); ok {
			events = append(events, e)
		}
	}
	return events
}

// scrapedResult assembles the normalized result for a scraped page.
func scrapedResult(
	awb, provider, rawStatus, location, timestamp string,
	events []tracking.Event,
	now time.Time,
) tracking.Result {
	status := tracking.CleanText(rawStatus)
	if status == "" {
		status = "Status not found"
	}
	lastEventTime := tracking.ParseEventTime(timestamp)
	if lastEventTime == nil {
		lastEventTime = tracking.LatestEventTime(events)
	}
	return tracking.Result{
		AWB:           awb,
		Provider:      provider,
		Status:        status,
		RawStatus:     rawStatus,
		LastLocation:  tracking.CleanText(location),
		LastEventTime: lastEventTime,
		Events:        events,
		Delivered:     tracking.IsDelivered(status),
		CheckedAt:     now,
	}
}
