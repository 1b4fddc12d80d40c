package google

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/dvlab/dvlab-api/internal/models"
)

const (
	// DateLayout is the wire format for calendar dates.
	DateLayout = "2006-01-02"

	orderByStartTime = "startTime"
	maxResults       = 500
)

// DateRange is a pair of optional calendar dates. End is inclusive.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// ParseDate reads a YYYY-MM-DD date as midnight UTC.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected %s", raw, DateLayout)
	}
	return t, nil
}

// ParseRange parses optional start/end strings. Empty strings leave the bound open.
func ParseRange(start, end string) (DateRange, error) {
	var r DateRange
	if start != "" {
		t, err := ParseDate(start)
		if err != nil {
			return DateRange{}, err
		}
		r.Start = &t
	}
	if end != "" {
		t, err := ParseDate(end)
		if err != nil {
			return DateRange{}, err
		}
		r.End = &t
	}
	return r, nil
}

// IsZero reports an unbounded range.
func (r DateRange) IsZero() bool {
	return r.Start == nil && r.End == nil
}

// View renders the range for API responses.
func (r DateRange) View() *models.DateRangeView {
	if r.IsZero() {
		return nil
	}
	v := &models.DateRangeView{}
	if r.Start != nil {
		v.Start = r.Start.Format(DateLayout)
	}
	if r.End != nil {
		v.End = r.End.Format(DateLayout)
	}
	return v
}

// CurrentWeek returns Monday through Sunday of the week containing now.
func CurrentWeek(now time.Time) DateRange {
	day := startOfDay(now)
	offset := (int(day.Weekday()) + 6) % 7
	monday := day.AddDate(0, 0, -offset)
	sunday := monday.AddDate(0, 0, 6)
	return DateRange{Start: &monday, End: &sunday}
}

// EventQuery is the list request sent to the calendar API.
type EventQuery struct {
	TimeMin      string
	TimeMax      string
	Q            string
	OrderBy      string
	SingleEvents bool
	ShowDeleted  bool
	MaxResults   int64
}

// BuildQuery derives the list request. TimeMax is the start of the day after End,
// which makes the last day inclusive under the API's exclusive upper bound.
func BuildQuery(r DateRange, summary string) EventQuery {
	q := EventQuery{
		Q:            summary,
		OrderBy:      orderByStartTime,
		SingleEvents: true,
		ShowDeleted:  false,
		MaxResults:   maxResults,
	}
	if r.Start != nil {
		q.TimeMin = startOfDay(*r.Start).Format(time.RFC3339)
	}
	if r.End != nil {
		q.TimeMax = startOfDay(*r.End).Add(24 * time.Hour).Format(time.RFC3339)
	}
	return q
}

// Values encodes the query for a REST request. Empty bounds and filter are omitted.
func (q EventQuery) Values() url.Values {
	v := url.Values{}
	v.Set("showDeleted", strconv.FormatBool(q.ShowDeleted))
	v.Set("singleEvents", strconv.FormatBool(q.SingleEvents))
	v.Set("orderBy", q.OrderBy)
	v.Set("maxResults", strconv.FormatInt(q.MaxResults, 10))
	if q.TimeMin != "" {
		v.Set("timeMin", q.TimeMin)
	}
	if q.TimeMax != "" {
		v.Set("timeMax", q.TimeMax)
	}
	if q.Q != "" {
		v.Set("q", q.Q)
	}
	return v
}

// FilterBySummary keeps events whose summary equals summary exactly.
// An empty summary returns events unchanged.
func FilterBySummary(events []models.CalendarEvent, summary string) []models.CalendarEvent {
	if summary == "" {
		return events
	}
	filtered := make([]models.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.Summary == summary {
			filtered = append(filtered, ev)
		}
	}
	return filtered
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
