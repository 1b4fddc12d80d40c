package models

// EventTime is either an all-day date (YYYY-MM-DD) or an RFC3339 date-time.
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

// AllDay reports whether the value carries a date without time of day.
func (t EventTime) AllDay() bool {
	return t.DateTime == "" && t.Date != ""
}

// CalendarEvent is a read-only event returned by the calendar provider.
type CalendarEvent struct {
	ID       string    `json:"id"`
	Summary  string    `json:"summary,omitempty"`
	Start    EventTime `json:"start"`
	End      EventTime `json:"end"`
	HTMLLink string    `json:"htmlLink,omitempty"`
}
