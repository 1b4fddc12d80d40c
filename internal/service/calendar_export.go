package service

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/dvlab/dvlab-api/internal/google"
	"github.com/dvlab/dvlab-api/internal/models"
)

const icsProductID = "-//dvlab//schedule//EN"

// RenderICS serializes events as an iCalendar document. All-day events keep
// DATE values, timed events are written in UTC.
func RenderICS(events []models.CalendarEvent, stamp time.Time) (string, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)

	for _, ev := range events {
		vevent := cal.AddEvent(ev.ID)
		vevent.SetDtStampTime(stamp.UTC())
		if ev.Summary != "" {
			vevent.SetSummary(ev.Summary)
		}
		if ev.HTMLLink != "" {
			vevent.SetURL(ev.HTMLLink)
		}
		if err := setEventTimes(vevent, ev); err != nil {
			return "", fmt.Errorf("event %s: %w", ev.ID, err)
		}
	}
	return cal.Serialize(), nil
}

func setEventTimes(vevent *ical.VEvent, ev models.CalendarEvent) error {
	if ev.Start.AllDay() {
		start, err := google.ParseDate(ev.Start.Date)
		if err != nil {
			return err
		}
		vevent.SetAllDayStartAt(start)
		if ev.End.Date != "" {
			end, err := google.ParseDate(ev.End.Date)
			if err != nil {
				return err
			}
			vevent.SetAllDayEndAt(end)
		}
		return nil
	}

	start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
	if err != nil {
		return fmt.Errorf("invalid start %q", ev.Start.DateTime)
	}
	vevent.SetStartAt(start.UTC())
	if ev.End.DateTime != "" {
		end, err := time.Parse(time.RFC3339, ev.End.DateTime)
		if err != nil {
			return fmt.Errorf("invalid end %q", ev.End.DateTime)
		}
		vevent.SetEndAt(end.UTC())
	}
	return nil
}
