package chat

import (
	"fmt"
	"multiroom/internal/models"
	"time"
)

type ItemKind int

const (
	ItemDateMarker ItemKind = iota + 1
	ItemMessage
)

// DisplayItem is one entry of a grouped message sequence: either a date
// marker or a message. Key is stable for a given input position.
type DisplayItem struct {
	Kind  ItemKind
	Key   string
	Date  time.Time
	Event models.Event
}

// GroupByDate returns the events in their original order with a date marker
// inserted before the first event of every calendar day in loc. Events
// without a timestamp stay in the current group.
func GroupByDate(events []models.Event, loc *time.Location) []DisplayItem {
	if loc == nil {
		loc = time.Local
	}

	items := make([]DisplayItem, 0, len(events)+1)
	var lastDay string

	for i, ev := range events {
		if !ev.Timestamp.IsZero() {
			t := ev.Timestamp.In(loc)
			day := t.Format(time.DateOnly)
			if day != lastDay {
				lastDay = day
				items = append(items, DisplayItem{
					Kind: ItemDateMarker,
					Key:  fmt.Sprintf("date-%s-%d", day, i),
					Date: startOfDay(t),
				})
			}
		}
		items = append(items, DisplayItem{
			Kind:  ItemMessage,
			Key:   fmt.Sprintf("msg-%d", i),
			Event: ev,
		})
	}

	return items
}

// Messages extracts the events of a grouped sequence, dropping markers.
func Messages(items []DisplayItem) []models.Event {
	events := make([]models.Event, 0, len(items))
	for _, it := range items {
		if it.Kind == ItemMessage {
			events = append(events, it.Event)
		}
	}
	return events
}

// DateLabel renders a date marker relative to now: "Today", "Yesterday" or
// the long form "Monday, January 15, 2024".
func DateLabel(day, now time.Time) string {
	d := startOfDay(day.In(now.Location()))
	today := startOfDay(now)

	switch {
	case d.Equal(today):
		return "Today"
	case d.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return d.Format("Monday, January 2, 2006")
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
