package txlog

import (
	"fmt"
	"time"
)

// Window is an inclusive time range used to scope registry queries
type Window struct {
	Start time.Time
	End   time.Time
}

// HourWindow returns the window covering the UTC hour containing t,
// from HH:00:00 through HH:59:59.
func HourWindow(t time.Time) Window {
	start := t.UTC().Truncate(time.Hour)
	return Window{
		Start: start,
		End:   start.Add(time.Hour - time.Second),
	}
}

// DayWindow returns the window covering one UTC calendar day
func DayWindow(year int, month time.Month, day int) Window {
	start := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Window{
		Start: start,
		End:   start.Add(24*time.Hour - time.Second),
	}
}

func (w Window) String() string {
	return fmt.Sprintf("%s through %s", w.Start.Format(time.DateTime), w.End.Format(time.DateTime))
}
