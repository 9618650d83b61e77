package fleet

import (
	"strconv"
	"time"

	"github.com/jeffstoner/ganymede/internal/txlog"
)

// MinLogYear is the earliest year accepted by a log filter
const MinLogYear = 2015

// LogFilter narrows an agent log to one UTC day. Zero fields are unset.
type LogFilter struct {
	Year  int
	Month int
	Day   int
}

// ParseLogFilter builds a filter from raw query values. Values that do not
// parse or fall out of range are dropped rather than rejected.
func ParseLogFilter(year, month, day string) LogFilter {
	var f LogFilter
	if n, err := strconv.Atoi(year); err == nil && n >= MinLogYear {
		f.Year = n
	}
	if n, err := strconv.Atoi(month); err == nil && n >= 1 && n <= 12 {
		f.Month = n
	}
	if n, err := strconv.Atoi(day); err == nil && n >= 1 && n <= 31 {
		f.Day = n
	}
	return f
}

// Window returns the day the filter selects, filling unset parts from
// now. It reports false when no part is set.
func (f LogFilter) Window(now time.Time) (txlog.Window, bool) {
	if f.Year == 0 && f.Month == 0 && f.Day == 0 {
		return txlog.Window{}, false
	}

	now = now.UTC()
	year, month, day := now.Year(), now.Month(), now.Day()
	if f.Year != 0 {
		year = f.Year
	}
	if f.Month != 0 {
		month = time.Month(f.Month)
	}
	if f.Day != 0 {
		day = f.Day
	}

	return txlog.DayWindow(year, month, day), true
}
