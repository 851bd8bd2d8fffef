package analytics

import "time"

// Window is a coarse lookback filter
type Window string

const (
	WindowWeek    Window = "week"
	WindowMonth   Window = "month"
	WindowQuarter Window = "quarter"
	WindowYear    Window = "year"
)

// Windows lists every supported window
var Windows = []Window{WindowWeek, WindowMonth, WindowQuarter, WindowYear}

// ParseWindow maps a token to a Window, falling back to month
func ParseWindow(token string) Window {
	switch Window(token) {
	case WindowWeek, WindowMonth, WindowQuarter, WindowYear:
		return Window(token)
	default:
		return WindowMonth
	}
}

// WindowStart returns the absolute instant a window opens at.
//
// week is the exact instant seven days before now. month, quarter and year land on midnight in
// loc of the same day-of-month 1, 3 or 12 months back; day overflow rolls forward the way
// time.Date normalizes it (31 March minus one month is 2 March, or 3 March in a non leap year).
func WindowStart(token string, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	y, m, d := local.Date()

	switch ParseWindow(token) {
	case WindowWeek:
		return now.Add(-7 * day)
	case WindowQuarter:
		return time.Date(y, m-3, d, 0, 0, 0, 0, loc)
	case WindowYear:
		return time.Date(y-1, m, d, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m-1, d, 0, 0, 0, 0, loc)
	}
}
