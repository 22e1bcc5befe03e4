package clock

import "time"

// Clock abstracts wall-clock reads so jobs can be driven by a fake in tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Today returns midnight UTC of the calendar date observed in loc.
// Date columns are stored as UTC midnights so comparisons stay portable across dialects.
func Today(c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := c.Now().In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
