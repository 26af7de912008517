package availability

import (
	"fmt"
	"time"

	"github.com/codr1/courtside/internal/clubapi"
)

// ParseDate parses an ISO (YYYY-MM-DD) date key.
func ParseDate(date string) (time.Time, error) {
	parsed, err := time.Parse(clubapi.DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: must be YYYY-MM-DD", date)
	}
	return parsed, nil
}

// AddDays shifts an ISO date by n calendar days.
func AddDays(date string, n int) (string, error) {
	parsed, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return parsed.AddDate(0, 0, n).Format(clubapi.DateLayout), nil
}

// DateOf formats t as an ISO date in loc.
func DateOf(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(clubapi.DateLayout)
}
