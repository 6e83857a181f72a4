package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidDate marks a date or reminder that cannot be parsed.
var ErrInvalidDate = errors.New("invalid date")

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	// WarrantyExpiredLabel is shown once the warranty end date has passed.
	WarrantyExpiredLabel = "Expired"

	warrantyYears = 1
)

// ParseDate parses a calendar date at midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %w", ErrInvalidDate, value, err)
	}
	return t, nil
}

// WarrantyEnd computes the end date for a warranty starting on start.
func WarrantyEnd(start string, loc *time.Location) (string, error) {
	t, err := ParseDate(start, loc)
	if err != nil {
		return "", err
	}
	return t.AddDate(warrantyYears, 0, 0).Format(DateLayout), nil
}

// WarrantyExpired reports whether the end date (midnight in loc) is strictly
// before now. A warranty ending today counts as expired once midnight passed.
func WarrantyExpired(end string, now time.Time, loc *time.Location) (bool, error) {
	t, err := ParseDate(end, loc)
	if err != nil {
		return false, err
	}
	return t.Before(now), nil
}

// RemainingWarranty renders the time left until end, or "Expired".
func RemainingWarranty(end string, now time.Time, loc *time.Location) string {
	endAt, err := ParseDate(end, loc)
	if err != nil {
		return ""
	}
	if endAt.Before(now) {
		return WarrantyExpiredLabel
	}
	if loc == nil {
		loc = time.Local
	}
	n := now.In(loc)
	from := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)

	months := 0
	for !from.AddDate(0, months+1, 0).After(endAt) {
		months++
	}
	days := int(math.Round(endAt.Sub(from.AddDate(0, months, 0)).Hours() / 24))

	switch {
	case months == 0:
		return plural(days, "day")
	case days == 0:
		return plural(months, "month")
	default:
		return plural(months, "month") + " " + plural(days, "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
