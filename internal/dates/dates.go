// Package dates maps instants onto calendar days in a configured timezone.
package dates

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout is the calendar-date key format used across the service.
const Layout = "2006-01-02"

// MaxRangeDays bounds Range so a single request cannot fan out unbounded lookups.
const MaxRangeDays = 366

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// Bucketer resolves instants to calendar dates as observed in one location.
type Bucketer struct {
	loc *time.Location
}

// NewBucketer resolves an IANA timezone name. There is no implicit default:
// an empty name is rejected like an unknown one.
func NewBucketer(tz string) (*Bucketer, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return nil, err
	}
	return &Bucketer{loc: loc}, nil
}

// LoadZone wraps time.LoadLocation with ErrInvalidTimezone. "Local" is
// rejected so bucketing never depends on the host zone.
func LoadZone(tz string) (*time.Location, error) {
	name := strings.TrimSpace(tz)
	if name == "" {
		return nil, fmt.Errorf("%w: empty timezone", ErrInvalidTimezone)
	}
	if strings.EqualFold(name, "Local") {
		return nil, fmt.Errorf("%w: %q is not an IANA zone", ErrInvalidTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, name, err)
	}
	return loc, nil
}

func (b *Bucketer) Location() *time.Location { return b.loc }

// DateOf returns the calendar date of t in the bucketer's location.
func (b *Bucketer) DateOf(t time.Time) string {
	return t.In(b.loc).Format(Layout)
}

// Window returns days calendar dates ending with today's date (as seen from
// now in the bucketer's location), oldest first.
func (b *Bucketer) Window(now time.Time, days int) ([]string, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: days must not be negative (got %d)", ErrInvalidArgument, days)
	}
	out := make([]string, 0, days)
	y, m, d := now.In(b.loc).Date()
	// Day arithmetic is done on a UTC calendar so DST transitions in the
	// target zone cannot skip or repeat a date.
	for i := days - 1; i >= 0; i-- {
		out = append(out, time.Date(y, m, d-i, 0, 0, 0, 0, time.UTC).Format(Layout))
	}
	return out, nil
}

// Parse validates a YYYY-MM-DD key.
func Parse(date string) (time.Time, error) {
	t, err := time.Parse(Layout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidArgument, date)
	}
	return t, nil
}

// Range lists every calendar date from start to end inclusive.
func Range(start, end string) ([]string, error) {
	from, err := Parse(start)
	if err != nil {
		return nil, err
	}
	to, err := Parse(end)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidArgument, start, end)
	}
	span := int(to.Sub(from).Hours()/24) + 1
	if span > MaxRangeDays {
		return nil, fmt.Errorf("%w: range of %d days exceeds %d", ErrInvalidArgument, span, MaxRangeDays)
	}
	out := make([]string, 0, span)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		out = append(out, day.Format(Layout))
	}
	return out, nil
}
