package meal

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME OF DAY - Minutes since midnight
// =============================================================================

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
// Valid values are in [0, 24*60).
type TimeOfDay int

const minutesPerDay = 24 * 60

// EndOfDay is 24:00. It is valid only as the End of a window.
const EndOfDay TimeOfDay = minutesPerDay

// Clock builds a TimeOfDay from hour and minute.
func Clock(hour, minute int) TimeOfDay { return TimeOfDay(hour*60 + minute) }

// TimeOfDayOf returns the wall-clock time of t in t's own location.
func TimeOfDayOf(t time.Time) TimeOfDay { return Clock(t.Hour(), t.Minute()) }

// ParseTimeOfDay parses "HH:MM" (seconds are accepted and dropped).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q (use HH:MM)", s)
}

// ParseWindowEnd is ParseTimeOfDay that also accepts "24:00".
func ParseWindowEnd(s string) (TimeOfDay, error) {
	if s == "24:00" || s == "24:00:00" {
		return EndOfDay, nil
	}
	return ParseTimeOfDay(s)
}

// MustParseTimeOfDay is ParseTimeOfDay for literals; it panics on bad input.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Hour() int               { return int(t) / 60 }
func (t TimeOfDay) Minute() int             { return int(t) % 60 }
func (t TimeOfDay) Before(o TimeOfDay) bool { return t < o }
func (t TimeOfDay) Valid() bool             { return t >= 0 && t < minutesPerDay }
func (t TimeOfDay) String() string          { return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute()) }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText accepts "24:00" so window ends decode; Valid still
// rejects it as a point in time.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseWindowEnd(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// =============================================================================
// WINDOW - Half-open token issuance interval [Start, End)
// =============================================================================

// Window is a token-issuance interval within one day. Start < End always
// holds for a valid window; windows never wrap past midnight. End may be
// EndOfDay so the last minute of the day can be covered.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// NewWindow parses two "HH:MM" values into a window.
func NewWindow(start, end string) (Window, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseWindowEnd(end)
	if err != nil {
		return Window{}, err
	}
	w := Window{Start: s, End: e}
	if !w.Valid() {
		return Window{}, fmt.Errorf("invalid window %s: start must be before end", w)
	}
	return w, nil
}

// MustWindow is NewWindow for literals.
func MustWindow(start, end string) Window {
	w, err := NewWindow(start, end)
	if err != nil {
		panic(err)
	}
	return w
}

func (w Window) Valid() bool               { return w.Start.Valid() && w.End <= EndOfDay && w.Start < w.End }
func (w Window) Contains(t TimeOfDay) bool { return w.Start <= t && t < w.End }
func (w Window) String() string            { return w.Start.String() + "-" + w.End.String() }

// Overlaps reports whether two half-open windows share any minute.
// Windows that only touch at an edge do not overlap.
func (w Window) Overlaps(o Window) bool { return w.Start < o.End && o.Start < w.End }

// =============================================================================
// DATE - Calendar day
// =============================================================================

// Date is a calendar day, stored as midnight UTC.
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date { return NewDate(t.Year(), t.Month(), t.Day()) }

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) Time() time.Time    { return d.t }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) String() string     { return d.t.Format(dateLayout) }

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// At combines the date with a wall-clock time in loc.
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.t.Year(), d.t.Month(), d.t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}
