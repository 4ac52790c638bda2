package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Calendar date abstraction (leave is granted and taken in days)
// =============================================================================

// TimePoint is a calendar date. The time of day is always midnight UTC.
type TimePoint struct {
	Time time.Time
}

const DateLayout = "2006-01-02"

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

func Today() TimePoint {
	return DateOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, &InvalidInputError{Field: "date", Reason: fmt.Sprintf("invalid date %q (use YYYY-MM-DD)", s)}
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for fixtures and tests.
func MustParseDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint  { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }
func (tp TimePoint) AddYears(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(n, 0, 0)} }

// AddMonths adds whole calendar months, keeping the day of month. When the
// target month is shorter, the result is clamped to its last day
// (Aug 31 + 6 months = Feb 28/29), never rolled into the following month.
func (tp TimePoint) AddMonths(n int) TimePoint {
	t := tp.Time
	firstOfTarget := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return NewTimePoint(firstOfTarget.Year(), firstOfTarget.Month(), day)
}

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	return tp.Time.Format(DateLayout)
}

// MarshalText renders the date as YYYY-MM-DD.
func (tp TimePoint) MarshalText() ([]byte, error) {
	return []byte(tp.String()), nil
}

func (tp *TimePoint) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*tp = parsed
	return nil
}
