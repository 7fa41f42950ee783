// Package recurrence describes when a report runs and computes the instants at which it fires.
//
// A Rule is one of three variants (Daily, Weekly, Monthly). Each variant carries only the
// day selector it needs, so a weekly rule with a day-of-month cannot be built. Values are
// immutable and safe to share between goroutines.
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency identifies the variant of a Rule
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Rule is a validated recurrence rule. Implemented by Daily, Weekly and Monthly only.
type Rule interface {
	Frequency() Frequency
	Time() TimeOfDay
	Zone() Zone

	// next returns the earliest firing instant strictly after now
	next(now time.Time) (time.Time, bool)
}

// TimeOfDay is a wall-clock time with minute precision
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour clock)
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, invalid(FieldTime, "expected HH:MM, got %q", s)
	}
	// Atoi alone would accept signs like "+9" or "-0"
	if len(hh) < 1 || len(hh) > 2 || !isDigits(hh) || len(mm) != 2 || !isDigits(mm) {
		return TimeOfDay{}, invalid(FieldTime, "expected HH:MM, got %q", s)
	}
	hour, _ := strconv.Atoi(hh)
	minute, _ := strconv.Atoi(mm)
	t := TimeOfDay{Hour: hour, Minute: minute}
	if err := t.validate(); err != nil {
		return TimeOfDay{}, err
	}
	return t, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return invalid(FieldTime, "hour must be between 0 and 23, got %d", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return invalid(FieldTime, "minute must be between 0 and 59, got %d", t.Minute)
	}
	return nil
}

// WeekdaySet is a set of weekdays (bit i set means time.Weekday(i))
type WeekdaySet uint8

// NewWeekdaySet builds a set from weekdays; values outside Sunday..Saturday are dropped
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			s |= 1 << uint(d)
		}
	}
	return s
}

// Has reports whether d is in the set
func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Len returns the number of weekdays in the set
func (s WeekdaySet) Len() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// Days returns the members in Sunday..Saturday order
func (s WeekdaySet) Days() []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

// Daily fires every day at a fixed time
type Daily struct {
	at   TimeOfDay
	zone Zone
}

// NewDaily builds a daily rule
func NewDaily(at TimeOfDay, timezone string) (Daily, error) {
	if err := at.validate(); err != nil {
		return Daily{}, err
	}
	zone, err := LoadZone(timezone)
	if err != nil {
		return Daily{}, err
	}
	return Daily{at: at, zone: zone}, nil
}

func (r Daily) Frequency() Frequency { return FrequencyDaily }
func (r Daily) Time() TimeOfDay      { return r.at }
func (r Daily) Zone() Zone           { return r.zone }

// Weekly fires on a set of weekdays at a fixed time
type Weekly struct {
	days WeekdaySet
	at   TimeOfDay
	zone Zone
}

// NewWeekly builds a weekly rule. days uses 0=Sunday..6=Saturday and must not be empty.
func NewWeekly(days []time.Weekday, at TimeOfDay, timezone string) (Weekly, error) {
	if err := at.validate(); err != nil {
		return Weekly{}, err
	}
	if len(days) == 0 {
		return Weekly{}, invalid(FieldDaysOfWeek, "at least one weekday is required for weekly rules")
	}
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return Weekly{}, invalid(FieldDaysOfWeek, "weekday must be between 0 and 6, got %d", int(d))
		}
	}
	zone, err := LoadZone(timezone)
	if err != nil {
		return Weekly{}, err
	}
	return Weekly{days: NewWeekdaySet(days...), at: at, zone: zone}, nil
}

func (r Weekly) Frequency() Frequency { return FrequencyWeekly }
func (r Weekly) Time() TimeOfDay      { return r.at }
func (r Weekly) Zone() Zone           { return r.zone }

// Days returns the weekdays the rule fires on
func (r Weekly) Days() WeekdaySet { return r.days }

// Monthly fires once a month on a day-of-month at a fixed time.
// A day beyond the end of a month is clamped to that month's last day.
type Monthly struct {
	day  int
	at   TimeOfDay
	zone Zone
}

// NewMonthly builds a monthly rule. day must be between 1 and 31.
func NewMonthly(day int, at TimeOfDay, timezone string) (Monthly, error) {
	if err := at.validate(); err != nil {
		return Monthly{}, err
	}
	if day < 1 || day > 31 {
		return Monthly{}, invalid(FieldDayOfMonth, "day of month must be between 1 and 31, got %d", day)
	}
	zone, err := LoadZone(timezone)
	if err != nil {
		return Monthly{}, err
	}
	return Monthly{day: day, at: at, zone: zone}, nil
}

func (r Monthly) Frequency() Frequency { return FrequencyMonthly }
func (r Monthly) Time() TimeOfDay      { return r.at }
func (r Monthly) Zone() Zone           { return r.zone }

// Day returns the configured day of month (before clamping)
func (r Monthly) Day() int { return r.day }

// Validate re-checks a rule value. Rules built by the constructors always pass;
// zero values and nil do not.
func Validate(rule Rule) error {
	switch r := rule.(type) {
	case nil:
		return invalid(FieldFrequency, "rule is required")
	case Daily:
		return validateCommon(r.at, r.zone)
	case Weekly:
		if r.days == 0 {
			return invalid(FieldDaysOfWeek, "at least one weekday is required for weekly rules")
		}
		return validateCommon(r.at, r.zone)
	case Monthly:
		if r.day < 1 || r.day > 31 {
			return invalid(FieldDayOfMonth, "day of month must be between 1 and 31, got %d", r.day)
		}
		return validateCommon(r.at, r.zone)
	default:
		return invalid(FieldFrequency, "unsupported rule type %T", rule)
	}
}

func validateCommon(at TimeOfDay, zone Zone) error {
	if err := at.validate(); err != nil {
		return err
	}
	if zone.IsZero() {
		return invalid(FieldTimezone, "timezone is not resolved")
	}
	return nil
}

// Equal reports whether two rules describe the same recurrence
func Equal(a, b Rule) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Frequency() == b.Frequency() &&
		a.Time() == b.Time() &&
		a.Zone().Name() == b.Zone().Name() &&
		selectorOf(a) == selectorOf(b)
}

func selectorOf(r Rule) int {
	switch v := r.(type) {
	case Weekly:
		return int(v.days)
	case Monthly:
		return v.day
	}
	return 0
}
