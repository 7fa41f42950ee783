package recurrence

import (
	"strings"
	"time"
)

// Spec is the loosely-typed form of a rule used on the wire and in storage.
// Only the day selector that matches Frequency is read; the other is ignored.
type Spec struct {
	Frequency  Frequency `json:"frequency"`
	Time       string    `json:"time"`
	Timezone   string    `json:"timezone"`
	DaysOfWeek []int     `json:"daysOfWeek,omitempty"`
	DayOfMonth *int      `json:"dayOfMonth,omitempty"`
}

// Rule builds the variant selected by s.Frequency
func (s Spec) Rule() (Rule, error) {
	freq := Frequency(strings.ToLower(strings.TrimSpace(string(s.Frequency))))
	switch freq {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	case "":
		return nil, invalid(FieldFrequency, "frequency is required")
	default:
		return nil, invalid(FieldFrequency, "unknown frequency %q", s.Frequency)
	}

	at, err := ParseTimeOfDay(s.Time)
	if err != nil {
		return nil, err
	}

	switch freq {
	case FrequencyDaily:
		r, err := NewDaily(at, s.Timezone)
		if err != nil {
			return nil, err
		}
		return r, nil

	case FrequencyWeekly:
		days := make([]time.Weekday, 0, len(s.DaysOfWeek))
		for _, d := range s.DaysOfWeek {
			days = append(days, time.Weekday(d))
		}
		r, err := NewWeekly(days, at, s.Timezone)
		if err != nil {
			return nil, err
		}
		return r, nil

	default:
		if s.DayOfMonth == nil {
			return nil, invalid(FieldDayOfMonth, "day of month is required for monthly rules")
		}
		r, err := NewMonthly(*s.DayOfMonth, at, s.Timezone)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// SpecOf converts a rule back to its wire form
func SpecOf(rule Rule) Spec {
	if rule == nil {
		return Spec{}
	}
	s := Spec{
		Frequency: rule.Frequency(),
		Time:      rule.Time().String(),
		Timezone:  rule.Zone().Name(),
	}
	switch r := rule.(type) {
	case Weekly:
		for _, d := range r.days.Days() {
			s.DaysOfWeek = append(s.DaysOfWeek, int(d))
		}
	case Monthly:
		day := r.day
		s.DayOfMonth = &day
	}
	return s
}
