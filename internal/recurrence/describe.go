package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// displayOrder lists weekdays Monday first, the way they read in a sentence
var displayOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

// Describe renders a rule for display, e.g. "Every Monday and Friday at 14:30".
// Rules outside UTC carry the zone label: "Every day at 09:00 (Europe/London)".
func Describe(rule Rule) string {
	if Validate(rule) != nil {
		return "Invalid schedule"
	}

	var b strings.Builder
	switch r := rule.(type) {
	case Daily:
		fmt.Fprintf(&b, "Every day at %s", r.at)
	case Weekly:
		fmt.Fprintf(&b, "Every %s at %s", joinWeekdays(r.days), r.at)
	case Monthly:
		fmt.Fprintf(&b, "On the %s of each month at %s", ordinal(r.day), r.at)
	}

	if name := rule.Zone().Name(); name != UTC.Name() {
		fmt.Fprintf(&b, " (%s)", name)
	}
	return b.String()
}

func joinWeekdays(set WeekdaySet) string {
	names := make([]string, 0, 7)
	for _, d := range displayOrder {
		if set.Has(d) {
			names = append(names, d.String())
		}
	}
	if len(names) == 1 {
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
