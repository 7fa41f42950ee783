package recurrence

import "time"

// Scan bounds. Each pattern recurs well within these windows; the extra slack
// covers days on which a daylight-saving gap moves the candidate.
const (
	dailyScanDays     = 3
	weeklyScanDays    = 8
	monthlyScanMonths = 3
)

// Next returns the earliest instant strictly after now at which rule fires, in UTC.
// ok is false only when the rule is invalid.
func Next(rule Rule, now time.Time) (next time.Time, ok bool) {
	if err := Validate(rule); err != nil {
		return time.Time{}, false
	}
	return rule.next(now)
}

// NextN returns the next n firing instants after now
func NextN(rule Rule, now time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for len(out) < n {
		t, ok := Next(rule, now)
		if !ok {
			break
		}
		out = append(out, t)
		now = t
	}
	return out
}

func (r Daily) next(now time.Time) (time.Time, bool) {
	today := dateOf(now.In(r.zone.loc))
	for i := 0; i < dailyScanDays; i++ {
		if at := r.zone.resolve(today.addDays(i), r.at); at.After(now) {
			return at, true
		}
	}
	return time.Time{}, false
}

func (r Weekly) next(now time.Time) (time.Time, bool) {
	today := dateOf(now.In(r.zone.loc))
	for i := 0; i < weeklyScanDays; i++ {
		d := today.addDays(i)
		if !r.days.Has(d.weekday()) {
			continue
		}
		if at := r.zone.resolve(d, r.at); at.After(now) {
			return at, true
		}
	}
	return time.Time{}, false
}

func (r Monthly) next(now time.Time) (time.Time, bool) {
	local := now.In(r.zone.loc)
	for i := 0; i < monthlyScanMonths; i++ {
		first := time.Date(local.Year(), local.Month()+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		day := r.day
		if last := daysIn(first.Year(), first.Month()); day > last {
			day = last
		}
		d := civilDate{year: first.Year(), month: first.Month(), day: day}
		if at := r.zone.resolve(d, r.at); at.After(now) {
			return at, true
		}
	}
	return time.Time{}, false
}
