package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	// Embedded tz database so zone resolution does not depend on the host.
	_ "time/tzdata"
)

// offsetPattern matches fixed offset labels such as "UTC+03:00", "GMT-4" or "+0530"
var offsetPattern = regexp.MustCompile(`^(?:UTC|GMT)?([+-])(\d{1,2})(?::?(\d{2}))?$`)

// Zone is a resolved timezone together with the label it was configured with
type Zone struct {
	name string
	loc  *time.Location
}

// UTC is the zone used when a rule does not name one
var UTC = Zone{name: "UTC", loc: time.UTC}

// LoadZone resolves an IANA zone name or a fixed UTC offset label.
// An empty name resolves to UTC.
func LoadZone(name string) (Zone, error) {
	trimmed := strings.TrimSpace(name)
	switch strings.ToUpper(trimmed) {
	case "", "UTC", "Z", "GMT":
		return UTC, nil
	}

	if m := offsetPattern.FindStringSubmatch(strings.ToUpper(trimmed)); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes := 0
		if m[3] != "" {
			minutes, _ = strconv.Atoi(m[3])
		}
		if hours > 14 || minutes > 59 {
			return Zone{}, invalid(FieldTimezone, "offset %q is out of range", name)
		}
		seconds := hours*3600 + minutes*60
		if m[1] == "-" {
			seconds = -seconds
		}
		label := fmt.Sprintf("UTC%s%02d:%02d", m[1], hours, minutes)
		return Zone{name: label, loc: time.FixedZone(label, seconds)}, nil
	}

	loc, err := time.LoadLocation(trimmed)
	if err != nil {
		return Zone{}, invalid(FieldTimezone, "unknown timezone %q", name)
	}
	return Zone{name: trimmed, loc: loc}, nil
}

// Name returns the configured label of the zone
func (z Zone) Name() string {
	return z.name
}

// Location returns the resolved location (nil for the zero Zone)
func (z Zone) Location() *time.Location {
	return z.loc
}

// IsZero reports whether the zone was never resolved
func (z Zone) IsZero() bool {
	return z.loc == nil
}

func (z Zone) String() string {
	return z.name
}

// isFixed reports whether the zone is a fixed offset rather than a tz database entry
func (z Zone) isFixed() bool {
	return z.loc != time.UTC && strings.HasPrefix(z.name, "UTC") && len(z.name) > 3
}

// resolve maps a wall-clock time on date d to a UTC instant.
// An ambiguous wall time (repeated hour) resolves to its earlier instant. A wall time
// inside a gap (skipped hour) resolves to the first valid instant after the gap.
func (z Zone) resolve(d civilDate, at TimeOfDay) time.Time {
	naive := time.Date(d.year, d.month, d.day, at.Hour, at.Minute, 0, 0, time.UTC)

	var best time.Time
	for _, probe := range []time.Time{naive.Add(-24 * time.Hour), naive.Add(24 * time.Hour)} {
		_, offset := probe.In(z.loc).Zone()
		candidate := naive.Add(-time.Duration(offset) * time.Second)
		if !sameWallClock(candidate.In(z.loc), naive) {
			continue
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	if !best.IsZero() {
		return best.UTC()
	}

	// Nonexistent wall time. Read under the later offset it falls before the
	// transition, so the end of that zone period is the first valid instant.
	_, later := naive.Add(24 * time.Hour).In(z.loc).Zone()
	_, end := naive.Add(-time.Duration(later) * time.Second).In(z.loc).ZoneBounds()
	if !end.IsZero() {
		return end.UTC()
	}
	return time.Date(d.year, d.month, d.day, at.Hour, at.Minute, 0, 0, z.loc).UTC()
}

func sameWallClock(t, naive time.Time) bool {
	return t.Year() == naive.Year() &&
		t.Month() == naive.Month() &&
		t.Day() == naive.Day() &&
		t.Hour() == naive.Hour() &&
		t.Minute() == naive.Minute()
}

// civilDate is a calendar date without a zone
type civilDate struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time) civilDate {
	return civilDate{year: t.Year(), month: t.Month(), day: t.Day()}
}

func (d civilDate) addDays(n int) civilDate {
	return dateOf(time.Date(d.year, d.month, d.day+n, 0, 0, 0, 0, time.UTC))
}

func (d civilDate) weekday() time.Weekday {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC).Weekday()
}

// daysIn returns the number of days in the given month
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
