package recurrence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions with an optional CRON_TZ prefix
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronExpression exports a rule as a cron spec ("CRON_TZ=<zone> m h dom * dow") for
// external schedulers. Cron cannot clamp a day-of-month, so monthly rules past the
// 28th are rejected, as are fixed offset zones which cron cannot load.
func CronExpression(rule Rule) (string, error) {
	if err := Validate(rule); err != nil {
		return "", err
	}
	zone := rule.Zone()
	if zone.isFixed() {
		return "", fmt.Errorf("fixed offset zone %s cannot be expressed in cron", zone.Name())
	}

	dom, dow := "*", "*"
	switch r := rule.(type) {
	case Weekly:
		days := make([]string, 0, 7)
		for _, d := range r.days.Days() {
			days = append(days, strconv.Itoa(int(d)))
		}
		dow = strings.Join(days, ",")
	case Monthly:
		if r.day > 28 {
			return "", fmt.Errorf("day of month %d is clamped in short months and has no cron equivalent", r.day)
		}
		dom = strconv.Itoa(r.day)
	}

	at := rule.Time()
	expr := fmt.Sprintf("CRON_TZ=%s %d %d %s * %s", zone.Name(), at.Minute, at.Hour, dom, dow)
	if _, err := cronParser.Parse(expr); err != nil {
		return "", fmt.Errorf("generated cron expression %q is invalid: %w", expr, err)
	}
	return expr, nil
}
