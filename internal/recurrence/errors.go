package recurrence

import "fmt"

// Field names reported by InvalidRuleError. They match the JSON keys of Spec.
const (
	FieldFrequency  = "frequency"
	FieldTime       = "time"
	FieldTimezone   = "timezone"
	FieldDaysOfWeek = "daysOfWeek"
	FieldDayOfMonth = "dayOfMonth"
)

// InvalidRuleError reports a structurally invalid recurrence rule.
// Field identifies which part of the rule was rejected.
type InvalidRuleError struct {
	Field  string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid recurrence rule: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *InvalidRuleError {
	return &InvalidRuleError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
