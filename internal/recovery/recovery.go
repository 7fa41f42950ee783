// Package recovery turns panics into errors carrying the stack trace.
package recovery

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// PanicError represents an error recovered from a panic
type PanicError struct {
	Value      interface{}
	Stacktrace string
}

// Error implements the error interface
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}

// Do runs fn and returns its error, or a *PanicError if fn panicked
func Do(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Value:      r,
				Stacktrace: string(debug.Stack()),
			}
		}
	}()
	return fn()
}

// AsPanic reports whether err came from a recovered panic
func AsPanic(err error) (*PanicError, bool) {
	var p *PanicError
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}

// FormatPanicForLog returns a formatted string suitable for logging
func FormatPanicForLog(p *PanicError) string {
	return fmt.Sprintf("PANIC: %v\n\nStack Trace:\n%s", p.Value, p.Stacktrace)
}
