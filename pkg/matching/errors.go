package matching

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid rule set. It is only produced while loading or compiling a rule
// set and must stop the process from starting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid rule set: " + e.Reason
	}
	return fmt.Sprintf("invalid rule set: %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TypeError reports a runtime field value that a comparator cannot interpret.
type TypeError struct {
	Field  string
	Kind   string
	Value  any
	Reason string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("field %q (%s): cannot compare value of type %T: %s", e.Field, e.Kind, e.Value, e.Reason)
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsTypeError reports whether err is or wraps a TypeError.
func IsTypeError(err error) bool {
	var target *TypeError
	return errors.As(err, &target)
}
