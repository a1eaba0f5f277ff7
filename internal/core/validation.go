package core

import "strings"

// FieldError pairs a schema field name with the sentinel violation it failed (§7 "Validation").
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e FieldError) Unwrap() error { return e.Err }

// ValidationErrors is the full, non-short-circuited list of per-field violations a payload
// validation run accumulated (§4.3, §7). errors.Is against any wrapped sentinel (ErrIsRequired,
// ErrInvalidType, ...) matches if any field in the list failed that way.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, fe := range e {
		errs[i] = fe
	}
	return errs
}
