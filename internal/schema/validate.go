// Package schema implements field-level validation of a Label payload against a frozen
// SchemaVersion, and the version freeze/migrate lifecycle of §4.3.
package schema

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/klabs/labelqueue/internal/core"
)

// ValidatePayload checks payload against every Field of def, accumulating every violation rather
// than stopping at the first (§4.3, §7: "the full list of per-field errors, not short-circuit").
// Unknown keys in payload are ignored; schema fields absent from payload fail only if Required.
func ValidatePayload(def core.Schema, payload map[string]interface{}) error {
	var errs core.ValidationErrors
	for _, f := range def.Fields {
		v, present := payload[f.Name]
		if !present || v == nil {
			if f.Required {
				errs = append(errs, core.FieldError{Field: f.Name, Err: core.ErrIsRequired})
			}
			continue
		}
		if err := validateField(f, v); err != nil {
			errs = append(errs, core.FieldError{Field: f.Name, Err: err})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateField(f core.Field, v interface{}) error {
	switch f.Type {
	case core.FieldText:
		s, ok := v.(string)
		if !ok {
			return core.ErrInvalidType
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
			if !re.MatchString(s) {
				return core.ErrPatternMismatch
			}
		}
	case core.FieldSelect:
		s, ok := v.(string)
		if !ok || !contains(f.Options, s) {
			return core.ErrInvalidOptions
		}
	case core.FieldMultiselect:
		items, ok := v.([]interface{})
		if !ok {
			return core.ErrInvalidType
		}
		for _, it := range items {
			s, ok := it.(string)
			if !ok || !contains(f.Options, s) {
				return core.ErrInvalidOptions
			}
		}
	case core.FieldRange:
		n, ok := asFloat(v)
		if !ok || !isInteger(v) {
			return core.ErrInvalidType
		}
		if f.Min != nil && n < *f.Min {
			return core.ErrOutOfRange
		}
		if f.Max != nil && n > *f.Max {
			return core.ErrOutOfRange
		}
	case core.FieldNumber:
		n, ok := asFloat(v)
		if !ok {
			return core.ErrInvalidType
		}
		if f.Min != nil && n < *f.Min {
			return core.ErrOutOfRange
		}
		if f.Max != nil && n > *f.Max {
			return core.ErrOutOfRange
		}
	case core.FieldBoolean:
		if _, ok := v.(bool); !ok {
			return core.ErrInvalidType
		}
	case core.FieldDate:
		if !parsesAs(v, "2006-01-02") {
			return core.ErrInvalidType
		}
	case core.FieldDatetime:
		if !parsesAs(v, time.RFC3339) {
			return core.ErrInvalidType
		}
	default:
		return core.ErrInvalidType
	}
	return nil
}

func contains(opts []string, s string) bool {
	for _, o := range opts {
		if o == s {
			return true
		}
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// isInteger reports whether v is a whole number: a native int/int64, or a float64 (the shape
// every JSON-decoded number takes) with no fractional part.
func isInteger(v interface{}) bool {
	switch n := v.(type) {
	case int, int64:
		return true
	case float64:
		return n == math.Trunc(n)
	default:
		return false
	}
}

func parsesAs(v interface{}, layout string) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := time.Parse(layout, s)
	return err == nil
}
