// Package pii implements field-level redaction policies, labeler pseudonymization, and the
// retention-window math the retention worker acts on (§4.10).
package pii

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/klabs/labelqueue/internal/core"
)

const truncateMaxLength = 100

// defaultRegexPatterns is the built-in pattern set regex_redact applies when the caller supplies
// none of its own (§4.10): emails, SSNs, phone numbers, credit card numbers.
var defaultRegexPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`),
	regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
}

// DefaultRedactionPolicy maps a field's PII level to the redaction policy applied when the field
// declares no explicit one (§4.10): none→preserve, possible→truncate, likely→strip, definite→strip.
func DefaultRedactionPolicy(level core.PIILevel) core.RedactionPolicy {
	switch level {
	case core.PIIPossible:
		return core.RedactTruncate
	case core.PIILikely, core.PIIDefinite:
		return core.RedactStrip
	default:
		return core.RedactPreserve
	}
}

// ApplyRetention decides what the retention worker should do to payload given def's per-field
// policies and how long ago submittedAt was, returning the RetentionAction to perform and (for
// field_redaction) the transformed payload to write back. A RetentionAction of "" means no
// action is due yet.
//
// A field at PIIDefinite that has aged out forces a hard_delete of the whole label (the record
// cannot be made safe by touching one field); PIILikely forces a soft_delete (payload cleared,
// row kept for audit); anything else is handled by that field's own Redaction policy, or the
// PII-level default when none is declared.
func ApplyRetention(def core.Schema, payload map[string]interface{}, submittedAt, now time.Time) (core.RetentionAction, map[string]interface{}) {
	ageDays := int(now.Sub(submittedAt).Hours() / 24)

	redacted := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		redacted[k] = v
	}

	anyRedacted := false
	for _, f := range def.Fields {
		if f.RetentionDays == nil || ageDays < *f.RetentionDays {
			continue
		}
		switch f.PII {
		case core.PIIDefinite:
			return core.RetentionHardDelete, nil
		case core.PIILikely:
			return core.RetentionSoftDelete, nil
		default:
			if v, ok := redacted[f.Name]; ok {
				policy := f.Redaction
				if policy == "" {
					policy = DefaultRedactionPolicy(f.PII)
				}
				redacted[f.Name] = RedactValue(policy, v)
				anyRedacted = true
			}
		}
	}
	if anyRedacted {
		return core.RetentionFieldRedaction, redacted
	}
	return "", nil
}

// RedactValue applies one field's redaction policy to a single value (§4.10).
func RedactValue(policy core.RedactionPolicy, v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		if policy == core.RedactStrip {
			return nil
		}
		return v
	}
	switch policy {
	case core.RedactPreserve:
		return s
	case core.RedactStrip:
		return nil
	case core.RedactTruncate:
		if len(s) <= truncateMaxLength {
			return s
		}
		return s[:truncateMaxLength]
	case core.RedactHash:
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	case core.RedactRegexRedact:
		out := s
		for _, re := range defaultRegexPatterns {
			out = re.ReplaceAllString(out, "[REDACTED]")
		}
		return out
	default:
		return s
	}
}

// Pseudonymize derives a stable, non-reversible labeler-facing identifier from a real external
// id using HMAC-SHA256 keyed by a tenant-scoped secret (§4.11 "labeler_<16 hex>"). Secrets
// shorter than 32 bytes are rejected: they don't carry enough entropy to resist brute-forcing the
// pseudonym back to a labeler identity.
func Pseudonymize(secret []byte, externalID string) (string, error) {
	if len(secret) < 32 {
		return "", core.ErrSecretTooShort
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(externalID))
	sum := mac.Sum(nil)
	return fmt.Sprintf("labeler_%s", hex.EncodeToString(sum)[:16]), nil
}
