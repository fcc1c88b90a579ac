package secrets

import "strings"

const mask = "***"

// Redactor scrubs known secret values out of captured output before it is
// persisted or displayed.
type Redactor struct {
	values []string
}

// NewRedactor builds a redactor over the given secret values. Empty values
// are ignored so a missing secret can never blank out entire logs.
func NewRedactor(values ...string) *Redactor {
	r := &Redactor{}
	for _, v := range values {
		if v != "" {
			r.values = append(r.values, v)
		}
	}
	return r
}

// Add registers another value to scrub.
func (r *Redactor) Add(value string) {
	if value != "" {
		r.values = append(r.values, value)
	}
}

// Redact replaces every occurrence of a registered value with a mask.
func (r *Redactor) Redact(s string) string {
	for _, v := range r.values {
		s = strings.ReplaceAll(s, v, mask)
	}
	return s
}
