// SPDX-License-Identifier: MIT

// Package validate accumulates configuration validation failures so that a
// single load reports every problem at once.
package validate

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Error is one failed check of a configuration field.
type Error struct {
	Field   string
	Value   any
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// ValidationError is the result of a failed Validator: every problem found,
// joined with "; " in its message.
type ValidationError struct {
	errors []Error
}

// Errors lists the individual failures.
func (e ValidationError) Errors() []Error { return e.errors }

func (e ValidationError) Error() string {
	parts := make([]string, 0, len(e.errors))
	for _, err := range e.errors {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

// Validator collects failures. The zero value is not usable; call New.
type Validator struct {
	errors []Error
}

func New() *Validator {
	return &Validator{errors: []Error{}}
}

// AddError records a failure for field.
func (v *Validator) AddError(field, message string, value any) {
	v.errors = append(v.errors, Error{Field: field, Value: value, Message: message})
}

func (v *Validator) addf(field string, value any, format string, args ...any) {
	v.AddError(field, fmt.Sprintf(format, args...), value)
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

func (v *Validator) Errors() []Error { return v.errors }

// Err returns nil when nothing failed, otherwise a ValidationError holding
// a snapshot of the failures so far.
func (v *Validator) Err() error {
	if v.IsValid() {
		return nil
	}
	return ValidationError{errors: slices.Clone(v.errors)}
}

// URL requires an absolute URL with a host and, when allowedSchemes is not
// empty, one of those schemes.
func (v *Validator) URL(field, value string, allowedSchemes []string) {
	if value == "" {
		v.AddError(field, "URL cannot be empty", value)
		return
	}
	u, err := url.Parse(value)
	switch {
	case err != nil:
		v.addf(field, value, "invalid URL: %v", err)
	case u.Host == "":
		v.AddError(field, "URL must have a host", value)
	case len(allowedSchemes) > 0 && !slices.Contains(allowedSchemes, u.Scheme):
		v.addf(field, value, "unsupported URL scheme %q (allowed: %v)", u.Scheme, allowedSchemes)
	}
}

// ListenAddr requires host:port with a numeric port. The host may be empty.
func (v *Validator) ListenAddr(field, value string) {
	_, port, err := net.SplitHostPort(value)
	if err != nil {
		v.addf(field, value, "invalid listen address: %v", err)
		return
	}
	if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		v.addf(field, value, "invalid port %q", port)
	}
}

// Range requires minVal <= value <= maxVal.
func (v *Validator) Range(field string, value, minVal, maxVal int) {
	if value < minVal || value > maxVal {
		v.addf(field, value, "value must be between %d and %d, got %d", minVal, maxVal, value)
	}
}

// NotEmpty rejects empty and whitespace-only strings.
func (v *Validator) NotEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "value cannot be empty", value)
	}
}

func (v *Validator) OneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		v.addf(field, value, "value must be one of %v, got %q", allowed, value)
	}
}

func (v *Validator) Positive(field string, value int) {
	if value <= 0 {
		v.addf(field, value, "value must be positive, got %d", value)
	}
}

func (v *Validator) NonNegative(field string, value int) {
	if value < 0 {
		v.addf(field, value, "value cannot be negative, got %d", value)
	}
}

func (v *Validator) PositiveDuration(field string, d time.Duration) {
	if d <= 0 {
		v.addf(field, d, "duration must be positive, got %s", d)
	}
}

func (v *Validator) NonNegativeDuration(field string, d time.Duration) {
	if d < 0 {
		v.addf(field, d, "duration cannot be negative, got %s", d)
	}
}

// DurationBelow requires d < limit; limitField names the bound in the message.
func (v *Validator) DurationBelow(field string, d time.Duration, limitField string, limit time.Duration) {
	if d >= limit {
		v.addf(field, d, "must be shorter than %s (%s), got %s", limitField, limit, d)
	}
}

// Custom records the error returned by check, if any.
func (v *Validator) Custom(field string, value any, check func(any) error) {
	if err := check(value); err != nil {
		v.AddError(field, err.Error(), value)
	}
}
