// Package service contains the business rules of the sync server.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → decodes requests, maps errors to status codes
//	Service (business layer) → validates, enforces state machines, orchestrates
//	Repository (data layer)  → reads/writes SQLite
//
// Services take repository interfaces, never *sqlite.DB, and return
// apperror values, never HTTP status codes. Every timestamp a service writes
// into a domain record comes from its injected Clock, so tests can step
// time past an expiry without sleeping.
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/xid"

	"github.com/sakif/trainsync/internal/apperror"
)

// Clock returns the current time. Services call it once per operation.
type Clock func() time.Time

// SystemClock is the production Clock: wall time in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Shared validation limits.
const (
	MaxIdempotencyKeyLength = 200
	MaxTitleLength          = 200
	MaxNotesLength          = 2000
	DefaultListLimit        = 20
	MaxListLimit            = 100
)

func newID() string {
	return xid.New().String()
}

// isNotFound reports whether err is (or wraps) apperror.ErrNotFound.
func isNotFound(err error) bool {
	return errors.Is(err, apperror.ErrNotFound)
}

// requireKey validates a client-supplied idempotency key.
func requireKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", apperror.ValidationFailed("idempotencyKey", "idempotencyKey is required")
	}
	if len(key) > MaxIdempotencyKeyLength {
		return "", apperror.ValidationFailed("idempotencyKey",
			fmt.Sprintf("idempotencyKey must be %d characters or less", MaxIdempotencyKeyLength))
	}
	return key, nil
}

// requireText trims s and checks it is non-empty and at most max runes.
func requireText(field, s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperror.ValidationFailed(field, field+" is required")
	}
	return optionalText(field, s, max)
}

func optionalText(field, s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > max {
		return "", apperror.ValidationFailed(field,
			fmt.Sprintf("%s must be %d characters or less", field, max))
	}
	return s, nil
}

// parseTime parses a required RFC 3339 timestamp and normalises it to UTC.
func parseTime(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, apperror.ValidationFailed(field, field+" is required")
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperror.ValidationFailed(field,
			fmt.Sprintf("%s must be an RFC 3339 timestamp", field))
	}
	return t.UTC(), nil
}

// parseOptionalTime is parseTime for fields that may be omitted; nil means absent.
func parseOptionalTime(field, s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := parseTime(field, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nonNegative(field string, v float64) error {
	if v < 0 || v != v {
		return apperror.ValidationFailed(field, field+" must be zero or greater")
	}
	return nil
}

// clampPage applies the default and maximum list sizes.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
