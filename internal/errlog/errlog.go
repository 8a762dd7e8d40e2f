// Package errlog owns the shared failure-handling discipline: error
// classification, a bounded diagnostic log, retry with backoff, and a
// rolling health signal derived from recent unrecovered failures.
package errlog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Type classifies a failure for diagnostics and health computation.
type Type string

const (
	TypeNetwork Type = "network"
	TypeAPI     Type = "api"
	TypeVoice   Type = "voice"
	TypeAI      Type = "ai"
	TypeTimeout Type = "timeout"
	TypeUnknown Type = "unknown"
)

// Entry is one diagnostic record. Entries live in a bounded in-memory ring,
// not in durable storage.
type Entry struct {
	Timestamp      time.Time `json:"timestamp"`
	Type           Type      `json:"type"`
	Message        string    `json:"message"`
	Details        string    `json:"details,omitempty"`
	Recovered      bool      `json:"recovered"`
	RecoveryAction string    `json:"recovery_action,omitempty"`
}

const ringSize = 50

// healthWindow and healthThreshold define the rolling health signal:
// more than healthThreshold unrecovered network/api failures inside the
// window means unhealthy. This reports only; it never blocks calls.
const (
	healthWindow    = 5 * time.Minute
	healthThreshold = 3
)

// Reporter records failures and drives retries. It is an injected
// dependency, never ambient state; every component that talks to an
// external service holds one.
type Reporter struct {
	mu      sync.Mutex
	entries []Entry // ring buffer, oldest first

	log *slog.Logger

	// clock and sleep are injectable for deterministic tests.
	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewReporter(log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		log:   log,
		clock: time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Record appends an entry to the ring, evicting the oldest when full.
func (r *Reporter) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.clock().UTC()
	}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	if len(r.entries) > ringSize {
		r.entries = r.entries[len(r.entries)-ringSize:]
	}
	r.mu.Unlock()

	if e.Recovered {
		r.log.Info("recovered failure", "type", string(e.Type), "msg", e.Message, "action", e.RecoveryAction)
	} else {
		r.log.Warn("failure", "type", string(e.Type), "msg", e.Message, "details", e.Details)
	}
}

// Recent returns up to n most recent entries, newest first.
func (r *Reporter) Recent(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]Entry, 0, n)
	for i := len(r.entries) - 1; i >= len(r.entries)-n; i-- {
		out = append(out, r.entries[i])
	}
	return out
}

// Healthy reports false when more than healthThreshold unrecovered
// network/api failures occurred within the trailing window. It is a
// decaying signal, not a circuit breaker.
func (r *Reporter) Healthy() bool {
	cutoff := r.clock().UTC().Add(-healthWindow)

	r.mu.Lock()
	defer r.mu.Unlock()

	bad := 0
	for _, e := range r.entries {
		if e.Recovered {
			continue
		}
		if e.Type != TypeNetwork && e.Type != TypeAPI {
			continue
		}
		if e.Timestamp.Before(cutoff) {
			continue
		}
		bad++
	}
	return bad <= healthThreshold
}

type taggedError struct {
	t   Type
	err error
}

func (e *taggedError) Error() string { return e.err.Error() }
func (e *taggedError) Unwrap() error { return e.err }

// Tag attaches a classification to an error so Classify does not have to
// guess from message text.
func Tag(t Type, err error) error {
	if err == nil {
		return nil
	}
	return &taggedError{t: t, err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying: a malformed request
// stays malformed on the next attempt. Retry stops after the first
// Permanent failure instead of exhausting the schedule.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries a Permanent marker anywhere in
// its chain.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Classify maps an error to a Type. Explicit tags win; otherwise the
// message text is matched against known signatures. Unrecognized errors
// are TypeUnknown, never dropped.
func Classify(err error) Type {
	if err == nil {
		return TypeUnknown
	}

	var tagged *taggedError
	if errors.As(err, &tagged) {
		return tagged.t
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TypeTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return TypeTimeout
	case containsAny(msg, "connection refused", "connection reset", "no such host", "network is unreachable", "broken pipe", "eof"):
		return TypeNetwork
	case containsAny(msg, "status 429", "rate limit", "too many requests", "status 401", "status 403", "unauthorized", "quota", "insufficient_quota", "status 5"):
		return TypeAPI
	default:
		return TypeUnknown
	}
}

// RecoveryHint inspects an API-level error for rate-limit, auth, and quota
// signatures and returns an operator-facing hint. It does not change how
// many times the operation is retried.
func RecoveryHint(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "status 429", "rate limit", "too many requests"):
		return "rate limited: waiting before retry"
	case containsAny(msg, "status 401", "status 403", "unauthorized", "invalid api key", "authentication"):
		return "auth failure: verify API credentials"
	case containsAny(msg, "quota", "insufficient_quota", "billing"):
		return "quota exhausted: check plan limits"
	default:
		return ""
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
