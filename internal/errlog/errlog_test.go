package errlog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testReporter() (*Reporter, *time.Time) {
	now := time.Unix(1700000000, 0).UTC()
	r := NewReporter(slog.Default())
	r.clock = func() time.Time { return now }
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r, &now
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	r, _ := testReporter()

	calls := 0
	err := r.Retry(context.Background(), "always fails", func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	if err == nil {
		t.Fatalf("expected error after exhaustion")
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
	if !strings.Contains(err.Error(), "always fails") {
		t.Fatalf("expected label in error, got %v", err)
	}
}

func TestRetry_RecoversAndLogsRecovery(t *testing.T) {
	r, _ := testReporter()

	calls := 0
	err := r.Retry(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}

	recent := r.Recent(0)
	found := false
	for _, e := range recent {
		if e.Recovered && strings.Contains(e.Message, "succeeded after 2 retries") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a recovery entry, got %+v", recent)
	}
}

func TestRetry_PermanentStopsAfterFirstAttempt(t *testing.T) {
	r, _ := testReporter()

	calls := 0
	err := r.Retry(context.Background(), "bad request", func(ctx context.Context) error {
		calls++
		return Permanent(Tag(TypeVoice, errors.New("status 400")))
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("permanent error retried: %d attempts", calls)
	}
	if !IsPermanent(err) {
		t.Fatalf("marker lost through the retry wrapper: %v", err)
	}
	if Classify(err) != TypeVoice {
		t.Fatalf("classification lost: %v", Classify(err))
	}
}

func TestRetry_ContextCancelStopsEarly(t *testing.T) {
	r, _ := testReporter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Retry(ctx, "canceled", func(ctx context.Context) error {
		calls++
		return errors.New("x")
	})
	if err == nil {
		t.Fatalf("expected context error")
	}
	if calls != 0 {
		t.Fatalf("expected no attempts on canceled context, got %d", calls)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Type
	}{
		{errors.New("dial tcp: connection refused"), TypeNetwork},
		{errors.New("request timed out"), TypeTimeout},
		{context.DeadlineExceeded, TypeTimeout},
		{errors.New("unexpected status 429: rate limit"), TypeAPI},
		{errors.New("status 401 unauthorized"), TypeAPI},
		{errors.New("something odd"), TypeUnknown},
		{Tag(TypeVoice, errors.New("synthesis blew up")), TypeVoice},
		{Tag(TypeAI, errors.New("model is down")), TypeAI},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestRecoveryHint(t *testing.T) {
	if h := RecoveryHint(errors.New("status 429 too many requests")); !strings.Contains(h, "rate limited") {
		t.Fatalf("expected rate limit hint, got %q", h)
	}
	if h := RecoveryHint(errors.New("status 401 unauthorized")); !strings.Contains(h, "credentials") {
		t.Fatalf("expected auth hint, got %q", h)
	}
	if h := RecoveryHint(errors.New("insufficient_quota")); !strings.Contains(h, "quota") {
		t.Fatalf("expected quota hint, got %q", h)
	}
	if h := RecoveryHint(errors.New("boring")); h != "" {
		t.Fatalf("expected empty hint, got %q", h)
	}
}

func TestHealthy_WindowAndThreshold(t *testing.T) {
	r, now := testReporter()

	if !r.Healthy() {
		t.Fatalf("expected healthy with no entries")
	}

	// 4 unrecovered API failures inside the window tips the signal.
	for i := 0; i < 4; i++ {
		r.Record(Entry{Type: TypeAPI, Message: "api down"})
	}
	if r.Healthy() {
		t.Fatalf("expected unhealthy after 4 unrecovered api failures")
	}

	// Recovered or non-network/api failures do not count.
	r2, _ := testReporter()
	for i := 0; i < 4; i++ {
		r2.Record(Entry{Type: TypeAPI, Message: "x", Recovered: true})
		r2.Record(Entry{Type: TypeVoice, Message: "y"})
	}
	if !r2.Healthy() {
		t.Fatalf("expected healthy: recovered/voice entries are not counted")
	}

	// Entries age out of the window.
	*now = now.Add(6 * time.Minute)
	if !r.Healthy() {
		t.Fatalf("expected healthy after window passed")
	}
}

func TestRecord_RingIsBounded(t *testing.T) {
	r, _ := testReporter()
	for i := 0; i < ringSize+25; i++ {
		r.Record(Entry{Type: TypeUnknown, Message: "m"})
	}
	if got := len(r.Recent(0)); got != ringSize {
		t.Fatalf("expected ring capped at %d, got %d", ringSize, got)
	}
}
