package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"callpilot/internal/calls"
	"callpilot/internal/telephony"
)

type fakeSweeper struct {
	sweeps atomic.Int64
	active []calls.CallRecord
}

func (f *fakeSweeper) SweepStale(ctx context.Context) (int, error) {
	f.sweeps.Add(1)
	return 0, nil
}

func (f *fakeSweeper) ListActive(ctx context.Context) ([]calls.CallRecord, error) {
	return f.active, nil
}

type fakeProvider struct {
	recent []telephony.RecentCall
}

func (p *fakeProvider) Name() string                          { return "fake" }
func (p *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *fakeProvider) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	return telephony.PlaceCallResult{}, nil
}

func (p *fakeProvider) Hangup(ctx context.Context, providerCallID string) error { return nil }

func (p *fakeProvider) ListRecentCalls(ctx context.Context, limit int) ([]telephony.RecentCall, error) {
	return p.recent, nil
}

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcileFindsDrift(t *testing.T) {
	sweeper := &fakeSweeper{active: []calls.CallRecord{
		{ID: "c1", ProviderCallID: "CA1", Status: calls.StatusInProgress},
		{ID: "c2", ProviderCallID: "CA2", Status: calls.StatusInProgress},
		{ID: "c3", ProviderCallID: "CA3", Status: calls.StatusDialing},
	}}
	provider := &fakeProvider{recent: []telephony.RecentCall{
		{ProviderCallID: "CA1", Status: "in-progress"},
		{ProviderCallID: "CA2", Status: "completed"},
		// CA3 missing from the provider listing entirely.
	}}
	m := New(sweeper, provider, testLog(), time.Minute, time.Minute)

	got, err := m.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("discrepancies = %+v, want 2", got)
	}
	byCall := map[string]Discrepancy{}
	for _, d := range got {
		byCall[d.CallID] = d
	}
	if d := byCall["c2"]; d.RemoteStatus != "completed" {
		t.Fatalf("c2 = %+v", d)
	}
	if d := byCall["c3"]; d.RemoteStatus != "" {
		t.Fatalf("c3 = %+v", d)
	}
}

func TestReconcileIgnoresLaggingProviderView(t *testing.T) {
	// The provider listing can lag behind the webhook stream; an earlier
	// phase on the remote side is not drift.
	sweeper := &fakeSweeper{active: []calls.CallRecord{
		{ID: "c1", ProviderCallID: "CA1", Status: calls.StatusInProgress},
	}}
	provider := &fakeProvider{recent: []telephony.RecentCall{
		{ProviderCallID: "CA1", Status: "ringing"},
	}}
	m := New(sweeper, provider, testLog(), time.Minute, time.Minute)

	got, err := m.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("discrepancies = %+v, want none", got)
	}
}

func TestReconcileSkipsWhenIdle(t *testing.T) {
	sweeper := &fakeSweeper{}
	provider := &fakeProvider{}
	m := New(sweeper, provider, testLog(), time.Minute, time.Minute)
	got, err := m.Reconcile(context.Background())
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestRunSweepsUntilCanceled(t *testing.T) {
	sweeper := &fakeSweeper{}
	m := New(sweeper, &fakeProvider{}, testLog(), 5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sweeper.sweeps.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sweep never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}
