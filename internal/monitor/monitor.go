package monitor

import (
	"context"
	"log/slog"
	"time"

	"callpilot/internal/calls"
	"callpilot/internal/telephony"
)

// recentCallsWindow bounds the provider listing used for reconciliation.
const recentCallsWindow = 100

// CallSweeper is the slice of the orchestrator the monitor drives.
type CallSweeper interface {
	SweepStale(ctx context.Context) (int, error)
	ListActive(ctx context.Context) ([]calls.CallRecord, error)
}

// Discrepancy is a mismatch between a local record and the provider's
// view. Reconciliation reports; it never auto-corrects, because the
// provider listing lags and a forced correction could fight the webhook
// stream.
type Discrepancy struct {
	CallID         string           `json:"call_id"`
	ProviderCallID string           `json:"provider_call_id"`
	LocalStatus    calls.CallStatus `json:"local_status"`

	// RemoteStatus is the provider's raw vocabulary; empty when the call
	// is missing from the provider listing entirely.
	RemoteStatus string `json:"remote_status,omitempty"`
}

// Monitor owns the background hygiene of the call table: a frequent sweep
// settling calls stuck past the dial deadline, and a slower reconciliation
// pass comparing active records against the provider.
type Monitor struct {
	sweeper  CallSweeper
	provider telephony.Provider
	log      *slog.Logger

	sweepEvery     time.Duration
	reconcileEvery time.Duration
}

func New(sweeper CallSweeper, provider telephony.Provider, log *slog.Logger, sweepEvery, reconcileEvery time.Duration) *Monitor {
	return &Monitor{
		sweeper:        sweeper,
		provider:       provider,
		log:            log,
		sweepEvery:     sweepEvery,
		reconcileEvery: reconcileEvery,
	}
}

// Run blocks until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	sweep := time.NewTicker(m.sweepEvery)
	defer sweep.Stop()
	reconcile := time.NewTicker(m.reconcileEvery)
	defer reconcile.Stop()

	m.log.Info("call monitor started",
		"sweep_interval", m.sweepEvery,
		"reconcile_interval", m.reconcileEvery,
	)

	for {
		select {
		case <-ctx.Done():
			m.log.Info("call monitor stopped")
			return
		case <-sweep.C:
			n, err := m.sweeper.SweepStale(ctx)
			if err != nil {
				m.log.Error("stale sweep failed", "error", err)
				continue
			}
			if n > 0 {
				m.log.Info("stale calls settled", "count", n)
			}
		case <-reconcile.C:
			if _, err := m.Reconcile(ctx); err != nil {
				m.log.Error("reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile compares active local records against the provider's recent
// call listing and logs every mismatch.
func (m *Monitor) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	active, err := m.sweeper.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	remote, err := m.provider.ListRecentCalls(ctx, recentCallsWindow)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]telephony.RecentCall, len(remote))
	for _, rc := range remote {
		byID[rc.ProviderCallID] = rc
	}

	var out []Discrepancy
	for _, rec := range active {
		if rec.ProviderCallID == "" {
			continue
		}
		rc, ok := byID[rec.ProviderCallID]
		if !ok {
			out = append(out, Discrepancy{
				CallID:         rec.ID,
				ProviderCallID: rec.ProviderCallID,
				LocalStatus:    rec.Status,
			})
			continue
		}
		mapped, _, known := calls.MapProviderStatus(rc.Status)
		if !known {
			continue
		}
		if mapped == rec.Status || calls.IsRedundant(rec.Status, mapped) {
			continue
		}
		out = append(out, Discrepancy{
			CallID:         rec.ID,
			ProviderCallID: rec.ProviderCallID,
			LocalStatus:    rec.Status,
			RemoteStatus:   rc.Status,
		})
	}

	for _, d := range out {
		m.log.Warn("call state drift",
			"call_id", d.CallID,
			"provider_call_id", d.ProviderCallID,
			"local_status", d.LocalStatus,
			"remote_status", d.RemoteStatus,
		)
	}
	return out, nil
}
