package telephony

import (
	"context"
	"time"
)

// Provider defines the provider-agnostic gateway interface used by the
// call orchestrator.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Keep request/response types provider-agnostic; the provider's raw call
//   identifier is stored on the call record as metadata.
// - A single attempt per method; the caller owns retry policy.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// PlaceCall submits an outbound call request. AnswerURL is fetched by
	// the gateway when the call connects and must return call-control
	// markup; StatusCallbackURL receives lifecycle events.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)

	// Hangup terminates an in-flight call at the provider.
	Hangup(ctx context.Context, providerCallID string) error

	// ListRecentCalls returns the provider's authoritative view of recent
	// calls, used for reconciliation only.
	ListRecentCalls(ctx context.Context, limit int) ([]RecentCall, error)
}

type PlaceCallRequest struct {
	// To and From are E.164.
	To   string `json:"to"`
	From string `json:"from"`

	AnswerURL         string `json:"answer_url"`
	StatusCallbackURL string `json:"status_callback_url"`

	// RingTimeout bounds how long the gateway lets the call ring.
	RingTimeout time.Duration `json:"ring_timeout"`

	// DetectMachine asks the gateway to report answering machines.
	DetectMachine bool `json:"detect_machine"`
}

type PlaceCallResult struct {
	// ProviderCallID is the gateway's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`
}

// RecentCall is the provider-side view of a call, used to surface drift
// between local records and the gateway. Never used to auto-correct.
type RecentCall struct {
	ProviderCallID  string     `json:"provider_call_id"`
	Status          string     `json:"status"`
	DurationSeconds int        `json:"duration_seconds"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}
