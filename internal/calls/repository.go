package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("call not found")

	// ErrTerminal is returned when an update guarded by OnlyIfNonTerminal
	// finds the record already in a terminal state.
	ErrTerminal = errors.New("call already terminal")
)

// Update is a partial update. Nil pointer fields are left untouched.
type Update struct {
	Status          *CallStatus
	ProviderCallID  *string
	Result          *CallResult
	CompletedAt     *time.Time
	DurationSeconds *int

	// OnlyIfNonTerminal makes the update conditional: a record that is
	// already completed or failed is left as-is and ErrTerminal is
	// returned. This is the guard that keeps a late webhook or a sweep
	// from overwriting a settled result.
	OnlyIfNonTerminal bool
}

// Repository persists call records.
//
// Implementations must apply Update atomically and bump Revision and
// UpdatedAt on every successful write.
type Repository interface {
	Insert(ctx context.Context, rec CallRecord) error
	Get(ctx context.Context, id string) (CallRecord, error)
	GetByProviderID(ctx context.Context, providerCallID string) (CallRecord, error)

	Apply(ctx context.Context, id string, upd Update) (CallRecord, error)

	// AppendTranscript appends a serialized turn (with trailing newline
	// handling left to the caller's formatter) to the record's transcript.
	AppendTranscript(ctx context.Context, id, chunk string) error

	// ListStale returns non-terminal records in preparing or dialing
	// created before the cutoff.
	ListStale(ctx context.Context, before time.Time) ([]CallRecord, error)

	// ListActive returns records in dialing or in_progress.
	ListActive(ctx context.Context) ([]CallRecord, error)
}
