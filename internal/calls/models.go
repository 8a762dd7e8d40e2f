package calls

import "time"

// CallRecord is the aggregate root for one outbound call.
//
// Ownership invariants:
// - Request parameters (recipient, number, goal, context) are immutable
//   after creation.
// - Status and Result are mutated only through the state machine in
//   Service; no other component writes to a record.
// - Result is set exactly once, at the transition into a terminal state,
//   and Result != nil iff the status is terminal.
//
// The record, not process memory, is the source of truth: conversation
// state is reconstructed from Transcript on every invocation, so a handler
// with no memory of prior invocations resumes correctly.
type CallRecord struct {
	ID string `json:"id" db:"call_id"`

	RecipientName     string `json:"recipient_name" db:"recipient_name"`
	PhoneNumber       string `json:"phone_number" db:"phone_number"`
	CallGoal          string `json:"call_goal" db:"call_goal"`
	AdditionalContext string `json:"additional_context,omitempty" db:"additional_context"`

	Status CallStatus `json:"status" db:"status"`

	// ProviderCallID is the gateway's identifier, stored as metadata once
	// the call is submitted.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	// Transcript is the serialized conversation ("AI: ..."/"Human: ..."
	// lines), appended to as turns happen.
	Transcript string `json:"transcript,omitempty" db:"transcript"`

	Result *CallResult `json:"result,omitempty" db:"result"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// DurationSeconds is computed at the terminal transition: provider
	// reported duration when available, wall clock since creation otherwise.
	DurationSeconds int `json:"duration" db:"duration"`

	// Revision supports optimistic concurrency on updates.
	Revision int64 `json:"revision" db:"revision"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CallResult is the structured outcome, set once at the terminal
// transition and frozen afterwards.
type CallResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	Transcript string `json:"transcript,omitempty"`
	AISummary  string `json:"ai_summary,omitempty"`

	// Sentiment is the outcome classifier's label: positive, negative,
	// or neutral. Heuristic, not authoritative.
	Sentiment string `json:"sentiment,omitempty"`

	ObjectivesMet []string `json:"objectives_met,omitempty"`
}

type CallStatus string

const (
	StatusPreparing  CallStatus = "preparing"
	StatusDialing    CallStatus = "dialing"
	StatusInProgress CallStatus = "in_progress"
	StatusCompleted  CallStatus = "completed"
	StatusFailed     CallStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s CallStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
