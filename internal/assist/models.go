package assist

import "time"

// PendingQuestion is a question the AI could not answer mid-call, parked
// for a human operator. Lifecycle: open -> answered -> delivered. The
// answer is injected into the call's next conversation turn exactly once;
// Delivered marks that handoff.
type PendingQuestion struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	Question string `json:"question" db:"question"`

	// Context is what the operator needs to answer sensibly, typically
	// the call goal.
	Context string `json:"context,omitempty" db:"context"`

	Timestamp time.Time `json:"timestamp" db:"created_at"`

	Answered   bool       `json:"answered" db:"answered"`
	Answer     string     `json:"answer,omitempty" db:"answer"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`

	Delivered bool `json:"delivered" db:"delivered"`
}
