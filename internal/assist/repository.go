package assist

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("question not found")
	ErrAlreadyAnswered = errors.New("question already answered")
)

// Repository persists pending questions.
type Repository interface {
	Insert(ctx context.Context, q PendingQuestion) error
	Get(ctx context.Context, id string) (PendingQuestion, error)

	// ListOpen returns unanswered questions, oldest first. callID narrows
	// to one call when non-empty.
	ListOpen(ctx context.Context, callID string) ([]PendingQuestion, error)

	// MarkAnswered records the operator's answer. ErrAlreadyAnswered when
	// the question was already settled.
	MarkAnswered(ctx context.Context, id, answer string) (PendingQuestion, error)

	// TakeAnswered returns answered-but-undelivered questions for the call
	// and marks them delivered, atomically per question.
	TakeAnswered(ctx context.Context, callID string) ([]PendingQuestion, error)
}
