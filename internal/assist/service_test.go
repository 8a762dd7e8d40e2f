package assist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newService() *Service {
	return NewService(NewMemoryRepo(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRaiseAndAnswerFlow(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	if err := svc.Raise(ctx, "call-1", "How much does a cleaning cost?", "Book appointment"); err != nil {
		t.Fatalf("Raise: %v", err)
	}

	open, err := svc.ListOpen(ctx, "")
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open = %d, want 1", len(open))
	}
	q := open[0]
	if q.CallID != "call-1" || q.Answered {
		t.Fatalf("question = %+v", q)
	}

	answered, err := svc.Answer(ctx, q.ID, "A cleaning costs 80 dollars.")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !answered.Answered || answered.AnsweredAt == nil {
		t.Fatalf("answered = %+v", answered)
	}

	open, _ = svc.ListOpen(ctx, "")
	if len(open) != 0 {
		t.Fatalf("answered question still listed as open")
	}
}

func TestRaiseDeduplicatesOpenQuestions(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Raise(ctx, "call-1", "What time do you close?", ""); err != nil {
			t.Fatalf("Raise %d: %v", i, err)
		}
	}
	open, _ := svc.ListOpen(ctx, "call-1")
	if len(open) != 1 {
		t.Fatalf("open = %d, want 1", len(open))
	}
}

func TestRaiseValidation(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	if err := svc.Raise(ctx, "", "q", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing call id: %v", err)
	}
	if err := svc.Raise(ctx, "call-1", "   ", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("blank question: %v", err)
	}
}

func TestAnswerErrors(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	if _, err := svc.Answer(ctx, "nope", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}

	_ = svc.Raise(ctx, "call-1", "Q?", "")
	open, _ := svc.ListOpen(ctx, "call-1")
	if _, err := svc.Answer(ctx, open[0].ID, "first"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if _, err := svc.Answer(ctx, open[0].ID, "second"); !errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("double answer: %v", err)
	}
}

func TestConsumeAnsweredDeliversOnce(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_ = svc.Raise(ctx, "call-1", "Q1?", "")
	_ = svc.Raise(ctx, "call-1", "Q2?", "")
	_ = svc.Raise(ctx, "call-2", "Q3?", "")

	open, _ := svc.ListOpen(ctx, "call-1")
	for _, q := range open {
		if _, err := svc.Answer(ctx, q.ID, "answer to "+q.Question); err != nil {
			t.Fatalf("Answer: %v", err)
		}
	}

	got, err := svc.ConsumeAnswered(ctx, "call-1")
	if err != nil {
		t.Fatalf("ConsumeAnswered: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("answers = %v", got)
	}

	// Second consume finds nothing; the unanswered call-2 question stays put.
	got, _ = svc.ConsumeAnswered(ctx, "call-1")
	if len(got) != 0 {
		t.Fatalf("answers delivered twice: %v", got)
	}
	open, _ = svc.ListOpen(ctx, "call-2")
	if len(open) != 1 {
		t.Fatalf("unrelated question disturbed")
	}
}
