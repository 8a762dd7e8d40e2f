package assist

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidRequest = errors.New("assist: invalid request")

// Service manages the question flow between in-flight calls and human
// operators. Raise and ConsumeAnswered are called from the call
// orchestrator; Answer and ListOpen back the operator API.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log, clock: time.Now}
}

// Raise parks a question for an operator. Raising the same question twice
// for one call is collapsed to the existing open entry, so a repeated
// uncertain turn does not flood the operator queue.
func (s *Service) Raise(ctx context.Context, callID, question, callContext string) error {
	question = strings.TrimSpace(question)
	if callID == "" || question == "" {
		return ErrInvalidRequest
	}

	open, err := s.repo.ListOpen(ctx, callID)
	if err != nil {
		return err
	}
	for _, q := range open {
		if strings.EqualFold(q.Question, question) {
			return nil
		}
	}

	q := PendingQuestion{
		ID:        uuid.NewString(),
		CallID:    callID,
		Question:  question,
		Context:   callContext,
		Timestamp: s.clock(),
	}
	if err := s.repo.Insert(ctx, q); err != nil {
		return err
	}
	s.log.Info("question raised", "question_id", q.ID, "call_id", callID)
	return nil
}

// Answer records the operator's answer.
func (s *Service) Answer(ctx context.Context, id, answer string) (PendingQuestion, error) {
	answer = strings.TrimSpace(answer)
	if id == "" || answer == "" {
		return PendingQuestion{}, ErrInvalidRequest
	}
	q, err := s.repo.MarkAnswered(ctx, id, answer)
	if err != nil {
		return PendingQuestion{}, err
	}
	s.log.Info("question answered", "question_id", q.ID, "call_id", q.CallID)
	return q, nil
}

// ListOpen returns unanswered questions, oldest first; callID narrows to
// one call when non-empty.
func (s *Service) ListOpen(ctx context.Context, callID string) ([]PendingQuestion, error) {
	return s.repo.ListOpen(ctx, callID)
}

// ConsumeAnswered hands back answers for the call's next turn. Each answer
// is delivered exactly once.
func (s *Service) ConsumeAnswered(ctx context.Context, callID string) ([]string, error) {
	qs, err := s.repo.TakeAnswered(ctx, callID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Answer)
	}
	return out, nil
}
