package assist

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory question repository for tests and early
// development. Semantics match PostgresRepo.
type MemoryRepo struct {
	mu    sync.Mutex
	qs    map[string]PendingQuestion
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{qs: map[string]PendingQuestion{}, clock: time.Now}
}

func (r *MemoryRepo) Insert(ctx context.Context, q PendingQuestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.qs[q.ID] = q
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (PendingQuestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.qs[id]
	if !ok {
		return PendingQuestion{}, ErrNotFound
	}
	return q, nil
}

func (r *MemoryRepo) ListOpen(ctx context.Context, callID string) ([]PendingQuestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingQuestion, 0)
	for _, q := range r.qs {
		if q.Answered {
			continue
		}
		if callID != "" && q.CallID != callID {
			continue
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *MemoryRepo) MarkAnswered(ctx context.Context, id, answer string) (PendingQuestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.qs[id]
	if !ok {
		return PendingQuestion{}, ErrNotFound
	}
	if q.Answered {
		return PendingQuestion{}, ErrAlreadyAnswered
	}
	now := r.clock()
	q.Answered = true
	q.Answer = answer
	q.AnsweredAt = &now
	r.qs[id] = q
	return q, nil
}

func (r *MemoryRepo) TakeAnswered(ctx context.Context, callID string) ([]PendingQuestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingQuestion, 0)
	for id, q := range r.qs {
		if q.CallID != callID || !q.Answered || q.Delivered {
			continue
		}
		q.Delivered = true
		r.qs[id] = q
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
