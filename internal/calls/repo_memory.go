package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory call repository for tests and early
// development. Semantics match PostgresRepo.
type MemoryRepo struct {
	mu    sync.Mutex
	recs  map[string]CallRecord
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{recs: map[string]CallRecord{}, clock: time.Now}
}

// SetClock injects a deterministic clock for tests.
func (r *MemoryRepo) SetClock(clock func() time.Time) { r.clock = clock }

func (r *MemoryRepo) Insert(ctx context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.ID] = rec
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) GetByProviderID(ctx context.Context, providerCallID string) (CallRecord, error) {
	if providerCallID == "" {
		return CallRecord{}, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.recs {
		if rec.ProviderCallID == providerCallID {
			return rec, nil
		}
	}
	return CallRecord{}, ErrNotFound
}

func (r *MemoryRepo) Apply(ctx context.Context, id string, upd Update) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	if upd.OnlyIfNonTerminal && rec.Status.Terminal() {
		return CallRecord{}, ErrTerminal
	}
	applyUpdate(&rec, upd, r.clock())
	r.recs[id] = rec
	return rec, nil
}

func (r *MemoryRepo) AppendTranscript(ctx context.Context, id, chunk string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return ErrNotFound
	}
	rec.Transcript += chunk
	rec.Revision++
	rec.UpdatedAt = r.clock()
	r.recs[id] = rec
	return nil
}

func (r *MemoryRepo) ListStale(ctx context.Context, before time.Time) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, rec := range r.recs {
		if rec.Status != StatusPreparing && rec.Status != StatusDialing {
			continue
		}
		if !rec.CreatedAt.Before(before) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *MemoryRepo) ListActive(ctx context.Context) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, rec := range r.recs {
		if rec.Status == StatusDialing || rec.Status == StatusInProgress {
			out = append(out, rec)
		}
	}
	return out, nil
}
