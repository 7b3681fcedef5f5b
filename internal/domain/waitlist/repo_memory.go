package waitlist

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/platform/txn"
)

type repoMemory struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

func NewMemoryRepo() Repository {
	return &repoMemory{entries: make(map[uuid.UUID]*Entry)}
}

func (r *repoMemory) Create(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.Status == StatusActive {
		for _, other := range r.entries {
			if other.Status == StatusActive && other.ResidentID == e.ResidentID {
				return apperr.Duplicate("waitlist_entry", e.ResidentID, "resident already has an active entry "+other.ID.String())
			}
		}
	}
	if e.Version == 0 {
		e.Version = 1
	}
	r.entries[e.ID] = e.Clone()

	id := e.ID
	txn.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *repoMemory) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, apperr.NotFound("waitlist_entry", id.String())
	}
	return e.Clone(), nil
}

func (r *repoMemory) Update(ctx context.Context, e *Entry, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[e.ID]
	if !ok {
		return apperr.NotFound("waitlist_entry", e.ID.String())
	}
	if current.Version != expectedVersion {
		return apperr.Conflict("waitlist_entry", e.ID.String())
	}
	if e.Status == StatusActive && current.Status != StatusActive {
		for _, other := range r.entries {
			if other.ID != e.ID && other.Status == StatusActive && other.ResidentID == e.ResidentID {
				return apperr.Duplicate("waitlist_entry", e.ResidentID, "resident already has an active entry")
			}
		}
	}

	e.Version = expectedVersion + 1
	r.entries[e.ID] = e.Clone()

	txn.OnRollback(ctx, func() {
		r.mu.Lock()
		r.entries[current.ID] = current
		r.mu.Unlock()
	})
	return nil
}

func (r *repoMemory) List(_ context.Context, f ListFilter) ([]*Entry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Entry
	for _, e := range r.entries {
		if f.matches(e) {
			matched = append(matched, e.Clone())
		}
	}
	Sort(matched)

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}
