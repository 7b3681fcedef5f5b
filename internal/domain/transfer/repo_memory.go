package transfer

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/platform/txn"
)

type repoMemory struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*Request
}

func NewMemoryRepo() Repository {
	return &repoMemory{requests: make(map[uuid.UUID]*Request)}
}

func (m *repoMemory) Create(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.requests {
		if other.SourceBedID == r.SourceBedID && other.Status.Open() {
			return apperr.InvalidOperation("request_transfer", "bed", r.SourceBedID, "no open transfer", "open transfer "+other.ID.String())
		}
	}
	if r.Version == 0 {
		r.Version = 1
	}
	m.requests[r.ID] = r.Clone()

	id := r.ID
	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.requests, id)
		m.mu.Unlock()
	})
	return nil
}

func (m *repoMemory) GetByID(_ context.Context, id uuid.UUID) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, apperr.NotFound("transfer_request", id.String())
	}
	return r.Clone(), nil
}

func (m *repoMemory) Update(ctx context.Context, r *Request, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.requests[r.ID]
	if !ok {
		return apperr.NotFound("transfer_request", r.ID.String())
	}
	if current.Version != expectedVersion {
		return apperr.Conflict("transfer_request", r.ID.String())
	}

	r.Version = expectedVersion + 1
	m.requests[r.ID] = r.Clone()

	txn.OnRollback(ctx, func() {
		m.mu.Lock()
		m.requests[current.ID] = current
		m.mu.Unlock()
	})
	return nil
}

func (m *repoMemory) List(_ context.Context, f ListFilter) ([]*Request, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Request
	for _, r := range m.requests {
		if f.matches(r) {
			matched = append(matched, r.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].RequestedAt.Equal(matched[j].RequestedAt) {
			return matched[i].RequestedAt.After(matched[j].RequestedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

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
