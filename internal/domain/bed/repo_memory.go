package bed

import (
	"context"
	"sort"
	"sync"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/platform/txn"
)

type repoMemory struct {
	mu   sync.RWMutex
	beds map[string]*Bed
}

// NewMemoryRepo returns a Repository held in process memory. Writes made
// inside a txn scope are undone if the transaction rolls back.
func NewMemoryRepo() Repository {
	return &repoMemory{beds: make(map[string]*Bed)}
}

func (r *repoMemory) Create(ctx context.Context, b *Bed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.beds[b.ID]; ok {
		return apperr.Duplicate("bed", b.ID, "bed id already provisioned")
	}
	if b.Version == 0 {
		b.Version = 1
	}
	r.beds[b.ID] = b.Clone()

	id := b.ID
	txn.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.beds, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *repoMemory) GetByID(_ context.Context, id string) (*Bed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed", id)
	}
	return b.Clone(), nil
}

func (r *repoMemory) Update(ctx context.Context, b *Bed, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.beds[b.ID]
	if !ok {
		return apperr.NotFound("bed", b.ID)
	}
	if current.Version != expectedVersion {
		return apperr.Conflict("bed", b.ID)
	}

	b.Version = expectedVersion + 1
	r.beds[b.ID] = b.Clone()

	txn.OnRollback(ctx, func() {
		r.mu.Lock()
		r.beds[current.ID] = current
		r.mu.Unlock()
	})
	return nil
}

func (r *repoMemory) Delete(ctx context.Context, id string, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.beds[id]
	if !ok {
		return apperr.NotFound("bed", id)
	}
	if current.Version != expectedVersion {
		return apperr.Conflict("bed", id)
	}
	delete(r.beds, id)

	txn.OnRollback(ctx, func() {
		r.mu.Lock()
		r.beds[id] = current
		r.mu.Unlock()
	})
	return nil
}

func (r *repoMemory) List(_ context.Context, f ListFilter) ([]*Bed, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Bed
	for _, b := range r.beds {
		if f.matches(b) {
			matched = append(matched, b)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

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

	out := make([]*Bed, len(matched))
	for i, b := range matched {
		out[i] = b.Clone()
	}
	return out, total, nil
}
