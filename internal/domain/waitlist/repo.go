package waitlist

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists waitlist entries. Create fails with
// apperr.ErrDuplicateEntry when the resident already has an Active entry.
// List returns entries in queue order.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	Update(ctx context.Context, e *Entry, expectedVersion int64) error
	List(ctx context.Context, f ListFilter) ([]*Entry, int, error)
}
