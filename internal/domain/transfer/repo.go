package transfer

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists transfer requests. Create rejects a second open
// request for the same source bed with apperr.ErrInvalidOperation. List
// returns the newest requests first.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	Update(ctx context.Context, r *Request, expectedVersion int64) error
	List(ctx context.Context, f ListFilter) ([]*Request, int, error)
}
