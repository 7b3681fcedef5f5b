package bed

import "context"

// Repository persists beds. Update and Delete succeed only when the stored
// version equals expectedVersion; otherwise they return
// apperr.ErrConcurrentModification. Update increments Version on success.
type Repository interface {
	Create(ctx context.Context, b *Bed) error
	GetByID(ctx context.Context, id string) (*Bed, error)
	Update(ctx context.Context, b *Bed, expectedVersion int64) error
	Delete(ctx context.Context, id string, expectedVersion int64) error
	List(ctx context.Context, f ListFilter) ([]*Bed, int, error)
}
