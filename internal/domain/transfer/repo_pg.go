package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/platform/db"
)

// openSourceIndex allows one Pending or Approved request per source bed.
const openSourceIndex = "transfer_request_open_source_idx"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const requestCols = `id, source_bed_id, target_bed_id, resident_id, reason, priority, status,
	requested_by, requested_at, approved_by, approved_at, scheduled_date, completed_at,
	closed_by, closed_at, closed_reason, version, updated_at`

func (r *repoPG) Create(ctx context.Context, t *Request) error {
	if t.Version == 0 {
		t.Version = 1
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO transfer_request (`+requestCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		t.ID, t.SourceBedID, t.TargetBedID, t.ResidentID, t.Reason, string(t.Priority),
		string(t.Status), t.RequestedBy, t.RequestedAt, t.ApprovedBy, t.ApprovedAt,
		t.ScheduledDate, t.CompletedAt, t.ClosedBy, t.ClosedAt, t.ClosedReason,
		t.Version, t.UpdatedAt,
	)
	if db.IsUniqueViolation(err, openSourceIndex) {
		return apperr.InvalidOperation("request_transfer", "bed", t.SourceBedID, "no open transfer", "open transfer")
	}
	if err != nil {
		return fmt.Errorf("insert transfer request: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	t, err := scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM transfer_request WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("transfer_request", id.String())
	}
	return t, err
}

func (r *repoPG) Update(ctx context.Context, t *Request, expectedVersion int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE transfer_request SET
			target_bed_id=$3, reason=$4, priority=$5, status=$6, approved_by=$7,
			approved_at=$8, scheduled_date=$9, completed_at=$10, closed_by=$11,
			closed_at=$12, closed_reason=$13, updated_at=$14, version = version + 1
		WHERE id = $1 AND version = $2`,
		t.ID, expectedVersion, t.TargetBedID, t.Reason, string(t.Priority), string(t.Status),
		t.ApprovedBy, t.ApprovedAt, t.ScheduledDate, t.CompletedAt, t.ClosedBy,
		t.ClosedAt, t.ClosedReason, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update transfer request %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transfer_request WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("transfer_request", t.ID.String())
		}
		return apperr.Conflict("transfer_request", t.ID.String())
	}
	t.Version = expectedVersion + 1
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Request, int, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.SourceBedID != "" {
		add("source_bed_id = $%d", f.SourceBedID)
	}
	if f.ResidentID != "" {
		add("resident_id = $%d", f.ResidentID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM transfer_request`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + requestCols + ` FROM transfer_request` + where + ` ORDER BY requested_at DESC, id::text ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		t, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func scanRequest(row pgx.Row) (*Request, error) {
	var t Request
	var priority, status string
	err := row.Scan(
		&t.ID, &t.SourceBedID, &t.TargetBedID, &t.ResidentID, &t.Reason, &priority, &status,
		&t.RequestedBy, &t.RequestedAt, &t.ApprovedBy, &t.ApprovedAt, &t.ScheduledDate,
		&t.CompletedAt, &t.ClosedBy, &t.ClosedAt, &t.ClosedReason, &t.Version, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	return &t, nil
}
