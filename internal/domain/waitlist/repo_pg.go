package waitlist

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

// activeResidentIndex is the partial unique index allowing one Active entry
// per resident.
const activeResidentIndex = "waitlist_entry_active_resident_idx"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const entryCols = `id, resident_id, facility_id, priority, care_level, preferred_bed_types,
	special_requirements, preferred_floor, preferred_wing, weight_kg, notes, requested_at,
	requested_by, status, placed_bed_id, closed_at, closed_reason, version, updated_at`

// queueOrder mirrors Less.
const queueOrder = ` ORDER BY CASE priority
	WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
	requested_at ASC, id::text ASC`

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	if e.Version == 0 {
		e.Version = 1
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO waitlist_entry (`+entryCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		e.ID, e.ResidentID, e.FacilityID, string(e.Priority), e.CareLevel,
		nonNil(e.PreferredBedTypes), nonNil(e.SpecialRequirements), e.PreferredFloor,
		e.PreferredWing, e.WeightKg, e.Notes, e.RequestedAt, e.RequestedBy,
		string(e.Status), e.PlacedBedID, e.ClosedAt, e.ClosedReason, e.Version, e.UpdatedAt,
	)
	if db.IsUniqueViolation(err, activeResidentIndex) {
		return apperr.Duplicate("waitlist_entry", e.ResidentID, "resident already has an active entry")
	}
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM waitlist_entry WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("waitlist_entry", id.String())
	}
	return e, err
}

func (r *repoPG) Update(ctx context.Context, e *Entry, expectedVersion int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE waitlist_entry SET
			facility_id=$3, priority=$4, care_level=$5, preferred_bed_types=$6,
			special_requirements=$7, preferred_floor=$8, preferred_wing=$9, weight_kg=$10,
			notes=$11, status=$12, placed_bed_id=$13, closed_at=$14, closed_reason=$15,
			updated_at=$16, version = version + 1
		WHERE id = $1 AND version = $2`,
		e.ID, expectedVersion, e.FacilityID, string(e.Priority), e.CareLevel,
		nonNil(e.PreferredBedTypes), nonNil(e.SpecialRequirements), e.PreferredFloor,
		e.PreferredWing, e.WeightKg, e.Notes, string(e.Status), e.PlacedBedID,
		e.ClosedAt, e.ClosedReason, e.UpdatedAt,
	)
	if db.IsUniqueViolation(err, activeResidentIndex) {
		return apperr.Duplicate("waitlist_entry", e.ResidentID, "resident already has an active entry")
	}
	if err != nil {
		return fmt.Errorf("update waitlist entry %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM waitlist_entry WHERE id = $1)`, e.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("waitlist_entry", e.ID.String())
		}
		return apperr.Conflict("waitlist_entry", e.ID.String())
	}
	e.Version = expectedVersion + 1
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Entry, int, error) {
	var conds []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.ResidentID != "" {
		args = append(args, f.ResidentID)
		conds = append(conds, fmt.Sprintf("resident_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM waitlist_entry`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + entryCols + ` FROM waitlist_entry` + where + queueOrder
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

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var priority, status string
	err := row.Scan(
		&e.ID, &e.ResidentID, &e.FacilityID, &priority, &e.CareLevel, &e.PreferredBedTypes,
		&e.SpecialRequirements, &e.PreferredFloor, &e.PreferredWing, &e.WeightKg, &e.Notes,
		&e.RequestedAt, &e.RequestedBy, &status, &e.PlacedBedID, &e.ClosedAt,
		&e.ClosedReason, &e.Version, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Priority = Priority(priority)
	e.Status = Status(status)
	return &e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
