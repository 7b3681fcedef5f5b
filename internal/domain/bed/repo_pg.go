package bed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const bedCols = `id, facility_id, wing, floor, room, label, bed_type, features, care_levels,
	max_weight_kg, equipment, status, assignment, reservation, maintenance, isolation,
	active_transfer_id, version, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, b *Bed) error {
	sub, err := marshalSubRecords(b)
	if err != nil {
		return err
	}
	if b.Version == 0 {
		b.Version = 1
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO bed (`+bedCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		b.ID, b.FacilityID, b.Wing, b.Floor, b.Room, b.Label, b.BedType,
		nonNil(b.Features), nonNil(b.CareLevels), b.MaxWeightKg, nonNil(b.Equipment),
		string(b.Status), sub.assignment, sub.reservation, sub.maintenance, sub.isolation,
		b.ActiveTransferID, b.Version, b.CreatedAt, b.UpdatedAt,
	)
	if db.IsUniqueViolation(err, "bed_pkey") {
		return apperr.Duplicate("bed", b.ID, "bed id already provisioned")
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*Bed, error) {
	b, err := scanBed(r.conn(ctx).QueryRow(ctx, `SELECT `+bedCols+` FROM bed WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("bed", id)
	}
	return b, err
}

func (r *repoPG) Update(ctx context.Context, b *Bed, expectedVersion int64) error {
	sub, err := marshalSubRecords(b)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bed SET
			facility_id=$3, wing=$4, floor=$5, room=$6, label=$7, bed_type=$8,
			features=$9, care_levels=$10, max_weight_kg=$11, equipment=$12,
			status=$13, assignment=$14, reservation=$15, maintenance=$16, isolation=$17,
			active_transfer_id=$18, updated_at=$19, version = version + 1
		WHERE id = $1 AND version = $2`,
		b.ID, expectedVersion, b.FacilityID, b.Wing, b.Floor, b.Room, b.Label, b.BedType,
		nonNil(b.Features), nonNil(b.CareLevels), b.MaxWeightKg, nonNil(b.Equipment),
		string(b.Status), sub.assignment, sub.reservation, sub.maintenance, sub.isolation,
		b.ActiveTransferID, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update bed %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, b.ID)
	}
	b.Version = expectedVersion + 1
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id string, expectedVersion int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bed WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete bed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *repoPG) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bed WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("bed", id)
	}
	return apperr.Conflict("bed", id)
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Bed, int, error) {
	where, args := buildBedWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bed`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + bedCols + ` FROM bed` + where + ` ORDER BY id`
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

	var beds []*Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, 0, err
		}
		beds = append(beds, b)
	}
	return beds, total, rows.Err()
}

func buildBedWhere(f ListFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.FacilityID != "" {
		add("facility_id = $%d", f.FacilityID)
	}
	if f.Wing != "" {
		add("wing = $%d", f.Wing)
	}
	if f.Floor != nil {
		add("floor = $%d", *f.Floor)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type subRecords struct {
	assignment, reservation, maintenance, isolation []byte
}

func marshalSubRecords(b *Bed) (subRecords, error) {
	var s subRecords
	var err error
	if s.assignment, err = marshalNullable(b.Assignment); err != nil {
		return s, err
	}
	if s.reservation, err = marshalNullable(b.Reservation); err != nil {
		return s, err
	}
	if s.maintenance, err = marshalNullable(b.Maintenance); err != nil {
		return s, err
	}
	s.isolation, err = marshalNullable(b.Isolation)
	return s, err
}

func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable[T any](data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	var status string
	var assignment, reservation, maintenance, isolation []byte
	err := row.Scan(
		&b.ID, &b.FacilityID, &b.Wing, &b.Floor, &b.Room, &b.Label, &b.BedType,
		&b.Features, &b.CareLevels, &b.MaxWeightKg, &b.Equipment,
		&status, &assignment, &reservation, &maintenance, &isolation,
		&b.ActiveTransferID, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = Status(status)

	if b.Assignment, err = unmarshalNullable[Assignment](assignment); err != nil {
		return nil, fmt.Errorf("decode assignment of bed %s: %w", b.ID, err)
	}
	if b.Reservation, err = unmarshalNullable[Reservation](reservation); err != nil {
		return nil, fmt.Errorf("decode reservation of bed %s: %w", b.ID, err)
	}
	if b.Maintenance, err = unmarshalNullable[MaintenanceSchedule](maintenance); err != nil {
		return nil, fmt.Errorf("decode maintenance of bed %s: %w", b.ID, err)
	}
	if b.Isolation, err = unmarshalNullable[Isolation](isolation); err != nil {
		return nil, fmt.Errorf("decode isolation of bed %s: %w", b.ID, err)
	}
	return &b, nil
}
