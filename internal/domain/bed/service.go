package bed

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/platform/audit"
	"github.com/carehome/bedengine/internal/platform/auth"
	"github.com/carehome/bedengine/internal/platform/metrics"
	"github.com/carehome/bedengine/internal/platform/txn"
)

const DefaultCleaningTurnaround = 4 * time.Hour

// Change adjusts a bed's sub-records as part of a transition. It sees the
// bed in its current status and may reject the operation.
type Change func(b *Bed) error

// Service is the Bed Registry: the only component that writes bed status.
type Service struct {
	repo    Repository
	tx      txn.Runner
	audit   audit.Recorder
	metrics *metrics.Metrics
	now     func() time.Time

	cleaningTurnaround time.Duration
	onAvailable        []func(bedID string)
}

func NewService(repo Repository, tx txn.Runner) *Service {
	return &Service{
		repo:               repo,
		tx:                 tx,
		now:                func() time.Time { return time.Now().UTC() },
		cleaningTurnaround: DefaultCleaningTurnaround,
	}
}

func (s *Service) SetAuditor(r audit.Recorder) { s.audit = r }

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) SetCleaningTurnaround(d time.Duration) {
	if d > 0 {
		s.cleaningTurnaround = d
	}
}

// OnAvailable registers fn to run after any committed transition that
// leaves a bed Available.
func (s *Service) OnAvailable(fn func(bedID string)) {
	s.onAvailable = append(s.onAvailable, fn)
}

// Provision registers a new bed in Available (or Blocked) status.
func (s *Service) Provision(ctx context.Context, b *Bed) (*Bed, error) {
	if b.FacilityID == "" {
		return nil, apperr.Validation("facility_id is required")
	}
	if b.BedType == "" {
		return nil, apperr.Validation("bed_type is required")
	}
	if b.MaxWeightKg < 0 {
		return nil, apperr.Validation("max_weight_kg must not be negative")
	}
	switch b.Status {
	case "":
		b.Status = StatusAvailable
	case StatusAvailable, StatusBlocked:
	default:
		return nil, apperr.Validationf("new beds start available or blocked, not %s", b.Status)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	now := s.now()
	b.Assignment, b.Reservation, b.Isolation, b.ActiveTransferID = nil, nil, nil, nil
	if b.Maintenance.Active() {
		return nil, apperr.Validation("new beds cannot carry an active maintenance schedule")
	}
	b.Version = 1
	b.CreatedAt, b.UpdatedAt = now, now

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, b); err != nil {
			return err
		}
		s.emit(ctx, "bed.provision", nil, b.Clone())
		return nil
	})
	if err != nil {
		return nil, apperr.WithOp("provision", err)
	}
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Bed, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Bed, int, error) {
	return s.repo.List(ctx, f)
}

// Transition moves a bed to a new status. The pair must be in the
// transition table; change (optional) then sets the sub-records the new
// status needs. Sub-records that the new status does not own are cleared,
// and the result must satisfy CheckInvariants. The write is guarded by the
// version read at the start.
func (s *Service) Transition(ctx context.Context, bedID string, to Status, action string, change Change) (*Bed, error) {
	return s.apply(ctx, bedID, action, func(b *Bed) (Status, error) {
		if err := ValidateTransition(b.ID, b.Status, to); err != nil {
			return "", err
		}
		return to, nil
	}, change)
}

// Amend runs change against a bed without moving its status, under the same
// invariant check and version guard as Transition.
func (s *Service) Amend(ctx context.Context, bedID, action string, change Change) (*Bed, error) {
	return s.apply(ctx, bedID, action, func(b *Bed) (Status, error) {
		return b.Status, nil
	}, change)
}

func (s *Service) apply(ctx context.Context, bedID, action string, target func(b *Bed) (Status, error), change Change) (*Bed, error) {
	defer s.metrics.ObserveSince(action, time.Now())

	var out *Bed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetByID(ctx, bedID)
		if err != nil {
			return err
		}
		before := b.Clone()

		to, err := target(b)
		if err != nil {
			return err
		}
		if change != nil {
			if err := change(b); err != nil {
				return err
			}
		}

		now := s.now()
		b.Status = to
		s.normalize(b, before.Status, now)
		if err := b.CheckInvariants(); err != nil {
			return apperr.Validation(err.Error())
		}
		b.UpdatedAt = now

		if err := s.repo.Update(ctx, b, before.Version); err != nil {
			if errors.Is(err, apperr.ErrConcurrentModification) {
				s.metrics.Conflict(action)
			}
			return err
		}

		after := b.Clone()
		s.emit(ctx, action, before, after)
		if to != before.Status {
			txn.AfterCommit(ctx, func() {
				s.metrics.BedTransition(string(before.Status), string(to))
				if to == StatusAvailable {
					for _, fn := range s.onAvailable {
						fn(bedID)
					}
				}
			})
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, apperr.WithOp(action, err)
	}
	return out, nil
}

// normalize drops sub-records the new status does not own and maintains the
// maintenance schedule across out-of-service boundaries.
func (s *Service) normalize(b *Bed, from Status, now time.Time) {
	if b.Status != StatusOccupied && b.Status != StatusPendingTransfer {
		b.Assignment = nil
	}
	if b.Status != StatusReserved {
		b.Reservation = nil
	}
	if b.Status != StatusPendingTransfer {
		b.ActiveTransferID = nil
	}
	if b.Status != StatusIsolation {
		b.Isolation = nil
	}

	switch b.Status {
	case StatusCleaning:
		if from != StatusCleaning && !(b.Maintenance.Active() && b.Maintenance.Type == MaintenanceDeepCleaning) {
			b.Maintenance = s.cleaningSchedule(now)
		}
	case StatusMaintenance:
	default:
		if b.Maintenance.Active() {
			b.Maintenance.Complete(now, nil, "")
		}
	}
}

func (s *Service) cleaningSchedule(now time.Time) *MaintenanceSchedule {
	started := now
	return &MaintenanceSchedule{
		Type:          MaintenanceDeepCleaning,
		Status:        ScheduleInProgress,
		ScheduledDate: now,
		StartedAt:     &started,
		NextDue:       now.Add(s.cleaningTurnaround),
		ScheduledBy:   auth.SystemActor,
	}
}

// Assign places a resident into an Available bed, or into a Reserved bed
// held for that same resident.
func (s *Service) Assign(ctx context.Context, bedID, residentID string, adm Admission) (*Bed, error) {
	if residentID == "" {
		return nil, apperr.Validation("resident_id is required")
	}
	return s.Transition(ctx, bedID, StatusOccupied, "bed.assign", func(b *Bed) error {
		switch b.Status {
		case StatusAvailable:
		case StatusReserved:
			if b.Reservation.ResidentID != residentID {
				return apperr.InvalidAssignment(b.ID, "bed is reserved for resident "+b.Reservation.ResidentID)
			}
			if b.Reservation.TransferID != nil {
				return apperr.InvalidAssignment(b.ID, "bed is held for transfer "+b.Reservation.TransferID.String())
			}
		default:
			return apperr.InvalidTransition(b.ID, string(b.Status), string(StatusOccupied))
		}
		b.Assignment = &Assignment{
			ResidentID:        residentID,
			AdmittedAt:        s.now(),
			AdmittedBy:        auth.ActorFromContext(ctx),
			CareLevel:         adm.CareLevel,
			ExpectedDischarge: adm.ExpectedDischarge,
			Notes:             adm.Notes,
		}
		return nil
	})
}

func (s *Service) Reserve(ctx context.Context, bedID, residentID string, expectedArrival time.Time) (*Bed, error) {
	if residentID == "" {
		return nil, apperr.Validation("resident_id is required")
	}
	return s.Transition(ctx, bedID, StatusReserved, "bed.reserve", func(b *Bed) error {
		if expectedArrival.IsZero() {
			expectedArrival = s.now()
		}
		b.Reservation = &Reservation{
			ResidentID:      residentID,
			ExpectedArrival: expectedArrival,
			ReservedBy:      auth.ActorFromContext(ctx),
			ReservedAt:      s.now(),
		}
		return nil
	})
}

// CancelReservation releases a plain reservation. Beds held for a transfer
// are released by cancelling the transfer.
func (s *Service) CancelReservation(ctx context.Context, bedID string) (*Bed, error) {
	return s.Transition(ctx, bedID, StatusAvailable, "bed.cancel_reservation", func(b *Bed) error {
		if b.Status != StatusReserved {
			return apperr.InvalidTransition(b.ID, string(b.Status), string(StatusAvailable))
		}
		if b.Reservation.TransferID != nil {
			return apperr.InvalidOperation("cancel_reservation", "bed", b.ID, "plain reservation", "transfer hold")
		}
		return nil
	})
}

// Discharge clears the assignment and sends the bed to cleaning.
func (s *Service) Discharge(ctx context.Context, bedID string) (*Bed, error) {
	return s.Transition(ctx, bedID, StatusCleaning, "bed.discharge", func(b *Bed) error {
		if b.Status != StatusOccupied {
			return apperr.InvalidTransition(b.ID, string(b.Status), string(StatusCleaning))
		}
		return nil
	})
}

func (s *Service) Isolate(ctx context.Context, bedID, reason string) (*Bed, error) {
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	return s.Transition(ctx, bedID, StatusIsolation, "bed.isolate", func(b *Bed) error {
		iso := &Isolation{Reason: reason, StartedAt: s.now()}
		if b.Assignment != nil {
			iso.PreviousResidentID = b.Assignment.ResidentID
		}
		b.Isolation = iso
		return nil
	})
}

// EndIsolation sends an isolated bed to cleaning.
func (s *Service) EndIsolation(ctx context.Context, bedID string) (*Bed, error) {
	return s.Transition(ctx, bedID, StatusCleaning, "bed.end_isolation", func(b *Bed) error {
		if b.Status != StatusIsolation {
			return apperr.InvalidTransition(b.ID, string(b.Status), string(StatusCleaning))
		}
		return nil
	})
}

// SetStatus is the raw transition used by administrators. Targets whose
// sub-records cannot be derived (Occupied, Reserved, PendingTransfer,
// Maintenance from Available) fail validation; use the dedicated operation.
func (s *Service) SetStatus(ctx context.Context, bedID string, to Status) (*Bed, error) {
	return s.Transition(ctx, bedID, to, "bed.transition", func(b *Bed) error {
		if to == StatusIsolation {
			b.Isolation = &Isolation{Reason: "set by administrator", StartedAt: s.now()}
		}
		return nil
	})
}

// Decommission removes a bed. Only Available beds may be removed.
func (s *Service) Decommission(ctx context.Context, bedID string) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetByID(ctx, bedID)
		if err != nil {
			return err
		}
		if b.Status != StatusAvailable {
			return apperr.InvalidOperation("decommission", "bed", b.ID, string(StatusAvailable), string(b.Status))
		}
		if err := s.repo.Delete(ctx, b.ID, b.Version); err != nil {
			return err
		}
		s.emit(ctx, "bed.decommission", b, nil)
		return nil
	})
	return apperr.WithOp("decommission", err)
}

func (s *Service) emit(ctx context.Context, action string, before, after *Bed) {
	if s.audit == nil {
		return
	}
	actor := auth.ActorFromContext(ctx)
	at := s.now()
	id := ""
	if after != nil {
		id = after.ID
	} else if before != nil {
		id = before.ID
	}
	var beforeState, afterState any
	if before != nil {
		beforeState = before
	}
	if after != nil {
		afterState = after
	}
	ev := audit.NewEvent("bed", id, action, actor, beforeState, afterState, at)
	txn.AfterCommit(ctx, func() { s.audit.Record(ev) })
}
