package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/domain/bed"
	"github.com/carehome/bedengine/internal/platform/audit"
	"github.com/carehome/bedengine/internal/platform/auth"
	"github.com/carehome/bedengine/internal/platform/metrics"
	"github.com/carehome/bedengine/internal/platform/notification"
	"github.com/carehome/bedengine/internal/platform/txn"
)

// Beds is the part of the bed registry the workflow drives. *bed.Service
// satisfies it.
type Beds interface {
	Get(ctx context.Context, id string) (*bed.Bed, error)
	Transition(ctx context.Context, bedID string, to bed.Status, action string, change bed.Change) (*bed.Bed, error)
}

// Service runs the transfer workflow. Every step validates the request and
// both beds before any write, and all writes of a step share one
// transaction.
type Service struct {
	repo     Repository
	tx       txn.Runner
	beds     Beds
	audit    audit.Recorder
	notifier notification.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(repo Repository, tx txn.Runner, beds Beds) *Service {
	return &Service{
		repo: repo,
		tx:   tx,
		beds: beds,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetAuditor(r audit.Recorder) { s.audit = r }

func (s *Service) SetNotifier(n notification.Notifier) { s.notifier = n }

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Request, int, error) {
	return s.repo.List(ctx, f)
}

// RequestInput carries the caller-supplied fields of a new request.
type RequestInput struct {
	SourceBedID string   `json:"source_bed_id"`
	TargetBedID string   `json:"target_bed_id,omitempty"`
	Reason      string   `json:"reason"`
	Priority    Priority `json:"priority"`
}

// Request opens a transfer for the resident in an Occupied source bed and
// moves that bed to PendingTransfer. A target named here is only a
// preference; it is held at approval.
func (s *Service) Request(ctx context.Context, in RequestInput) (*Request, error) {
	defer s.metrics.ObserveSince("request_transfer", time.Now())

	if in.SourceBedID == "" {
		return nil, apperr.Validation("source_bed_id is required")
	}
	if in.Reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, apperr.Validationf("unknown priority %q", in.Priority)
	}
	if in.TargetBedID == in.SourceBedID {
		return nil, apperr.Validation("target bed must differ from source bed")
	}

	var out *Request
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		source, err := s.beds.Get(ctx, in.SourceBedID)
		if err != nil {
			return err
		}
		if source.Status != bed.StatusOccupied {
			return apperr.InvalidOperation("request_transfer", "bed", source.ID, string(bed.StatusOccupied), string(source.Status))
		}
		if in.TargetBedID != "" {
			if _, err := s.beds.Get(ctx, in.TargetBedID); err != nil {
				return err
			}
		}

		now := s.now()
		req := &Request{
			ID:          uuid.New(),
			SourceBedID: source.ID,
			TargetBedID: in.TargetBedID,
			ResidentID:  source.Assignment.ResidentID,
			Reason:      in.Reason,
			Priority:    in.Priority,
			Status:      StatusPending,
			RequestedBy: auth.ActorFromContext(ctx),
			RequestedAt: now,
			Version:     1,
			UpdatedAt:   now,
		}
		if err := s.repo.Create(ctx, req); err != nil {
			return err
		}

		id := req.ID
		_, err = s.beds.Transition(ctx, source.ID, bed.StatusPendingTransfer, "transfer.request", func(b *bed.Bed) error {
			b.ActiveTransferID = &id
			return nil
		})
		if err != nil {
			return err
		}

		s.emit(ctx, "transfer.request", nil, req.Clone())
		s.notify(ctx, req)
		out = req
		return nil
	})
	if err != nil {
		return nil, apperr.WithOp("request_transfer", err)
	}
	return out, nil
}

// Approve holds an Available target bed for the resident and advances the
// request to Approved.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, targetBedID string, scheduledDate *time.Time) (*Request, error) {
	defer s.metrics.ObserveSince("approve_transfer", time.Now())

	var out *Request
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		req, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return apperr.InvalidOperation("approve_transfer", "transfer_request", id.String(), string(StatusPending), string(req.Status))
		}
		if targetBedID == "" {
			targetBedID = req.TargetBedID
		}
		if targetBedID == "" {
			return apperr.Validation("target_bed_id is required")
		}
		if targetBedID == req.SourceBedID {
			return apperr.Validation("target bed must differ from source bed")
		}
		target, err := s.beds.Get(ctx, targetBedID)
		if err != nil {
			return err
		}
		if target.Status != bed.StatusAvailable {
			return apperr.InvalidOperation("approve_transfer", "bed", target.ID, string(bed.StatusAvailable), string(target.Status))
		}

		now := s.now()
		arrival := now
		if scheduledDate != nil {
			arrival = *scheduledDate
		}
		actor := auth.ActorFromContext(ctx)
		_, err = s.beds.Transition(ctx, target.ID, bed.StatusReserved, "transfer.approve", func(b *bed.Bed) error {
			b.Reservation = &bed.Reservation{
				ResidentID:      req.ResidentID,
				ExpectedArrival: arrival,
				ReservedBy:      actor,
				ReservedAt:      now,
				TransferID:      &id,
			}
			return nil
		})
		if err != nil {
			return err
		}

		before := req.Clone()
		req.Status = StatusApproved
		req.TargetBedID = target.ID
		req.ApprovedBy = actor
		req.ApprovedAt = &now
		req.ScheduledDate = scheduledDate
		req.UpdatedAt = now
		if err := s.repo.Update(ctx, req, before.Version); err != nil {
			return err
		}
		s.emit(ctx, "transfer.approve", before, req.Clone())
		out = req
		return nil
	})
	if err != nil {
		return nil, apperr.WithOp("approve_transfer", err)
	}
	return out, nil
}

// Execute moves the assignment from the source to the reserved target. The
// source bed is released to Available. Both beds and the request commit
// together or not at all.
func (s *Service) Execute(ctx context.Context, id uuid.UUID) (*Request, error) {
	defer s.metrics.ObserveSince("execute_transfer", time.Now())

	var out *Request
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		req, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusApproved {
			return apperr.InvalidOperation("execute_transfer", "transfer_request", id.String(), string(StatusApproved), string(req.Status))
		}
		source, err := s.heldSource(ctx, req, "execute_transfer")
		if err != nil {
			return err
		}
		target, err := s.beds.Get(ctx, req.TargetBedID)
		if err != nil {
			return err
		}
		if target.Status != bed.StatusReserved || target.Reservation.TransferID == nil || *target.Reservation.TransferID != id {
			return apperr.InvalidOperation("execute_transfer", "bed", target.ID, "reserved for transfer "+id.String(), string(target.Status))
		}

		now := s.now()
		moved := *source.Assignment
		moved.AdmittedAt = now
		moved.AdmittedBy = auth.ActorFromContext(ctx)
		moved.Notes = fmt.Sprintf("transferred from bed %s", source.ID)

		if _, err := s.beds.Transition(ctx, source.ID, bed.StatusAvailable, "transfer.execute", nil); err != nil {
			return err
		}
		_, err = s.beds.Transition(ctx, target.ID, bed.StatusOccupied, "transfer.execute", func(b *bed.Bed) error {
			b.Assignment = &moved
			return nil
		})
		if err != nil {
			return err
		}

		before := req.Clone()
		req.Status = StatusCompleted
		req.CompletedAt = &now
		req.UpdatedAt = now
		if err := s.repo.Update(ctx, req, before.Version); err != nil {
			return err
		}
		s.emit(ctx, "transfer.execute", before, req.Clone())
		out = req
		return nil
	})
	if err != nil {
		return nil, apperr.WithOp("execute_transfer", err)
	}
	return out, nil
}

// Reject closes a Pending request and returns the source bed to Occupied.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*Request, error) {
	return s.close(ctx, id, StatusRejected, reason, "reject_transfer", "transfer.reject")
}

// Cancel closes a Pending or Approved request, returning the source bed to
// Occupied and releasing any held target.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Request, error) {
	return s.close(ctx, id, StatusCancelled, reason, "cancel_transfer", "transfer.cancel")
}

func (s *Service) close(ctx context.Context, id uuid.UUID, to Status, reason, op, action string) (*Request, error) {
	defer s.metrics.ObserveSince(op, time.Now())

	var out *Request
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		req, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		allowed := req.Status == StatusPending || (to == StatusCancelled && req.Status == StatusApproved)
		if !allowed {
			expected := string(StatusPending)
			if to == StatusCancelled {
				expected = "pending or approved"
			}
			return apperr.InvalidOperation(op, "transfer_request", id.String(), expected, string(req.Status))
		}
		source, err := s.heldSource(ctx, req, op)
		if err != nil {
			return err
		}

		var releaseTarget bool
		if req.Status == StatusApproved {
			target, err := s.beds.Get(ctx, req.TargetBedID)
			if err != nil {
				return err
			}
			r := target.Reservation
			releaseTarget = target.Status == bed.StatusReserved && r != nil && r.TransferID != nil && *r.TransferID == id
		}

		if _, err := s.beds.Transition(ctx, source.ID, bed.StatusOccupied, action, nil); err != nil {
			return err
		}
		if releaseTarget {
			if _, err := s.beds.Transition(ctx, req.TargetBedID, bed.StatusAvailable, action, nil); err != nil {
				return err
			}
		}

		now := s.now()
		before := req.Clone()
		req.Status = to
		req.ClosedBy = auth.ActorFromContext(ctx)
		req.ClosedAt = &now
		req.ClosedReason = reason
		req.UpdatedAt = now
		if err := s.repo.Update(ctx, req, before.Version); err != nil {
			return err
		}
		s.emit(ctx, action, before, req.Clone())
		out = req
		return nil
	})
	if err != nil {
		return nil, apperr.WithOp(op, err)
	}
	return out, nil
}

// heldSource loads the source bed and checks it is still held by req.
func (s *Service) heldSource(ctx context.Context, req *Request, op string) (*bed.Bed, error) {
	source, err := s.beds.Get(ctx, req.SourceBedID)
	if err != nil {
		return nil, err
	}
	if source.Status != bed.StatusPendingTransfer || source.ActiveTransferID == nil || *source.ActiveTransferID != req.ID {
		return nil, apperr.InvalidOperation(op, "bed", source.ID, string(bed.StatusPendingTransfer), string(source.Status))
	}
	return source, nil
}

func (s *Service) notify(ctx context.Context, req *Request) {
	if s.notifier == nil {
		return
	}
	id := req.ID
	n := notification.Notice{
		Kind:       notification.KindTransferRequested,
		Priority:   req.Priority.NoticePriority(),
		BedID:      req.SourceBedID,
		ResidentID: req.ResidentID,
		TransferID: &id,
		Message:    fmt.Sprintf("transfer requested for resident %s from bed %s: %s", req.ResidentID, req.SourceBedID, req.Reason),
		CreatedAt:  s.now(),
	}
	txn.AfterCommit(ctx, func() { s.notifier.Notify(n) })
}

func (s *Service) emit(ctx context.Context, action string, before, after *Request) {
	if s.audit == nil {
		return
	}
	var beforeState any
	if before != nil {
		beforeState = before
	}
	ev := audit.NewEvent("transfer_request", after.ID.String(), action, auth.ActorFromContext(ctx), beforeState, after, s.now())
	txn.AfterCommit(ctx, func() { s.audit.Record(ev) })
}
