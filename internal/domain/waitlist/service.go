package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carehome/bedengine/internal/domain/allocation"
	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/domain/bed"
	"github.com/carehome/bedengine/internal/platform/audit"
	"github.com/carehome/bedengine/internal/platform/auth"
	"github.com/carehome/bedengine/internal/platform/metrics"
	"github.com/carehome/bedengine/internal/platform/notification"
	"github.com/carehome/bedengine/internal/platform/txn"
)

// BedMatcher finds the best bed for a set of criteria.
type BedMatcher interface {
	FindOptimalBed(ctx context.Context, c allocation.Criteria) (allocation.Match, bool, error)
}

// BedAssigner places a resident into a bed. *bed.Service satisfies it.
type BedAssigner interface {
	Assign(ctx context.Context, bedID, residentID string, adm bed.Admission) (*bed.Bed, error)
}

type Service struct {
	repo     Repository
	tx       txn.Runner
	matcher  BedMatcher
	beds     BedAssigner
	audit    audit.Recorder
	notifier notification.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(repo Repository, tx txn.Runner, matcher BedMatcher, beds BedAssigner) *Service {
	return &Service{
		repo:    repo,
		tx:      tx,
		matcher: matcher,
		beds:    beds,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetAuditor(r audit.Recorder) { s.audit = r }

func (s *Service) SetNotifier(n notification.Notifier) { s.notifier = n }

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Add puts a resident on the waitlist. A resident may hold only one Active
// entry.
func (s *Service) Add(ctx context.Context, e *Entry) (*Entry, error) {
	if e.Priority == "" {
		e.Priority = PriorityMedium
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	e.ID = uuid.New()
	e.Status = StatusActive
	e.RequestedAt = now
	e.RequestedBy = auth.ActorFromContext(ctx)
	e.PlacedBedID, e.ClosedAt, e.ClosedReason = "", nil, ""
	e.Version = 1
	e.UpdatedAt = now

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		s.emit(ctx, "waitlist.add", nil, e.Clone())
		return nil
	})
	if err != nil {
		return nil, apperr.WithOp("waitlist_add", err)
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Entry, int, error) {
	return s.repo.List(ctx, f)
}

// Cancel closes an Active entry.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Entry, error) {
	return s.close(ctx, id, StatusCancelled, reason, "waitlist.cancel")
}

func (s *Service) close(ctx context.Context, id uuid.UUID, to Status, reason, action string) (*Entry, error) {
	var out *Entry
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != StatusActive {
			return apperr.InvalidOperation(action, "waitlist_entry", id.String(), string(StatusActive), string(e.Status))
		}
		before := e.Clone()
		now := s.now()
		e.Status = to
		e.ClosedAt = &now
		e.ClosedReason = reason
		e.UpdatedAt = now
		if err := s.repo.Update(ctx, e, before.Version); err != nil {
			return err
		}
		s.emit(ctx, action, before, e.Clone())
		out = e
		return nil
	})
	if err != nil {
		return nil, apperr.WithOp(action, err)
	}
	return out, nil
}

// ExpireStale marks Active entries requested more than maxAge ago as
// Expired. One entry failing does not stop the sweep.
func (s *Service) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, apperr.Validation("max age must be positive")
	}
	active, _, err := s.repo.List(ctx, ListFilter{Status: StatusActive})
	if err != nil {
		return 0, fmt.Errorf("list active entries: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	expired := 0
	var errs []error
	for _, e := range active {
		if !e.RequestedAt.Before(cutoff) {
			continue
		}
		if _, err := s.close(ctx, e.ID, StatusExpired, "exceeded maximum wait", "waitlist.expire"); err != nil {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			if !errors.Is(err, apperr.ErrConcurrentModification) && !errors.Is(err, apperr.ErrInvalidOperation) {
				errs = append(errs, err)
			}
			continue
		}
		expired++
	}
	return expired, errors.Join(errs...)
}

// Placement records one successful match made by ProcessAll.
type Placement struct {
	EntryID    uuid.UUID `json:"entry_id"`
	ResidentID string    `json:"resident_id"`
	BedID      string    `json:"bed_id"`
	Score      int       `json:"score"`
}

// Failure records an entry whose processing returned an error.
type Failure struct {
	EntryID uuid.UUID `json:"entry_id"`
	Error   string    `json:"error"`
}

// RunReport describes one ProcessAll pass. Attempted lists every entry in
// the order it was considered.
type RunReport struct {
	StartedAt  time.Time   `json:"started_at"`
	Attempted  []uuid.UUID `json:"attempted"`
	Placements []Placement `json:"placements"`
	Unmatched  []uuid.UUID `json:"unmatched"`
	Conflicts  []uuid.UUID `json:"conflicts"`
	Skipped    []uuid.UUID `json:"skipped"`
	Failures   []Failure   `json:"failures"`
}

var errNoLongerActive = errors.New("entry no longer active")

// ProcessAll walks every Active entry in queue order and places each one
// whose criteria match a bed in the current pool. Each placement commits on
// its own; a conflict with a concurrent writer skips that entry and the run
// continues.
func (s *Service) ProcessAll(ctx context.Context) (*RunReport, error) {
	defer s.metrics.ObserveSince("waitlist_process_all", time.Now())

	report := &RunReport{StartedAt: s.now()}
	active, _, err := s.repo.List(ctx, ListFilter{Status: StatusActive})
	if err != nil {
		return report, fmt.Errorf("list active entries: %w", err)
	}
	Sort(active)

	placedThisRun := make(map[string]bool)
	for _, e := range active {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted = append(report.Attempted, e.ID)
		if placedThisRun[e.ResidentID] {
			report.Skipped = append(report.Skipped, e.ID)
			continue
		}

		p, matched, err := s.place(ctx, e.ID)
		switch {
		case err == nil && matched:
			placedThisRun[e.ResidentID] = true
			report.Placements = append(report.Placements, p)
		case err == nil:
			report.Unmatched = append(report.Unmatched, e.ID)
		case errors.Is(err, errNoLongerActive):
			report.Skipped = append(report.Skipped, e.ID)
		case errors.Is(err, apperr.ErrConcurrentModification),
			errors.Is(err, apperr.ErrInvalidStatusTransition),
			errors.Is(err, apperr.ErrInvalidAssignment):
			s.metrics.Conflict("waitlist_process_all")
			report.Conflicts = append(report.Conflicts, e.ID)
		default:
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failures = append(report.Failures, Failure{EntryID: e.ID, Error: err.Error()})
		}
	}
	return report, nil
}

// place matches and assigns one entry inside a single transaction. The pool
// is read inside the transaction so each placement sees the beds consumed
// by earlier ones.
func (s *Service) place(ctx context.Context, id uuid.UUID) (Placement, bool, error) {
	var p Placement
	matched := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != StatusActive {
			return errNoLongerActive
		}

		match, ok, err := s.matcher.FindOptimalBed(ctx, e.Criteria())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		adm := bed.Admission{CareLevel: e.CareLevel, Notes: "placed from waitlist entry " + e.ID.String()}
		if _, err := s.beds.Assign(ctx, match.Bed.ID, e.ResidentID, adm); err != nil {
			return err
		}

		before := e.Clone()
		now := s.now()
		e.Status = StatusPlaced
		e.PlacedBedID = match.Bed.ID
		e.ClosedAt = &now
		e.UpdatedAt = now
		if err := s.repo.Update(ctx, e, before.Version); err != nil {
			return err
		}
		s.emit(ctx, "waitlist.place", before, e.Clone())
		s.notify(ctx, e, match)
		txn.AfterCommit(ctx, s.metrics.Placement)

		p = Placement{EntryID: e.ID, ResidentID: e.ResidentID, BedID: match.Bed.ID, Score: match.Score}
		matched = true
		return nil
	})
	if err != nil {
		return Placement{}, false, err
	}
	return p, matched, nil
}

func (s *Service) notify(ctx context.Context, e *Entry, match allocation.Match) {
	if s.notifier == nil {
		return
	}
	entryID := e.ID
	n := notification.Notice{
		Kind:       notification.KindWaitlistMatched,
		Priority:   e.Priority.NoticePriority(),
		BedID:      match.Bed.ID,
		ResidentID: e.ResidentID,
		EntryID:    &entryID,
		Message:    fmt.Sprintf("resident %s placed in bed %s (score %d)", e.ResidentID, match.Bed.ID, match.Score),
		CreatedAt:  s.now(),
	}
	txn.AfterCommit(ctx, func() { s.notifier.Notify(n) })
}

func (s *Service) emit(ctx context.Context, action string, before, after *Entry) {
	if s.audit == nil {
		return
	}
	id := after.ID.String()
	var beforeState any
	if before != nil {
		beforeState = before
	}
	ev := audit.NewEvent("waitlist_entry", id, action, auth.ActorFromContext(ctx), beforeState, after, s.now())
	txn.AfterCommit(ctx, func() { s.audit.Record(ev) })
}
