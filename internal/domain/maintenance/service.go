// Package maintenance runs the maintenance workflow: a bed is taken out of
// service on a schedule, worked on, and restored to Available with the next
// due date set from the maintenance type's interval.
package maintenance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/domain/bed"
	"github.com/carehome/bedengine/internal/platform/auth"
	"github.com/carehome/bedengine/internal/platform/metrics"
	"github.com/carehome/bedengine/internal/platform/notification"
	"github.com/carehome/bedengine/internal/platform/txn"
)

const (
	// HighPriorityAfter is how long a schedule may be overdue before its
	// notice is raised to high priority.
	HighPriorityAfter = 7 * 24 * time.Hour
	// DueSoonWindow is how far ahead the sweep looks for due-soon schedules.
	DueSoonWindow = 24 * time.Hour
)

// Beds is the part of the bed registry the workflow drives. *bed.Service
// satisfies it.
type Beds interface {
	Get(ctx context.Context, id string) (*bed.Bed, error)
	List(ctx context.Context, f bed.ListFilter) ([]*bed.Bed, int, error)
	Transition(ctx context.Context, bedID string, to bed.Status, action string, change bed.Change) (*bed.Bed, error)
	Amend(ctx context.Context, bedID, action string, change bed.Change) (*bed.Bed, error)
}

type Service struct {
	beds     Beds
	tx       txn.Runner
	notifier notification.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(beds Beds, tx txn.Runner) *Service {
	return &Service{
		beds: beds,
		tx:   tx,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetNotifier(n notification.Notifier) { s.notifier = n }

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ScheduleInput carries the caller-supplied fields of a new schedule.
type ScheduleInput struct {
	Type          bed.MaintenanceType `json:"type"`
	ScheduledDate time.Time           `json:"scheduled_date"`
	Notes         string              `json:"notes,omitempty"`
}

// Schedule takes a bed out of service. A bed in Cleaning has its cleaning
// schedule replaced by the new one.
func (s *Service) Schedule(ctx context.Context, bedID string, in ScheduleInput) (*bed.Bed, error) {
	if !in.Type.Valid() {
		return nil, apperr.Validationf("unknown maintenance type %q", in.Type)
	}

	var out *bed.Bed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.beds.Get(ctx, bedID)
		if err != nil {
			return err
		}
		switch {
		case b.Status == bed.StatusOccupied:
			return apperr.InvalidOperation("schedule_maintenance", "bed", b.ID, "not occupied", string(b.Status))
		case b.Status == bed.StatusMaintenance:
			return apperr.InvalidOperation("schedule_maintenance", "bed", b.ID, "no active schedule", string(b.Maintenance.Status))
		}

		now := s.now()
		due := in.ScheduledDate
		if due.IsZero() {
			due = now
		}
		sched := &bed.MaintenanceSchedule{
			Type:          in.Type,
			Status:        bed.ScheduleScheduled,
			ScheduledDate: due,
			NextDue:       due,
			Notes:         in.Notes,
			ScheduledBy:   auth.ActorFromContext(ctx),
		}
		if prev := b.Maintenance; prev != nil && prev.LastChecked != nil {
			last := *prev.LastChecked
			sched.LastChecked = &last
		}

		out, err = s.beds.Transition(ctx, b.ID, bed.StatusMaintenance, "maintenance.schedule", func(b *bed.Bed) error {
			b.Maintenance = sched
			return nil
		})
		return err
	})
	if err != nil {
		return nil, apperr.WithOp("schedule_maintenance", err)
	}
	return out, nil
}

// Start moves a Scheduled schedule to InProgress.
func (s *Service) Start(ctx context.Context, bedID string) (*bed.Bed, error) {
	out, err := s.beds.Amend(ctx, bedID, "maintenance.start", func(b *bed.Bed) error {
		m := b.Maintenance
		if m == nil || m.Status != bed.ScheduleScheduled {
			return apperr.InvalidOperation("start_maintenance", "bed", b.ID, string(bed.ScheduleScheduled), scheduleState(m))
		}
		started := s.now()
		m.Status = bed.ScheduleInProgress
		m.StartedAt = &started
		return nil
	})
	if err != nil {
		return nil, apperr.WithOp("start_maintenance", err)
	}
	return out, nil
}

// Complete closes an InProgress schedule and returns the bed to Available.
func (s *Service) Complete(ctx context.Context, bedID string, issues []string, notes string) (*bed.Bed, error) {
	var out *bed.Bed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.beds.Get(ctx, bedID)
		if err != nil {
			return err
		}
		if m := b.Maintenance; m == nil || m.Status != bed.ScheduleInProgress {
			return apperr.InvalidOperation("complete_maintenance", "bed", b.ID, string(bed.ScheduleInProgress), scheduleState(m))
		}

		now := s.now()
		out, err = s.beds.Transition(ctx, b.ID, bed.StatusAvailable, "maintenance.complete", func(b *bed.Bed) error {
			b.Maintenance.Complete(now, issues, notes)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, apperr.WithOp("complete_maintenance", err)
	}
	return out, nil
}

func scheduleState(m *bed.MaintenanceSchedule) string {
	if m == nil {
		return "none"
	}
	return string(m.Status)
}

// Overdue is an active schedule whose due date has passed. Status is always
// ScheduleOverdue; StoredStatus is the status actually on the schedule.
type Overdue struct {
	BedID        string              `json:"bed_id"`
	FacilityID   string              `json:"facility_id"`
	Wing         string              `json:"wing,omitempty"`
	Room         string              `json:"room,omitempty"`
	BedStatus    bed.Status          `json:"bed_status"`
	Type         bed.MaintenanceType `json:"type"`
	Status       bed.ScheduleStatus  `json:"status"`
	StoredStatus bed.ScheduleStatus  `json:"stored_status"`
	NextDue      time.Time           `json:"next_due"`
	DaysOverdue  int                 `json:"days_overdue"`

	late time.Duration
}

// activeSchedules lists beds that can hold an active schedule.
func (s *Service) activeSchedules(ctx context.Context) ([]*bed.Bed, error) {
	beds, _, err := s.beds.List(ctx, bed.ListFilter{Statuses: []bed.Status{bed.StatusMaintenance, bed.StatusCleaning}})
	if err != nil {
		return nil, fmt.Errorf("list out-of-service beds: %w", err)
	}
	return beds, nil
}

// FindOverdue returns active schedules past their due date, most overdue
// first. Ties are ordered by bed id.
func (s *Service) FindOverdue(ctx context.Context) ([]Overdue, error) {
	beds, err := s.activeSchedules(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	out := make([]Overdue, 0)
	for _, b := range beds {
		m := b.Maintenance
		if !m.OverdueAt(now) {
			continue
		}
		late := now.Sub(m.NextDue)
		out = append(out, Overdue{
			BedID:        b.ID,
			FacilityID:   b.FacilityID,
			Wing:         b.Wing,
			Room:         b.Room,
			BedStatus:    b.Status,
			Type:         m.Type,
			Status:       bed.ScheduleOverdue,
			StoredStatus: m.Status,
			NextDue:      m.NextDue,
			DaysOverdue:  int(late / (24 * time.Hour)),
			late:         late,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].late != out[j].late {
			return out[i].late > out[j].late
		}
		return out[i].BedID < out[j].BedID
	})
	return out, nil
}

// DueSoon returns active schedules falling due within window from now.
func (s *Service) DueSoon(ctx context.Context, window time.Duration) ([]*bed.Bed, error) {
	beds, err := s.activeSchedules(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	limit := now.Add(window)

	var out []*bed.Bed
	for _, b := range beds {
		due := b.Maintenance.NextDue
		if b.Maintenance.Active() && !due.Before(now) && !due.After(limit) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Maintenance.NextDue.Before(out[j].Maintenance.NextDue)
	})
	return out, nil
}

// SweepReport summarises one NotifyOverdue run.
type SweepReport struct {
	Overdue []Overdue `json:"overdue"`
	DueSoon int       `json:"due_soon"`
}

// NotifyOverdue sends one notice per overdue schedule and one per schedule
// due within DueSoonWindow, and publishes the overdue count.
func (s *Service) NotifyOverdue(ctx context.Context) (*SweepReport, error) {
	overdue, err := s.FindOverdue(ctx)
	if err != nil {
		return nil, err
	}
	soon, err := s.DueSoon(ctx, DueSoonWindow)
	if err != nil {
		return nil, err
	}
	s.metrics.SetOverdue(len(overdue))

	now := s.now()
	for _, o := range overdue {
		p := notification.PriorityMedium
		if o.late > HighPriorityAfter {
			p = notification.PriorityHigh
		}
		s.notify(notification.Notice{
			Kind:      notification.KindMaintenanceOverdue,
			Priority:  p,
			BedID:     o.BedID,
			Message:   fmt.Sprintf("%s maintenance for bed %s is %d days overdue", o.Type, o.BedID, o.DaysOverdue),
			CreatedAt: now,
		})
	}
	for _, b := range soon {
		s.notify(notification.Notice{
			Kind:      notification.KindMaintenanceDue,
			Priority:  notification.PriorityLow,
			BedID:     b.ID,
			Message:   fmt.Sprintf("%s maintenance for bed %s is due %s", b.Maintenance.Type, b.ID, b.Maintenance.NextDue.Format(time.RFC3339)),
			CreatedAt: now,
		})
	}
	return &SweepReport{Overdue: overdue, DueSoon: len(soon)}, nil
}

func (s *Service) notify(n notification.Notice) {
	if s.notifier != nil {
		s.notifier.Notify(n)
	}
}
