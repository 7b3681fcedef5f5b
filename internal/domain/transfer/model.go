package transfer

import (
	"time"

	"github.com/google/uuid"

	"github.com/carehome/bedengine/internal/platform/notification"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Open reports whether the request still holds its source bed.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusApproved
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func (p Priority) NoticePriority() notification.Priority {
	switch p {
	case PriorityUrgent, PriorityHigh:
		return notification.PriorityHigh
	case PriorityMedium:
		return notification.PriorityMedium
	default:
		return notification.PriorityLow
	}
}

// Request is a proposed move of one resident between two beds. It stays
// attached to its source bed for its whole life.
type Request struct {
	ID            uuid.UUID  `json:"id"`
	SourceBedID   string     `json:"source_bed_id"`
	TargetBedID   string     `json:"target_bed_id,omitempty"`
	ResidentID    string     `json:"resident_id"`
	Reason        string     `json:"reason"`
	Priority      Priority   `json:"priority"`
	Status        Status     `json:"status"`
	RequestedBy   string     `json:"requested_by"`
	RequestedAt   time.Time  `json:"requested_at"`
	ApprovedBy    string     `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ClosedBy      string     `json:"closed_by,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	ClosedReason  string     `json:"closed_reason,omitempty"`
	Version       int64      `json:"version"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ApprovedAt = cloneTime(r.ApprovedAt)
	cp.ScheduledDate = cloneTime(r.ScheduledDate)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	cp.ClosedAt = cloneTime(r.ClosedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type ListFilter struct {
	Status      Status
	SourceBedID string
	ResidentID  string
	Limit       int
	Offset      int
}

func (f ListFilter) matches(r *Request) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.SourceBedID != "" && r.SourceBedID != f.SourceBedID {
		return false
	}
	if f.ResidentID != "" && r.ResidentID != f.ResidentID {
		return false
	}
	return true
}
