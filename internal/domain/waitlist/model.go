package waitlist

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/carehome/bedengine/internal/domain/allocation"
	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/platform/notification"
)

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityUrgent: 4,
	PriorityHigh:   3,
	PriorityMedium: 2,
	PriorityLow:    1,
}

func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// NoticePriority maps a waitlist priority onto the three notice levels.
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

type Status string

const (
	StatusActive    Status = "active"
	StatusPlaced    Status = "placed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPlaced, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Entry is a resident's standing request for a bed.
type Entry struct {
	ID                  uuid.UUID  `json:"id"`
	ResidentID          string     `json:"resident_id"`
	FacilityID          string     `json:"facility_id,omitempty"`
	Priority            Priority   `json:"priority"`
	CareLevel           string     `json:"care_level,omitempty"`
	PreferredBedTypes   []string   `json:"preferred_bed_types,omitempty"`
	SpecialRequirements []string   `json:"special_requirements,omitempty"`
	PreferredFloor      *int       `json:"preferred_floor,omitempty"`
	PreferredWing       string     `json:"preferred_wing,omitempty"`
	WeightKg            float64    `json:"weight_kg,omitempty"`
	Notes               string     `json:"notes,omitempty"`
	RequestedAt         time.Time  `json:"requested_at"`
	RequestedBy         string     `json:"requested_by,omitempty"`
	Status              Status     `json:"status"`
	PlacedBedID         string     `json:"placed_bed_id,omitempty"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
	ClosedReason        string     `json:"closed_reason,omitempty"`
	Version             int64      `json:"version"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Criteria turns the entry's requirements into matcher input.
func (e *Entry) Criteria() allocation.Criteria {
	return allocation.Criteria{
		ResidentID:          e.ResidentID,
		FacilityID:          e.FacilityID,
		CareLevel:           e.CareLevel,
		PreferredBedTypes:   e.PreferredBedTypes,
		SpecialRequirements: e.SpecialRequirements,
		PreferredFloor:      e.PreferredFloor,
		PreferredWing:       e.PreferredWing,
		WeightKg:            e.WeightKg,
	}
}

func (e *Entry) Validate() error {
	if e.ResidentID == "" {
		return apperr.Validation("resident_id is required")
	}
	if !e.Priority.Valid() {
		return apperr.Validationf("unknown priority %q", e.Priority)
	}
	return e.Criteria().Validate()
}

func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.PreferredBedTypes = append([]string(nil), e.PreferredBedTypes...)
	cp.SpecialRequirements = append([]string(nil), e.SpecialRequirements...)
	if e.PreferredFloor != nil {
		f := *e.PreferredFloor
		cp.PreferredFloor = &f
	}
	if e.ClosedAt != nil {
		t := *e.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

// Less is the queue order: priority descending, then earlier requests
// first. The id breaks exact ties so the order is total.
func Less(a, b *Entry) bool {
	if ra, rb := priorityRank[a.Priority], priorityRank[b.Priority]; ra != rb {
		return ra > rb
	}
	if !a.RequestedAt.Equal(b.RequestedAt) {
		return a.RequestedAt.Before(b.RequestedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Sort orders entries in place by Less.
func Sort(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}

type ListFilter struct {
	Status     Status
	ResidentID string
	Limit      int
	Offset     int
}

func (f ListFilter) matches(e *Entry) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.ResidentID != "" && e.ResidentID != f.ResidentID {
		return false
	}
	return true
}
