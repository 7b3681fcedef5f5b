package bed

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bed is a physical sleeping resource. The sub-records are tied to the
// status: see CheckInvariants.
type Bed struct {
	ID          string   `json:"id"`
	FacilityID  string   `json:"facility_id"`
	Wing        string   `json:"wing"`
	Floor       int      `json:"floor"`
	Room        string   `json:"room"`
	Label       string   `json:"label,omitempty"`
	BedType     string   `json:"bed_type"`
	Features    []string `json:"features"`
	CareLevels  []string `json:"care_levels,omitempty"`
	MaxWeightKg float64  `json:"max_weight_kg,omitempty"`
	Equipment   []string `json:"equipment,omitempty"`

	Status           Status               `json:"status"`
	Assignment       *Assignment          `json:"current_assignment,omitempty"`
	Reservation      *Reservation         `json:"reservation,omitempty"`
	Maintenance      *MaintenanceSchedule `json:"maintenance_schedule,omitempty"`
	Isolation        *Isolation           `json:"isolation,omitempty"`
	ActiveTransferID *uuid.UUID           `json:"active_transfer_request,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Assignment records the resident currently in the bed.
type Assignment struct {
	ResidentID        string     `json:"resident_id"`
	AdmittedAt        time.Time  `json:"admitted_at"`
	AdmittedBy        string     `json:"admitted_by,omitempty"`
	CareLevel         string     `json:"care_level,omitempty"`
	ExpectedDischarge *time.Time `json:"expected_discharge,omitempty"`
	Notes             string     `json:"notes,omitempty"`
}

// Admission is the caller-supplied part of an assignment.
type Admission struct {
	CareLevel         string     `json:"care_level,omitempty"`
	ExpectedDischarge *time.Time `json:"expected_discharge,omitempty"`
	Notes             string     `json:"notes,omitempty"`
}

type Reservation struct {
	ResidentID      string     `json:"resident_id"`
	ExpectedArrival time.Time  `json:"expected_arrival"`
	ReservedBy      string     `json:"reserved_by,omitempty"`
	ReservedAt      time.Time  `json:"reserved_at"`
	TransferID      *uuid.UUID `json:"transfer_id,omitempty"`
}

type Isolation struct {
	Reason             string    `json:"reason"`
	StartedAt          time.Time `json:"started_at"`
	PreviousResidentID string    `json:"previous_resident_id,omitempty"`
}

// HasFeature reports whether the bed offers feature tag f.
func (b *Bed) HasFeature(f string) bool {
	for _, have := range b.Features {
		if have == f {
			return true
		}
	}
	return false
}

// SupportsCareLevel reports whether the bed can host level. A bed that
// declares no care levels accepts any.
func (b *Bed) SupportsCareLevel(level string) bool {
	if level == "" || len(b.CareLevels) == 0 {
		return true
	}
	for _, l := range b.CareLevels {
		if l == level {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (b *Bed) Clone() *Bed {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Features = cloneStrings(b.Features)
	cp.CareLevels = cloneStrings(b.CareLevels)
	cp.Equipment = cloneStrings(b.Equipment)
	if b.Assignment != nil {
		a := *b.Assignment
		a.ExpectedDischarge = cloneTime(b.Assignment.ExpectedDischarge)
		cp.Assignment = &a
	}
	if b.Reservation != nil {
		r := *b.Reservation
		if b.Reservation.TransferID != nil {
			id := *b.Reservation.TransferID
			r.TransferID = &id
		}
		cp.Reservation = &r
	}
	if b.Isolation != nil {
		iso := *b.Isolation
		cp.Isolation = &iso
	}
	if b.ActiveTransferID != nil {
		id := *b.ActiveTransferID
		cp.ActiveTransferID = &id
	}
	cp.Maintenance = b.Maintenance.clone()
	return &cp
}

// CheckInvariants verifies that each sub-record is present exactly in the
// statuses that own it.
func (b *Bed) CheckInvariants() error {
	if !b.Status.Valid() {
		return fmt.Errorf("bed %s: unknown status %q", b.ID, b.Status)
	}

	holdsResident := b.Status == StatusOccupied || b.Status == StatusPendingTransfer
	if holdsResident != (b.Assignment != nil) {
		return fmt.Errorf("bed %s: status %s requires assignment=%t", b.ID, b.Status, holdsResident)
	}
	if (b.Status == StatusReserved) != (b.Reservation != nil) {
		return fmt.Errorf("bed %s: status %s requires reservation=%t", b.ID, b.Status, b.Status == StatusReserved)
	}
	if (b.Status == StatusPendingTransfer) != (b.ActiveTransferID != nil) {
		return fmt.Errorf("bed %s: status %s requires active transfer=%t", b.ID, b.Status, b.Status == StatusPendingTransfer)
	}
	if (b.Status == StatusIsolation) != (b.Isolation != nil) {
		return fmt.Errorf("bed %s: status %s requires isolation record=%t", b.ID, b.Status, b.Status == StatusIsolation)
	}

	outOfService := b.Status == StatusMaintenance || b.Status == StatusCleaning
	if outOfService && !b.Maintenance.Active() {
		return fmt.Errorf("bed %s: status %s requires an active maintenance schedule", b.ID, b.Status)
	}
	if !outOfService && b.Maintenance.Active() {
		return fmt.Errorf("bed %s: status %s cannot hold an active maintenance schedule", b.ID, b.Status)
	}
	return nil
}

// ListFilter narrows List. Zero values match everything; Limit 0 means no
// limit.
type ListFilter struct {
	Statuses   []Status
	FacilityID string
	Wing       string
	Floor      *int
	Limit      int
	Offset     int
}

func (f ListFilter) matches(b *Bed) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if b.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.FacilityID != "" && b.FacilityID != f.FacilityID {
		return false
	}
	if f.Wing != "" && b.Wing != f.Wing {
		return false
	}
	if f.Floor != nil && b.Floor != *f.Floor {
		return false
	}
	return true
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
