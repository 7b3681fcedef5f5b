package bed

import "github.com/carehome/bedengine/internal/domain/apperr"

// Status is the occupancy state of a bed. A bed is always in exactly one.
type Status string

const (
	StatusAvailable       Status = "available"
	StatusOccupied        Status = "occupied"
	StatusReserved        Status = "reserved"
	StatusMaintenance     Status = "maintenance"
	StatusCleaning        Status = "cleaning"
	StatusIsolation       Status = "isolation"
	StatusPendingTransfer Status = "pending_transfer"
	StatusBlocked         Status = "blocked"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusAvailable,
	StatusOccupied,
	StatusReserved,
	StatusMaintenance,
	StatusCleaning,
	StatusIsolation,
	StatusPendingTransfer,
	StatusBlocked,
}

// transitions is the single source of truth for allowed status changes.
var transitions = map[Status][]Status{
	StatusAvailable:       {StatusOccupied, StatusReserved, StatusMaintenance, StatusIsolation},
	StatusOccupied:        {StatusCleaning, StatusIsolation, StatusPendingTransfer},
	StatusReserved:        {StatusAvailable, StatusOccupied},
	StatusMaintenance:     {StatusAvailable, StatusCleaning},
	StatusCleaning:        {StatusAvailable, StatusMaintenance},
	StatusIsolation:       {StatusCleaning},
	StatusPendingTransfer: {StatusOccupied, StatusAvailable},
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus validates a status received from a caller.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", apperr.Validationf("unknown bed status %q", v)
	}
	return s, nil
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Targets returns the statuses reachable from s.
func Targets(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}

// ValidateTransition returns ErrInvalidStatusTransition naming both statuses
// when from -> to is not allowed.
func ValidateTransition(bedID string, from, to Status) error {
	if !to.Valid() {
		return apperr.Validationf("unknown bed status %q", to)
	}
	if !CanTransition(from, to) {
		return apperr.InvalidTransition(bedID, string(from), string(to))
	}
	return nil
}
