package bed

import (
	"time"

	"github.com/carehome/bedengine/internal/domain/apperr"
)

type MaintenanceType string

const (
	MaintenanceRoutine      MaintenanceType = "routine"
	MaintenancePreventive   MaintenanceType = "preventive"
	MaintenanceRepair       MaintenanceType = "repair"
	MaintenanceDeepCleaning MaintenanceType = "deep_cleaning"
	MaintenanceInspection   MaintenanceType = "inspection"
	MaintenanceEmergency    MaintenanceType = "emergency"
)

// intervals is the recurrence period for each maintenance type.
var intervals = map[MaintenanceType]time.Duration{
	MaintenanceRoutine:      30 * 24 * time.Hour,
	MaintenancePreventive:   90 * 24 * time.Hour,
	MaintenanceRepair:       180 * 24 * time.Hour,
	MaintenanceDeepCleaning: 60 * 24 * time.Hour,
	MaintenanceInspection:   365 * 24 * time.Hour,
	MaintenanceEmergency:    30 * 24 * time.Hour,
}

func (t MaintenanceType) Valid() bool {
	_, ok := intervals[t]
	return ok
}

// Interval is the time until the next check after one of this type.
func (t MaintenanceType) Interval() time.Duration {
	return intervals[t]
}

func ParseMaintenanceType(v string) (MaintenanceType, error) {
	t := MaintenanceType(v)
	if !t.Valid() {
		return "", apperr.Validationf("unknown maintenance type %q", v)
	}
	return t, nil
}

type ScheduleStatus string

const (
	ScheduleScheduled  ScheduleStatus = "scheduled"
	ScheduleInProgress ScheduleStatus = "in_progress"
	ScheduleCompleted  ScheduleStatus = "completed"
	// ScheduleOverdue is never stored; it is reported by overdue queries.
	ScheduleOverdue ScheduleStatus = "overdue"
)

// MaintenanceSchedule is a planned or in-progress out-of-service period, or
// the record of the last completed one.
type MaintenanceSchedule struct {
	Type          MaintenanceType `json:"type"`
	Status        ScheduleStatus  `json:"status"`
	ScheduledDate time.Time       `json:"scheduled_date"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	LastChecked   *time.Time      `json:"last_checked,omitempty"`
	NextDue       time.Time       `json:"next_due"`
	IssuesFound   []string        `json:"issues_found,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	ScheduledBy   string          `json:"scheduled_by,omitempty"`
}

// Active reports whether the schedule still holds the bed out of service.
func (m *MaintenanceSchedule) Active() bool {
	return m != nil && (m.Status == ScheduleScheduled || m.Status == ScheduleInProgress)
}

// OverdueAt reports whether an active schedule's due date passed before now.
func (m *MaintenanceSchedule) OverdueAt(now time.Time) bool {
	return m.Active() && m.NextDue.Before(now)
}

// Complete closes the schedule at now and sets the next due date from the
// type's interval.
func (m *MaintenanceSchedule) Complete(now time.Time, issues []string, notes string) {
	checked := now
	m.Status = ScheduleCompleted
	m.LastChecked = &checked
	m.NextDue = now.Add(m.Type.Interval())
	if len(issues) > 0 {
		m.IssuesFound = append([]string(nil), issues...)
	}
	if notes != "" {
		m.Notes = notes
	}
}

func (m *MaintenanceSchedule) clone() *MaintenanceSchedule {
	if m == nil {
		return nil
	}
	cp := *m
	cp.StartedAt = cloneTime(m.StartedAt)
	cp.LastChecked = cloneTime(m.LastChecked)
	cp.IssuesFound = cloneStrings(m.IssuesFound)
	return &cp
}
