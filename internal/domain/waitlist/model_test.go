package waitlist

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/platform/notification"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestSort_PriorityThenRequestTime(t *testing.T) {
	urgentT2 := &Entry{ID: uuid.New(), ResidentID: "a", Priority: PriorityUrgent, RequestedAt: t0.Add(2 * time.Hour)}
	highT1 := &Entry{ID: uuid.New(), ResidentID: "b", Priority: PriorityHigh, RequestedAt: t0.Add(time.Hour)}
	urgentT1 := &Entry{ID: uuid.New(), ResidentID: "c", Priority: PriorityUrgent, RequestedAt: t0.Add(time.Hour)}

	entries := []*Entry{urgentT2, highT1, urgentT1}
	Sort(entries)

	want := []*Entry{urgentT1, urgentT2, highT1}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("position %d: got resident %s, want %s", i, entries[i].ResidentID, want[i].ResidentID)
		}
	}
}

func TestSort_AllPriorities(t *testing.T) {
	entries := []*Entry{
		{ID: uuid.New(), Priority: PriorityLow, RequestedAt: t0},
		{ID: uuid.New(), Priority: PriorityMedium, RequestedAt: t0},
		{ID: uuid.New(), Priority: PriorityUrgent, RequestedAt: t0.Add(time.Hour)},
		{ID: uuid.New(), Priority: PriorityHigh, RequestedAt: t0},
	}
	Sort(entries)
	got := []Priority{entries[0].Priority, entries[1].Priority, entries[2].Priority, entries[3].Priority}
	want := []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order = %v, want %v", got, want)
			break
		}
	}
}

func TestLess_TotalOnExactTies(t *testing.T) {
	a := &Entry{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Priority: PriorityHigh, RequestedAt: t0}
	b := &Entry{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Priority: PriorityHigh, RequestedAt: t0}
	if !Less(a, b) || Less(b, a) {
		t.Error("expected id to break exact ties")
	}
}

func TestNoticePriority(t *testing.T) {
	tests := map[Priority]notification.Priority{
		PriorityUrgent: notification.PriorityHigh,
		PriorityHigh:   notification.PriorityHigh,
		PriorityMedium: notification.PriorityMedium,
		PriorityLow:    notification.PriorityLow,
	}
	for p, want := range tests {
		if got := p.NoticePriority(); got != want {
			t.Errorf("%s.NoticePriority() = %s, want %s", p, got, want)
		}
	}
}

func TestEntry_Validate(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		ok    bool
	}{
		{"valid", Entry{ResidentID: "r1", Priority: PriorityLow}, true},
		{"missing resident", Entry{Priority: PriorityLow}, false},
		{"bad priority", Entry{ResidentID: "r1", Priority: "critical"}, false},
		{"negative weight", Entry{ResidentID: "r1", Priority: PriorityLow, WeightKg: -3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}
