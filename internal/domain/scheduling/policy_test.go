package scheduling

import (
	"testing"
	"time"
)

func TestWindowPolicy_Boundary(t *testing.T) {
	p := weekdayProvider()
	a := bookedAt(p, testMonday, "12:00", StatusScheduled)
	start := at(testMonday, "12:00")

	tests := []struct {
		name   string
		policy WindowPolicy
		now    time.Time
		want   bool
	}{
		{"cancel well before", StandardPolicies().Cancel, start.Add(-3 * time.Hour), true},
		{"cancel one second before boundary", StandardPolicies().Cancel, start.Add(-2*time.Hour - time.Second), true},
		{"cancel exactly at boundary", StandardPolicies().Cancel, start.Add(-2 * time.Hour), false},
		{"cancel inside window", StandardPolicies().Cancel, start.Add(-1 * time.Hour), false},
		{"cancel after start", StandardPolicies().Cancel, start.Add(time.Minute), false},
		{"reschedule before boundary", StandardPolicies().Reschedule, start.Add(-4*time.Hour - time.Second), true},
		{"reschedule exactly at boundary", StandardPolicies().Reschedule, start.Add(-4 * time.Hour), false},
		{"reschedule inside window", StandardPolicies().Reschedule, start.Add(-3 * time.Hour), false},
		{"vaccine reschedule at 24h", VaccinationPolicies().Reschedule, start.Add(-24 * time.Hour), false},
		{"vaccine reschedule beyond 24h", VaccinationPolicies().Reschedule, start.Add(-25 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Permits(a, tt.now); got != tt.want {
				t.Errorf("Permits = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWindowPolicy_RequiresScheduled(t *testing.T) {
	p := weekdayProvider()
	now := at(testMonday, "06:00")
	for _, s := range []Status{StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled} {
		a := bookedAt(p, testMonday, "12:00", s)
		if StandardPolicies().Cancel.Permits(a, now) {
			t.Errorf("cancel should not be permitted from %s", s)
		}
	}
}

func TestWindowPolicy_MaxUses(t *testing.T) {
	p := weekdayProvider()
	a := bookedAt(p, testTuesday, "12:00", StatusScheduled)
	now := at(testMonday, "06:00")
	policy := VaccinationPolicies().Reschedule

	a.RescheduleCount = 1
	if !policy.Permits(a, now) {
		t.Error("second reschedule should be permitted")
	}
	a.RescheduleCount = 2
	if policy.Permits(a, now) {
		t.Error("third reschedule should be refused")
	}
	if !StandardPolicies().Reschedule.Permits(a, now) {
		t.Error("consultations have no reschedule cap")
	}
}

func TestPolicies_For(t *testing.T) {
	ps := DefaultPolicies()
	if ps.For(KindVaccination).Reschedule.Window != 24*time.Hour {
		t.Error("vaccination should use the 24h reschedule window")
	}
	if ps.For("unknown").Cancel.Window != 2*time.Hour {
		t.Error("unknown kinds should fall back to consultation rules")
	}
}
