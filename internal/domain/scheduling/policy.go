package scheduling

import (
	"time"
)

// WindowPolicy permits an operation on a scheduled appointment while its start
// is more than Window away. MaxUses, when non-zero, caps how many times the
// operation may already have been applied along the reschedule chain.
type WindowPolicy struct {
	Window  time.Duration
	MaxUses int
}

// Permits is false exactly at the window boundary.
func (p WindowPolicy) Permits(a *Appointment, now time.Time) bool {
	if a.Status != StatusScheduled {
		return false
	}
	if p.MaxUses > 0 && a.RescheduleCount >= p.MaxUses {
		return false
	}
	at, err := AppointmentDateTime(a)
	if err != nil {
		return false
	}
	return at.Sub(now) > p.Window
}

// PolicySet is the pair of rules applied to one kind of booking.
type PolicySet struct {
	Cancel     WindowPolicy
	Reschedule WindowPolicy
}

// Policies maps each booking kind to its rules.
type Policies map[Kind]PolicySet

// For returns the rules for kind, falling back to consultation rules.
func (p Policies) For(kind Kind) PolicySet {
	if set, ok := p[kind]; ok {
		return set
	}
	return p[KindConsultation]
}

func StandardPolicies() PolicySet {
	return PolicySet{
		Cancel:     WindowPolicy{Window: 2 * time.Hour},
		Reschedule: WindowPolicy{Window: 4 * time.Hour},
	}
}

func VaccinationPolicies() PolicySet {
	return PolicySet{
		Cancel:     WindowPolicy{Window: 2 * time.Hour},
		Reschedule: WindowPolicy{Window: 24 * time.Hour, MaxUses: 2},
	}
}

// DefaultPolicies returns the built-in rules for every kind.
func DefaultPolicies() Policies {
	return Policies{
		KindConsultation: StandardPolicies(),
		KindVaccination:  VaccinationPolicies(),
	}
}
