package scheduling

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The functions below are the only place an appointment's Status changes.
// Each one validates the source state, applies the change to a in place and
// stamps UpdatedAt. Nothing here touches storage.

func transitionErr(a *Appointment, to Status) error {
	return &InvalidTransitionError{From: a.Status, To: to}
}

// Confirm moves a scheduled appointment to confirmed.
func Confirm(a *Appointment, now time.Time) error {
	if a.Status != StatusScheduled {
		return transitionErr(a, StatusConfirmed)
	}
	a.Status = StatusConfirmed
	a.UpdatedAt = now
	return nil
}

// Start begins the consultation.
func Start(a *Appointment, now time.Time) error {
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return transitionErr(a, StatusInProgress)
	}
	started := now
	a.Status = StatusInProgress
	a.StartedAt = &started
	a.UpdatedAt = now
	return nil
}

// Complete closes a non-terminal appointment. When StartedAt is known the
// actual duration comes from the timestamps and override is ignored.
func Complete(a *Appointment, now time.Time, notes *string, override *int) error {
	if a.Status.IsTerminal() {
		return transitionErr(a, StatusCompleted)
	}
	if override != nil && *override < 0 {
		return validationf("actual duration must not be negative")
	}
	ended := now
	if a.StartedAt != nil && a.StartedAt.After(ended) {
		ended = *a.StartedAt
	}
	switch {
	case a.StartedAt != nil:
		mins := int(math.Round(ended.Sub(*a.StartedAt).Minutes()))
		a.ActualDurationMinutes = &mins
	case override != nil:
		mins := *override
		a.ActualDurationMinutes = &mins
	}
	if notes != nil {
		n := strings.TrimSpace(*notes)
		a.Notes = &n
	}
	a.Status = StatusCompleted
	a.EndedAt = &ended
	a.UpdatedAt = now
	return nil
}

// MarkNoShow records that the patient did not attend.
func MarkNoShow(a *Appointment, now time.Time) error {
	if a.Status.IsTerminal() {
		return transitionErr(a, StatusNoShow)
	}
	a.Status = StatusNoShow
	a.UpdatedAt = now
	return nil
}

// Cancel applies the cancellation policy to a scheduled or confirmed
// appointment and records who cancelled and why.
func Cancel(a *Appointment, policy WindowPolicy, reason string, actor uuid.UUID, now time.Time) error {
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return transitionErr(a, StatusCancelled)
	}
	if !policy.Permits(a, now) {
		return fmt.Errorf("%w: appointment %s can no longer be cancelled", ErrPolicyViolation, a.Reference)
	}
	a.Status = StatusCancelled
	if r := strings.TrimSpace(reason); r != "" {
		a.CancellationReason = &r
	}
	by := actor
	at := now
	a.CancelledBy = &by
	a.CancelledAt = &at
	a.UpdatedAt = now
	return nil
}

// Reschedule forks a scheduled appointment into a new one at newDate/newTime.
// On success a is marked rescheduled with a forward link and the successor
// carries the back link. Slot availability is the caller's concern.
func Reschedule(a *Appointment, policy WindowPolicy, newDate, newTime string, now time.Time) (*Appointment, error) {
	if a.Status != StatusScheduled {
		return nil, transitionErr(a, StatusRescheduled)
	}
	if !policy.Permits(a, now) {
		return nil, fmt.Errorf("%w: appointment %s can no longer be rescheduled", ErrPolicyViolation, a.Reference)
	}
	if _, err := ParseDate(newDate); err != nil {
		return nil, err
	}
	if _, _, err := ParseTimeOfDay(newTime); err != nil {
		return nil, err
	}
	if newDate == a.Date && newTime == a.Time {
		return nil, validationf("appointment %s is already at %s %s", a.Reference, newDate, newTime)
	}
	ref, err := NewReference(newDate)
	if err != nil {
		return nil, err
	}

	next := &Appointment{
		ID:              uuid.New(),
		Reference:       ref,
		PatientID:       a.PatientID,
		ProviderID:      a.ProviderID,
		BookedBy:        a.BookedBy,
		Kind:            a.Kind,
		Date:            newDate,
		Time:            newTime,
		TimeZone:        a.TimeZone,
		DurationMinutes: a.DurationMinutes,
		Modality:        a.Modality,
		Reason:          a.Reason,
		Symptoms:        append([]string(nil), a.Symptoms...),
		Status:          StatusScheduled,
		RescheduleCount: a.RescheduleCount + 1,
		FeeCents:        a.FeeCents,
		Currency:        a.Currency,
		PaymentStatus:   a.PaymentStatus,
		PaymentMethod:   a.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	from := a.ID
	next.RescheduledFrom = &from

	to := next.ID
	a.Status = StatusRescheduled
	a.RescheduledTo = &to
	a.UpdatedAt = now
	return next, nil
}

// ApplyStatus routes a generic status update to the matching transition.
// Cancellation and rescheduling have their own operations and are rejected.
func ApplyStatus(a *Appointment, target Status, now time.Time, notes *string, override *int) error {
	switch target {
	case StatusConfirmed:
		return Confirm(a, now)
	case StatusInProgress:
		return Start(a, now)
	case StatusCompleted:
		return Complete(a, now, notes, override)
	case StatusNoShow:
		return MarkNoShow(a, now)
	default:
		return transitionErr(a, target)
	}
}
