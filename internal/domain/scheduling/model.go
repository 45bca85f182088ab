package scheduling

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

// ActiveStatuses are the states that hold a provider slot.
var ActiveStatuses = []Status{StatusScheduled, StatusConfirmed, StatusInProgress}

// IsActive reports whether an appointment in this state occupies its slot.
func (s Status) IsActive() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if st.IsActive() || st.IsTerminal() {
		return st, nil
	}
	return "", validationf("unknown status %q", s)
}

// Modality is the channel an appointment is held over.
type Modality string

const (
	ModalityVideo    Modality = "video"
	ModalityAudio    Modality = "audio"
	ModalityChat     Modality = "chat"
	ModalityInPerson Modality = "in_person"
)

func (m Modality) Valid() bool {
	switch m {
	case ModalityVideo, ModalityAudio, ModalityChat, ModalityInPerson:
		return true
	}
	return false
}

// Kind selects which cancellation and reschedule windows apply.
type Kind string

const (
	KindConsultation Kind = "consultation"
	KindVaccination  Kind = "vaccination"
)

func (k Kind) Valid() bool {
	return k == KindConsultation || k == KindVaccination
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentWaived   PaymentStatus = "waived"
)

const (
	DefaultDurationMinutes = 30
	MinDurationMinutes     = 15
	MaxDurationMinutes     = 120
)

// Appointment maps to the appointment table.
type Appointment struct {
	ID                    uuid.UUID     `db:"id" json:"id"`
	Reference             string        `db:"reference" json:"reference"`
	PatientID             uuid.UUID     `db:"patient_id" json:"patient_id"`
	ProviderID            uuid.UUID     `db:"provider_id" json:"provider_id"`
	BookedBy              *uuid.UUID    `db:"booked_by" json:"booked_by,omitempty"`
	Kind                  Kind          `db:"kind" json:"kind"`
	Date                  string        `db:"appointment_date" json:"date"`
	Time                  string        `db:"appointment_time" json:"time"`
	TimeZone              string        `db:"time_zone" json:"time_zone"`
	DurationMinutes       int           `db:"duration_minutes" json:"duration_minutes"`
	Modality              Modality      `db:"modality" json:"modality"`
	Reason                string        `db:"reason" json:"reason"`
	Symptoms              []string      `db:"symptoms" json:"symptoms,omitempty"`
	Status                Status        `db:"status" json:"status"`
	Notes                 *string       `db:"notes" json:"notes,omitempty"`
	StartedAt             *time.Time    `db:"started_at" json:"started_at,omitempty"`
	EndedAt               *time.Time    `db:"ended_at" json:"ended_at,omitempty"`
	ActualDurationMinutes *int          `db:"actual_duration_minutes" json:"actual_duration_minutes,omitempty"`
	CancellationReason    *string       `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy           *uuid.UUID    `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt           *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
	RescheduledFrom       *uuid.UUID    `db:"rescheduled_from" json:"rescheduled_from,omitempty"`
	RescheduledTo         *uuid.UUID    `db:"rescheduled_to" json:"rescheduled_to,omitempty"`
	RescheduleCount       int           `db:"reschedule_count" json:"reschedule_count"`
	FeeCents              int64         `db:"fee_cents" json:"fee_cents"`
	Currency              string        `db:"currency" json:"currency"`
	PaymentStatus         PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentMethod         string        `db:"payment_method" json:"payment_method,omitempty"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the appointment currently holds its slot.
func (a *Appointment) IsActive() bool { return a.Status.IsActive() }

// AppointmentDateTime is the instant the appointment starts, read in the
// appointment's own time zone. It is derived and never stored.
func AppointmentDateTime(a *Appointment) (time.Time, error) {
	d, err := ParseDate(a.Date)
	if err != nil {
		return time.Time{}, err
	}
	h, m, err := ParseTimeOfDay(a.Time)
	if err != nil {
		return time.Time{}, err
	}
	return combine(d, h, m, loadLocation(a.TimeZone)), nil
}

// BookingRequest carries the caller-supplied fields of a new appointment.
type BookingRequest struct {
	PatientID       uuid.UUID  `json:"patient_id"`
	ProviderID      uuid.UUID  `json:"provider_id"`
	BookedBy        *uuid.UUID `json:"booked_by,omitempty"`
	Kind            Kind       `json:"kind,omitempty"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Modality        Modality   `json:"modality"`
	Reason          string     `json:"reason"`
	Symptoms        []string   `json:"symptoms,omitempty"`
	PaymentMethod   string     `json:"payment_method,omitempty"`
}

// Normalize fills defaults and checks field-level rules.
func (r *BookingRequest) Normalize() error {
	if r.PatientID == uuid.Nil {
		return validationf("patient_id is required")
	}
	if r.ProviderID == uuid.Nil {
		return validationf("provider_id is required")
	}
	if r.Kind == "" {
		r.Kind = KindConsultation
	}
	if !r.Kind.Valid() {
		return validationf("unknown kind %q", r.Kind)
	}
	if r.DurationMinutes == 0 {
		r.DurationMinutes = DefaultDurationMinutes
	}
	if r.DurationMinutes < MinDurationMinutes || r.DurationMinutes > MaxDurationMinutes {
		return validationf("duration must be between %d and %d minutes", MinDurationMinutes, MaxDurationMinutes)
	}
	if !r.Modality.Valid() {
		return validationf("unknown modality %q", r.Modality)
	}
	if strings.TrimSpace(r.Reason) == "" {
		return validationf("reason is required")
	}
	if _, err := ParseDate(r.Date); err != nil {
		return err
	}
	if _, _, err := ParseTimeOfDay(r.Time); err != nil {
		return err
	}
	return nil
}

// NewAppointment builds a scheduled appointment from a normalized request and
// the provider's profile. It is the only constructor used by the booking flow.
func NewAppointment(req BookingRequest, provider *ProviderAvailability, now time.Time) (*Appointment, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	ref, err := NewReference(req.Date)
	if err != nil {
		return nil, err
	}
	method := req.PaymentMethod
	if method == "" {
		method = provider.DefaultPaymentMethod
	}
	symptoms := append([]string(nil), req.Symptoms...)
	var bookedBy *uuid.UUID
	if req.BookedBy != nil {
		id := *req.BookedBy
		bookedBy = &id
	}
	return &Appointment{
		ID:              uuid.New(),
		Reference:       ref,
		PatientID:       req.PatientID,
		ProviderID:      req.ProviderID,
		BookedBy:        bookedBy,
		Kind:            req.Kind,
		Date:            req.Date,
		Time:            req.Time,
		TimeZone:        provider.TimeZone,
		DurationMinutes: req.DurationMinutes,
		Modality:        req.Modality,
		Reason:          strings.TrimSpace(req.Reason),
		Symptoms:        symptoms,
		Status:          StatusScheduled,
		FeeCents:        provider.FeeCents,
		Currency:        provider.Currency,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   method,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

var refEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewReference returns a booking reference of the form APT-YYYYMMDD-XXXXXX.
func NewReference(date string) (string, error) {
	var buf [5]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate reference: %w", err)
	}
	return fmt.Sprintf("APT-%s-%s", strings.ReplaceAll(date, "-", ""), refEncoding.EncodeToString(buf[:])[:6]), nil
}
