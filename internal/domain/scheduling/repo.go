package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// AppointmentRepository is the booking ledger: the single source of truth for
// whether a provider slot is taken.
type AppointmentRepository interface {
	// Create inserts a scheduled appointment. It returns ErrConflict when an
	// active appointment already holds the same provider, date and time.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByReference(ctx context.Context, reference string) (*Appointment, error)
	// UpdateStatus persists a's lifecycle fields only if the stored status
	// still equals expected. A lost race yields ErrConflict.
	UpdateStatus(ctx context.Context, a *Appointment, expected Status) error
	// Reschedule persists the original's transition and inserts its successor
	// atomically.
	Reschedule(ctx context.Context, original *Appointment, expected Status, successor *Appointment) error
	HasActiveBooking(ctx context.Context, providerID uuid.UUID, date, hhmm string) (bool, error)
	ListActiveByProviderDate(ctx context.Context, providerID uuid.UUID, date string) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, status *Status, limit, offset int) ([]*Appointment, int, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, date string, limit, offset int) ([]*Appointment, int, error)
}

// ProviderDirectory supplies provider availability profiles.
type ProviderDirectory interface {
	GetAvailability(ctx context.Context, providerID uuid.UUID) (*ProviderAvailability, error)
}
