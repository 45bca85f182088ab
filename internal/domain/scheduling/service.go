package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carebook/booking/internal/platform/clock"
	"github.com/carebook/booking/internal/platform/metrics"
	"github.com/carebook/booking/internal/platform/notification"
)

var tracer = otel.Tracer("carebook.internal.scheduling")

// Service orchestrates the booking operations over the ledger and the
// provider directory.
type Service struct {
	appointments AppointmentRepository
	providers    ProviderDirectory
	clock        clock.Clock
	policies     Policies
	events       notification.Dispatcher
	billing      BillingRecorder
	metrics      *metrics.BookingMetrics
	logger       zerolog.Logger
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithPolicies(p Policies) Option { return func(s *Service) { s.policies = p } }

func WithDispatcher(d notification.Dispatcher) Option { return func(s *Service) { s.events = d } }

func WithBilling(b BillingRecorder) Option { return func(s *Service) { s.billing = b } }

func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(appts AppointmentRepository, providers ProviderDirectory, opts ...Option) *Service {
	s := &Service{
		appointments: appts,
		providers:    providers,
		clock:        clock.System(),
		policies:     DefaultPolicies(),
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = notification.SyncDispatcher{Pub: notification.NewLogPublisher(s.logger), Logger: s.logger}
	}
	if s.billing == nil {
		s.billing = NewEventBilling(s.events)
	}
	return s
}

// outcome names the error kind for metrics and logs.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	default:
		return "error"
	}
}

func (s *Service) finish(span trace.Span, op string, err error) {
	s.metrics.ObserveOperation(op, outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
	}
	span.End()
}

// provider loads a profile for a write path, where an unknown provider is
// reported as unavailable.
func (s *Service) provider(ctx context.Context, id uuid.UUID) (*ProviderAvailability, error) {
	p, err := s.providers.GetAvailability(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return p, err
}

// -- Availability --

func (s *Service) GetProviderAvailability(ctx context.Context, providerID uuid.UUID) (*ProviderAvailability, error) {
	return s.providers.GetAvailability(ctx, providerID)
}

func (s *Service) GetAvailableSlots(ctx context.Context, providerID uuid.UUID, date string) (slots []Slot, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.get_available_slots")
	span.SetAttributes(attribute.String("provider_id", providerID.String()), attribute.String("date", date))
	defer func() { s.finish(span, "list_slots", err) }()

	started := time.Now()
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	p, err := s.providers.GetAvailability(ctx, providerID)
	if err != nil {
		return nil, err
	}
	existing, err := s.appointments.ListActiveByProviderDate(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	slots = ListSlots(p, day, existing, s.clock.Now())
	s.metrics.ObserveSlotListing(time.Since(started).Seconds())
	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, nil
}

// -- Booking --

func (s *Service) CreateBooking(ctx context.Context, req BookingRequest) (a *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.create_booking")
	span.SetAttributes(
		attribute.String("provider_id", req.ProviderID.String()),
		attribute.String("date", req.Date),
		attribute.String("time", req.Time),
	)
	defer func() { s.finish(span, "create", err) }()

	now := s.clock.Now()
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	p, err := s.provider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if err := CheckBookable(p, req.Date, req.Time, now); err != nil {
		s.logger.Info().Err(err).Str("provider_id", req.ProviderID.String()).
			Str("date", req.Date).Str("time", req.Time).Msg("booking rejected")
		return nil, err
	}
	// Advisory only; the ledger's insert is the real guard.
	taken, err := s.appointments.HasActiveBooking(ctx, req.ProviderID, req.Date, req.Time)
	if err != nil {
		return nil, fmt.Errorf("check slot: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("%w: provider %s at %s %s", ErrConflict, req.ProviderID, req.Date, req.Time)
	}

	a, err = NewAppointment(req, p, now)
	if err != nil {
		return nil, err
	}
	if err := s.appointments.Create(ctx, a); err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger.Info().Str("provider_id", req.ProviderID.String()).
				Str("date", req.Date).Str("time", req.Time).Msg("booking lost slot race")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("appointment_id", a.ID.String()))

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("reference", a.Reference).
		Str("provider_id", a.ProviderID.String()).
		Str("date", a.Date).Str("time", a.Time).
		Msg("appointment booked")
	s.events.Dispatch(ctx, appointmentEvent(ctx, notification.EventAppointmentCreated, a, now, nil))
	s.billing.RecordFee(ctx, a)
	return a, nil
}

func (s *Service) CancelBooking(ctx context.Context, id, actorID uuid.UUID, reason string) (a *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.cancel_booking")
	span.SetAttributes(attribute.String("appointment_id", id.String()))
	defer func() { s.finish(span, "cancel", err) }()

	now := s.clock.Now()
	a, err = s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := a.Status
	if err := Cancel(a, s.policies.For(a.Kind).Cancel, reason, actorID, now); err != nil {
		return nil, err
	}
	if err := s.appointments.UpdateStatus(ctx, a, prev); err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(prev), string(a.Status))
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("reference", a.Reference).
		Str("cancelled_by", actorID.String()).Msg("appointment cancelled")
	s.events.Dispatch(ctx, appointmentEvent(ctx, notification.EventAppointmentCancelled, a, now, map[string]interface{}{
		"cancelled_by": actorID.String(),
		"reason":       reason,
	}))
	return a, nil
}

// RescheduleBooking moves a booking by forking it. The original is returned
// in its rescheduled state together with the new scheduled successor.
func (s *Service) RescheduleBooking(ctx context.Context, id uuid.UUID, newDate, newTime string) (original, successor *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.reschedule_booking")
	span.SetAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("date", newDate),
		attribute.String("time", newTime),
	)
	defer func() { s.finish(span, "reschedule", err) }()

	now := s.clock.Now()
	original, err = s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	prev := original.Status
	successor, err = Reschedule(original, s.policies.For(original.Kind).Reschedule, newDate, newTime, now)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.provider(ctx, original.ProviderID)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckBookable(p, newDate, newTime, now); err != nil {
		return nil, nil, err
	}
	taken, err := s.appointments.HasActiveBooking(ctx, original.ProviderID, newDate, newTime)
	if err != nil {
		return nil, nil, fmt.Errorf("check slot: %w", err)
	}
	if taken {
		return nil, nil, fmt.Errorf("%w: provider %s at %s %s", ErrConflict, original.ProviderID, newDate, newTime)
	}
	if err := s.appointments.Reschedule(ctx, original, prev, successor); err != nil {
		return nil, nil, err
	}
	span.SetAttributes(attribute.String("successor_id", successor.ID.String()))

	s.metrics.ObserveTransition(string(prev), string(original.Status))
	s.logger.Info().
		Str("appointment_id", original.ID.String()).
		Str("successor_id", successor.ID.String()).
		Str("reference", successor.Reference).
		Str("date", newDate).Str("time", newTime).
		Msg("appointment rescheduled")
	s.events.Dispatch(ctx, appointmentEvent(ctx, notification.EventAppointmentRescheduled, successor, now, map[string]interface{}{
		"rescheduled_from":    original.ID.String(),
		"previous_reference":  original.Reference,
		"previous_date":       original.Date,
		"previous_time":       original.Time,
		"reschedule_sequence": successor.RescheduleCount,
	}))
	return original, successor, nil
}

// UpdateStatus applies a confirm, start, complete or no-show transition.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, target Status, notes *string, actualDuration *int) (a *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.update_status")
	span.SetAttributes(attribute.String("appointment_id", id.String()), attribute.String("target", string(target)))
	defer func() { s.finish(span, "update_status", err) }()

	now := s.clock.Now()
	a, err = s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := a.Status
	if err := ApplyStatus(a, target, now, notes, actualDuration); err != nil {
		return nil, err
	}
	if err := s.appointments.UpdateStatus(ctx, a, prev); err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(prev), string(a.Status))
	s.logger.Info().Str("appointment_id", a.ID.String()).
		Str("from", string(prev)).Str("to", string(a.Status)).Msg("appointment status changed")
	s.events.Dispatch(ctx, appointmentEvent(ctx, notification.EventAppointmentStatusChanged, a, now, map[string]interface{}{
		"previous_status": string(prev),
	}))
	return a, nil
}

// -- Reads --

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) GetBookingByReference(ctx context.Context, reference string) (*Appointment, error) {
	return s.appointments.GetByReference(ctx, reference)
}

func (s *Service) ListPatientBookings(ctx context.Context, patientID uuid.UUID, status *Status, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByPatient(ctx, patientID, status, limit, offset)
}

func (s *Service) ListProviderBookings(ctx context.Context, providerID uuid.UUID, date string, limit, offset int) ([]*Appointment, int, error) {
	if _, err := ParseDate(date); err != nil {
		return nil, 0, err
	}
	return s.appointments.ListByProvider(ctx, providerID, date, limit, offset)
}
