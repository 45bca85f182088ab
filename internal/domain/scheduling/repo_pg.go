package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebook/booking/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Constraint names created by the appointment migration.
const (
	activeSlotConstraint = "appointment_active_slot_idx"
	referenceConstraint  = "appointment_reference_key"
)

// referenceAttempts bounds regeneration after a booking-reference collision.
const referenceAttempts = 3

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool db.Querier }

func NewAppointmentRepoPG(pool db.Querier) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, reference, patient_id, provider_id, booked_by, kind,
	to_char(appointment_date, 'YYYY-MM-DD'), appointment_time, time_zone, duration_minutes,
	modality, reason, symptoms, status, notes, started_at, ended_at, actual_duration_minutes,
	cancellation_reason, cancelled_by, cancelled_at, rescheduled_from, rescheduled_to,
	reschedule_count, fee_cents, currency, payment_status, payment_method, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var kind, modality, status, payStatus string
	err := row.Scan(&a.ID, &a.Reference, &a.PatientID, &a.ProviderID, &a.BookedBy, &kind,
		&a.Date, &a.Time, &a.TimeZone, &a.DurationMinutes,
		&modality, &a.Reason, &a.Symptoms, &status, &a.Notes, &a.StartedAt, &a.EndedAt, &a.ActualDurationMinutes,
		&a.CancellationReason, &a.CancelledBy, &a.CancelledAt, &a.RescheduledFrom, &a.RescheduledTo,
		&a.RescheduleCount, &a.FeeCents, &a.Currency, &payStatus, &a.PaymentMethod, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = Kind(kind)
	a.Modality = Modality(modality)
	a.Status = Status(status)
	a.PaymentStatus = PaymentStatus(payStatus)
	return &a, nil
}

func insertAppt(ctx context.Context, q queryable, a *Appointment) error {
	symptoms := a.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	_, err := q.Exec(ctx, `
		INSERT INTO appointment (id, reference, patient_id, provider_id, booked_by, kind,
			appointment_date, appointment_time, time_zone, duration_minutes, modality, reason, symptoms,
			status, rescheduled_from, reschedule_count, fee_cents, currency, payment_status, payment_method,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::date,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		a.ID, a.Reference, a.PatientID, a.ProviderID, a.BookedBy, string(a.Kind),
		a.Date, a.Time, a.TimeZone, a.DurationMinutes, string(a.Modality), a.Reason, symptoms,
		string(a.Status), a.RescheduledFrom, a.RescheduleCount, a.FeeCents, a.Currency,
		string(a.PaymentStatus), a.PaymentMethod, a.CreatedAt, a.UpdatedAt)
	return err
}

// translateInsert maps a failed insert. retry is true when only the booking
// reference collided.
func translateInsert(err error, a *Appointment) (retry bool, _ error) {
	constraint, ok := db.UniqueViolation(err)
	if !ok {
		return false, err
	}
	if constraint == referenceConstraint {
		return true, err
	}
	return false, fmt.Errorf("%w: provider %s at %s %s", ErrConflict, a.ProviderID, a.Date, a.Time)
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	var err error
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		if attempt > 0 {
			if a.Reference, err = NewReference(a.Date); err != nil {
				return err
			}
		}
		err = insertAppt(ctx, r.conn(ctx), a)
		if err == nil {
			return nil
		}
		var retry bool
		if retry, err = translateInsert(err, a); !retry {
			return err
		}
	}
	return fmt.Errorf("create appointment: reference collisions exhausted: %w", err)
}

func (r *appointmentRepoPG) get(ctx context.Context, where string, arg interface{}) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("appointment", arg)
	}
	return a, err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *appointmentRepoPG) GetByReference(ctx context.Context, reference string) (*Appointment, error) {
	return r.get(ctx, `reference = $1`, reference)
}

const updateStatusSQL = `
	UPDATE appointment SET status=$3, notes=$4, started_at=$5, ended_at=$6, actual_duration_minutes=$7,
		cancellation_reason=$8, cancelled_by=$9, cancelled_at=$10, rescheduled_to=$11, updated_at=$12
	WHERE id = $1 AND status = $2`

func updateStatus(ctx context.Context, q queryable, a *Appointment, expected Status) error {
	tag, err := q.Exec(ctx, updateStatusSQL,
		a.ID, string(expected), string(a.Status), a.Notes, a.StartedAt, a.EndedAt, a.ActualDurationMinutes,
		a.CancellationReason, a.CancelledBy, a.CancelledAt, a.RescheduledTo, a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment %s is no longer %s", ErrConflict, a.ID, expected)
	}
	return nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, a *Appointment, expected Status) error {
	return updateStatus(ctx, r.conn(ctx), a, expected)
}

func (r *appointmentRepoPG) Reschedule(ctx context.Context, original *Appointment, expected Status, successor *Appointment) error {
	var err error
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		if attempt > 0 {
			if successor.Reference, err = NewReference(successor.Date); err != nil {
				return err
			}
		}
		var retry bool
		// The successor row must exist before the original's rescheduled_to
		// can reference it.
		err = db.WithTx(ctx, r.conn(ctx), func(tx pgx.Tx) error {
			if err := insertAppt(ctx, tx, successor); err != nil {
				var terr error
				retry, terr = translateInsert(err, successor)
				return terr
			}
			return updateStatus(ctx, tx, original, expected)
		})
		if err == nil || !retry {
			return err
		}
	}
	return fmt.Errorf("reschedule appointment: reference collisions exhausted: %w", err)
}

func (r *appointmentRepoPG) HasActiveBooking(ctx context.Context, providerID uuid.UUID, date, hhmm string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE provider_id = $1 AND appointment_date = $2::date AND appointment_time = $3
				AND status IN ('scheduled','confirmed','in_progress'))`,
		providerID, date, hhmm).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) ListActiveByProviderDate(ctx context.Context, providerID uuid.UUID, date string) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE provider_id = $1 AND appointment_date = $2::date
			AND status IN ('scheduled','confirmed','in_progress')
		ORDER BY appointment_time`, providerID, date)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status *Status, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE patient_id = $1`
	args := []interface{}{patientID}
	if status != nil {
		where += ` AND status = $2`
		args = append(args, string(*status))
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM appointment%s ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d OFFSET $%d`,
		apptCols, where, len(args)+1, len(args)+2)
	items, err := r.list(ctx, query, append(args, limit, offset)...)
	return items, total, err
}

func (r *appointmentRepoPG) ListByProvider(ctx context.Context, providerID uuid.UUID, date string, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE provider_id = $1 AND appointment_date = $2::date`,
		providerID, date).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE provider_id = $1 AND appointment_date = $2::date
		ORDER BY appointment_time LIMIT $3 OFFSET $4`, providerID, date, limit, offset)
	return items, total, err
}
