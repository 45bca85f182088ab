package scheduling

import (
	"context"
	"time"

	"github.com/carebook/booking/internal/platform/db"
	"github.com/carebook/booking/internal/platform/notification"
)

// BillingRecorder receives the fee and payment method of a new booking.
// Implementations must not block the caller.
type BillingRecorder interface {
	RecordFee(ctx context.Context, a *Appointment)
}

// EventBilling hands fees to billing as billing.fee_recorded events.
type EventBilling struct {
	dispatcher notification.Dispatcher
}

func NewEventBilling(d notification.Dispatcher) *EventBilling {
	return &EventBilling{dispatcher: d}
}

func (b *EventBilling) RecordFee(ctx context.Context, a *Appointment) {
	b.dispatcher.Dispatch(ctx, notification.NewEvent(notification.EventBillingFeeRecorded, db.TenantFromContext(ctx), a.CreatedAt,
		map[string]interface{}{
			"appointment_id": a.ID.String(),
			"reference":      a.Reference,
			"patient_id":     a.PatientID.String(),
			"provider_id":    a.ProviderID.String(),
			"fee_cents":      a.FeeCents,
			"currency":       a.Currency,
			"payment_status": string(a.PaymentStatus),
			"payment_method": a.PaymentMethod,
		}))
}

func appointmentEvent(ctx context.Context, eventType string, a *Appointment, at time.Time, extra map[string]interface{}) notification.Event {
	data := map[string]interface{}{
		"appointment_id": a.ID.String(),
		"reference":      a.Reference,
		"patient_id":     a.PatientID.String(),
		"provider_id":    a.ProviderID.String(),
		"kind":           string(a.Kind),
		"date":           a.Date,
		"time":           a.Time,
		"time_zone":      a.TimeZone,
		"modality":       string(a.Modality),
		"status":         string(a.Status),
	}
	if a.BookedBy != nil {
		data["booked_by"] = a.BookedBy.String()
	}
	for k, v := range extra {
		data[k] = v
	}
	return notification.NewEvent(eventType, db.TenantFromContext(ctx), at, data)
}
