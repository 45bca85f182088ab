// Package metrics holds the Prometheus collectors for the booking service.
// All methods are safe to call on a nil receiver.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters and histograms for booking flows.
type BookingMetrics struct {
	operations    *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	slotLatency   prometheus.Histogram
	eventsDropped *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking operations by name and outcome",
		}, []string{"operation", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "status_transitions_total",
			Help:      "Applied appointment status transitions",
		}, []string{"from", "to"}),
		slotLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "slot_listing_seconds",
			Help:      "Latency of available-slot computation including ledger reads",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Appointment events that could not be published",
		}, []string{"reason"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operations, m.transitions, m.slotLatency, m.eventsDropped)
	return m
}

// ObserveOperation records one booking operation. outcome is "ok" or the
// error kind returned to the caller.
func (m *BookingMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveSlotListing(seconds float64) {
	if m == nil {
		return
	}
	m.slotLatency.Observe(seconds)
}

func (m *BookingMetrics) ObserveEventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}
