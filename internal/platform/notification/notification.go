// Package notification hands appointment events to downstream consumers
// (reminders, billing, analytics) without making the caller wait for them.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Event types emitted by the booking service.
const (
	EventAppointmentCreated       = "appointment.created"
	EventAppointmentCancelled     = "appointment.cancelled"
	EventAppointmentRescheduled   = "appointment.rescheduled"
	EventAppointmentStatusChanged = "appointment.status_changed"
	EventBillingFeeRecorded       = "billing.fee_recorded"
)

// Event is one fact about an appointment, serialised as JSON on the wire.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Tenant     string                 `json:"tenant,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

// NewEvent stamps an event with a fresh ID.
func NewEvent(eventType, tenant string, at time.Time, data map[string]interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Tenant:     tenant,
		OccurredAt: at,
		Data:       data,
	}
}

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// Publisher delivers one event synchronously.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher accepts events fire-and-forget. Dispatch never blocks on
// delivery and never reports delivery failures to the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// DropObserver is told when an event is discarded.
type DropObserver interface {
	ObserveEventDropped(reason string)
}

// ---------------------------------------------------------------------------
// Async Dispatcher
// ---------------------------------------------------------------------------

// ErrDispatcherClosed is returned by Close when called twice.
var ErrDispatcherClosed = errors.New("dispatcher already closed")

// AsyncDispatcher queues events in a bounded buffer drained by one worker.
// When the buffer is full the event is dropped and logged.
type AsyncDispatcher struct {
	pub            Publisher
	logger         zerolog.Logger
	drops          DropObserver
	publishTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewAsyncDispatcher starts the worker. drops may be nil.
func NewAsyncDispatcher(pub Publisher, buffer int, logger zerolog.Logger, drops DropObserver) *AsyncDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &AsyncDispatcher{
		pub:            pub,
		logger:         logger,
		drops:          drops,
		publishTimeout: 10 * time.Second,
		queue:          make(chan Event, buffer),
		done:           make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *AsyncDispatcher) Dispatch(_ context.Context, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ev, "closed")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.drop(ev, "buffer_full")
	}
}

func (d *AsyncDispatcher) drop(ev Event, reason string) {
	d.logger.Warn().Str("event_id", ev.ID).Str("event_type", ev.Type).Str("reason", reason).Msg("event dropped")
	if d.drops != nil {
		d.drops.ObserveEventDropped(reason)
	}
}

func (d *AsyncDispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.publishTimeout)
		err := d.pub.Publish(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Error().Err(err).Str("event_id", ev.ID).Str("event_type", ev.Type).Msg("event publish failed")
			if d.drops != nil {
				d.drops.ObserveEventDropped("publish_failed")
			}
			continue
		}
		d.logger.Debug().Str("event_id", ev.ID).Str("event_type", ev.Type).Msg("event published")
	}
}

// Close stops accepting events and waits for the buffer to drain or ctx to end.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Publishers
// ---------------------------------------------------------------------------

// LogPublisher writes events to the log. It is used when no queue is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Info().
		Str("event_id", ev.ID).
		Str("event_type", ev.Type).
		Str("tenant", ev.Tenant).
		Interface("data", ev.Data).
		Msg("appointment event")
	return nil
}

// MockPublisher records published events and can be told to fail.
type MockPublisher struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (m *MockPublisher) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (m *MockPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// SyncDispatcher publishes inline and logs failures. Tests use it to observe
// events deterministically.
type SyncDispatcher struct {
	Pub    Publisher
	Logger zerolog.Logger
}

func (d SyncDispatcher) Dispatch(ctx context.Context, ev Event) {
	if err := d.Pub.Publish(ctx, ev); err != nil {
		d.Logger.Error().Err(err).Str("event_type", ev.Type).Msg("event publish failed")
	}
}
