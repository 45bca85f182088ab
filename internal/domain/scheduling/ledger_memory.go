package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type slotKey struct {
	provider uuid.UUID
	date     string
	time     string
}

// MemoryLedger is an AppointmentRepository held in process memory. The active
// slot rule is enforced under one lock, so it gives the same guarantee as the
// partial unique index within a single process.
type MemoryLedger struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*Appointment
	byRef  map[string]uuid.UUID
	active map[slotKey]uuid.UUID
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byID:   make(map[uuid.UUID]*Appointment),
		byRef:  make(map[string]uuid.UUID),
		active: make(map[slotKey]uuid.UUID),
	}
}

func keyOf(a *Appointment) slotKey {
	return slotKey{provider: a.ProviderID, date: a.Date, time: a.Time}
}

func clone(a *Appointment) *Appointment {
	c := *a
	c.Symptoms = append([]string(nil), a.Symptoms...)
	return &c
}

// insertLocked must be called with mu held.
func (m *MemoryLedger) insertLocked(a *Appointment) error {
	if _, taken := m.active[keyOf(a)]; taken && a.IsActive() {
		return fmt.Errorf("%w: provider %s at %s %s", ErrConflict, a.ProviderID, a.Date, a.Time)
	}
	for attempt := 0; ; attempt++ {
		if _, dup := m.byRef[a.Reference]; !dup {
			break
		}
		if attempt >= referenceAttempts {
			return fmt.Errorf("create appointment: reference collisions exhausted")
		}
		ref, err := NewReference(a.Date)
		if err != nil {
			return err
		}
		a.Reference = ref
	}
	m.byID[a.ID] = clone(a)
	m.byRef[a.Reference] = a.ID
	if a.IsActive() {
		m.active[keyOf(a)] = a.ID
	}
	return nil
}

// updateLocked must be called with mu held.
func (m *MemoryLedger) updateLocked(a *Appointment, expected Status) error {
	cur, ok := m.byID[a.ID]
	if !ok {
		return notFound("appointment", a.ID)
	}
	if cur.Status != expected {
		return fmt.Errorf("%w: appointment %s is no longer %s", ErrConflict, a.ID, expected)
	}
	if cur.IsActive() && !a.IsActive() {
		delete(m.active, keyOf(cur))
	}
	m.byID[a.ID] = clone(a)
	return nil
}

func (m *MemoryLedger) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(a)
}

func (m *MemoryLedger) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, notFound("appointment", id)
	}
	return clone(a), nil
}

func (m *MemoryLedger) GetByReference(_ context.Context, reference string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[reference]
	if !ok {
		return nil, notFound("appointment", reference)
	}
	return clone(m.byID[id]), nil
}

func (m *MemoryLedger) UpdateStatus(_ context.Context, a *Appointment, expected Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(a, expected)
}

func (m *MemoryLedger) Reschedule(_ context.Context, original *Appointment, expected Status, successor *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.byID[original.ID]
	if !ok {
		return notFound("appointment", original.ID)
	}
	prev = clone(prev)
	if err := m.updateLocked(original, expected); err != nil {
		return err
	}
	if err := m.insertLocked(successor); err != nil {
		// Roll back the original so the pair stays all-or-nothing.
		m.byID[prev.ID] = prev
		if prev.IsActive() {
			m.active[keyOf(prev)] = prev.ID
		}
		return err
	}
	return nil
}

func (m *MemoryLedger) HasActiveBooking(_ context.Context, providerID uuid.UUID, date, hhmm string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[slotKey{provider: providerID, date: date, time: hhmm}]
	return ok, nil
}

func (m *MemoryLedger) ListActiveByProviderDate(_ context.Context, providerID uuid.UUID, date string) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*Appointment
	for _, a := range m.byID {
		if a.ProviderID == providerID && a.Date == date && a.IsActive() {
			items = append(items, clone(a))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Time < items[j].Time })
	return items, nil
}

func (m *MemoryLedger) ListByPatient(_ context.Context, patientID uuid.UUID, status *Status, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*Appointment
	for _, a := range m.byID {
		if a.PatientID != patientID || (status != nil && a.Status != *status) {
			continue
		}
		items = append(items, clone(a))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date > items[j].Date
		}
		return items[i].Time > items[j].Time
	})
	total := len(items)
	return page(items, limit, offset), total, nil
}

func (m *MemoryLedger) ListByProvider(_ context.Context, providerID uuid.UUID, date string, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*Appointment
	for _, a := range m.byID {
		if a.ProviderID == providerID && a.Date == date {
			items = append(items, clone(a))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Time != items[j].Time {
			return items[i].Time < items[j].Time
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	total := len(items)
	return page(items, limit, offset), total, nil
}

func page(items []*Appointment, limit, offset int) []*Appointment {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
