package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/booking/internal/platform/clock"
	"github.com/carebook/booking/internal/platform/notification"
)

// 2025-01-06 is a Monday.
const (
	testMonday   = "2025-01-06"
	testTuesday  = "2025-01-07"
	testSaturday = "2025-01-11"
)

func at(date, hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", date+" "+hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func weekdayProvider() *ProviderAvailability {
	p := &ProviderAvailability{
		ProviderID:           uuid.New(),
		Active:               true,
		SlotDurationMinutes:  30,
		FeeCents:             50000,
		Currency:             "INR",
		DefaultPaymentMethod: "upi",
		TimeZone:             "UTC",
	}
	for d := Monday; d <= Friday; d++ {
		p.Week[d] = WorkingDay{Working: true, Start: "09:00", End: "17:00"}
	}
	return p
}

func ptrStr(s string) *string { return &s }
func ptrInt(i int) *int       { return &i }

// bookedAt returns a stored-looking appointment for the provider's slot.
func bookedAt(p *ProviderAvailability, date, hhmm string, status Status) *Appointment {
	return &Appointment{
		ID:              uuid.New(),
		Reference:       "APT-" + uuid.NewString()[:8],
		PatientID:       uuid.New(),
		ProviderID:      p.ProviderID,
		Kind:            KindConsultation,
		Date:            date,
		Time:            hhmm,
		TimeZone:        p.TimeZone,
		DurationMinutes: 30,
		Modality:        ModalityVideo,
		Reason:          "follow-up",
		Status:          status,
	}
}

type testEnv struct {
	svc       *Service
	ledger    *MemoryLedger
	directory *StaticDirectory
	clock     *clock.Fixed
	events    *notification.MockPublisher
	provider  *ProviderAvailability
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ledger:   NewMemoryLedger(),
		clock:    clock.NewFixed(at(testMonday, "08:00")),
		events:   &notification.MockPublisher{},
		provider: weekdayProvider(),
	}
	env.directory = NewStaticDirectory(env.provider)
	env.svc = NewService(env.ledger, env.directory,
		WithClock(env.clock),
		WithDispatcher(notification.SyncDispatcher{Pub: env.events}),
	)
	return env
}

func (env *testEnv) request(date, hhmm string) BookingRequest {
	return BookingRequest{
		PatientID:  uuid.New(),
		ProviderID: env.provider.ProviderID,
		Date:       date,
		Time:       hhmm,
		Modality:   ModalityVideo,
		Reason:     "persistent cough",
		Symptoms:   []string{"cough", "fever"},
	}
}

func (env *testEnv) book(t *testing.T, date, hhmm string) *Appointment {
	t.Helper()
	a, err := env.svc.CreateBooking(context.Background(), env.request(date, hhmm))
	if err != nil {
		t.Fatalf("CreateBooking(%s %s): %v", date, hhmm, err)
	}
	return a
}
