package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkingDay is one weekday's working window. Start and End are "HH:MM"
// in the provider's time zone.
type WorkingDay struct {
	Working bool   `json:"working"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
}

// ProviderAvailability is the read-only profile the slot calculator and the
// booking flow consume. Week is indexed by Weekday.
type ProviderAvailability struct {
	ProviderID           uuid.UUID     `json:"provider_id"`
	Active               bool          `json:"active"`
	SlotDurationMinutes  int           `json:"slot_duration_minutes"`
	Week                 [7]WorkingDay `json:"week"`
	FeeCents             int64         `json:"fee_cents"`
	Currency             string        `json:"currency"`
	DefaultPaymentMethod string        `json:"default_payment_method,omitempty"`
	TimeZone             string        `json:"time_zone"`
}

// Day returns the working window for the weekday of date.
func (p *ProviderAvailability) Day(date time.Time) WorkingDay {
	return p.Week[WeekdayOf(date)]
}

// Location resolves the provider's time zone, falling back to UTC.
func (p *ProviderAvailability) Location() *time.Location {
	return loadLocation(p.TimeZone)
}

// Validate checks the profile is internally consistent.
func (p *ProviderAvailability) Validate() error {
	if p.SlotDurationMinutes <= 0 {
		return fmt.Errorf("provider %s: slot duration must be positive", p.ProviderID)
	}
	for i, d := range p.Week {
		if !d.Working {
			continue
		}
		start, err := minutesOfDay(d.Start)
		if err != nil {
			return fmt.Errorf("provider %s %s start: %w", p.ProviderID, Weekday(i), err)
		}
		end, err := minutesOfDay(d.End)
		if err != nil {
			return fmt.Errorf("provider %s %s end: %w", p.ProviderID, Weekday(i), err)
		}
		if end <= start {
			return fmt.Errorf("provider %s %s: window end must be after start", p.ProviderID, Weekday(i))
		}
	}
	return nil
}

// Slot is one bookable start time.
type Slot struct {
	Time     string    `json:"time"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// ListSlots derives the bookable slots for a provider on date. Candidates are
// laid on the slot-duration grid from the window start; a candidate is dropped
// when it would run past the window end, when it starts at or before now, or
// when an active booking already holds its start time. Output is ascending.
func ListSlots(p *ProviderAvailability, date time.Time, existing []*Appointment, now time.Time) []Slot {
	slots := []Slot{}
	if p == nil || !p.Active || p.SlotDurationMinutes <= 0 {
		return slots
	}
	day := p.Day(date)
	if !day.Working {
		return slots
	}
	startMin, err := minutesOfDay(day.Start)
	if err != nil {
		return slots
	}
	endMin, err := minutesOfDay(day.End)
	if err != nil {
		return slots
	}

	taken := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		if a.IsActive() {
			taken[a.Time] = struct{}{}
		}
	}

	loc := p.Location()
	step := p.SlotDurationMinutes
	for m := startMin; m+step <= endMin; m += step {
		startsAt := combine(date, m/60, m%60, loc)
		if !onWallClock(startsAt, m) {
			continue
		}
		if !startsAt.After(now) {
			continue
		}
		hhmm := startsAt.Format(timeOfDayLayout)
		if _, ok := taken[hhmm]; ok {
			continue
		}
		slots = append(slots, Slot{
			Time:     hhmm,
			StartsAt: startsAt,
			EndsAt:   startsAt.Add(time.Duration(step) * time.Minute),
		})
	}
	return slots
}

// onWallClock reports whether t still reads minute m of its day. Local times
// skipped by a daylight-saving jump are normalised forward and fail this.
func onWallClock(t time.Time, m int) bool {
	return t.Hour()*60+t.Minute() == m
}

// CheckBookable verifies that a requested start time is a real slot for the
// provider: the provider is active and working that day, the time is on the
// slot grid inside the window, and it lies in the future.
func CheckBookable(p *ProviderAvailability, date, hhmm string, now time.Time) error {
	if !p.Active {
		return fmt.Errorf("%w: provider %s is not accepting bookings", ErrProviderUnavailable, p.ProviderID)
	}
	d, err := ParseDate(date)
	if err != nil {
		return err
	}
	day := p.Day(d)
	if !day.Working {
		return fmt.Errorf("%w: provider %s does not work on %s", ErrProviderUnavailable, p.ProviderID, WeekdayOf(d))
	}
	want, err := minutesOfDay(hhmm)
	if err != nil {
		return err
	}
	startMin, err := minutesOfDay(day.Start)
	if err != nil {
		return fmt.Errorf("%w: provider %s has a malformed working window", ErrProviderUnavailable, p.ProviderID)
	}
	endMin, err := minutesOfDay(day.End)
	if err != nil {
		return fmt.Errorf("%w: provider %s has a malformed working window", ErrProviderUnavailable, p.ProviderID)
	}
	step := p.SlotDurationMinutes
	if step <= 0 {
		return fmt.Errorf("%w: provider %s has no slot duration", ErrProviderUnavailable, p.ProviderID)
	}
	if want < startMin || want+step > endMin {
		return validationf("%s is outside the working window %s-%s", hhmm, day.Start, day.End)
	}
	if (want-startMin)%step != 0 {
		return validationf("%s is not on the %d-minute slot grid", hhmm, step)
	}
	startsAt := combine(d, want/60, want%60, p.Location())
	if !onWallClock(startsAt, want) {
		return validationf("%s %s does not exist in %s", date, hhmm, p.Location())
	}
	if !startsAt.After(now) {
		return validationf("%s %s is in the past", date, hhmm)
	}
	return nil
}
