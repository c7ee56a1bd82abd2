package schedule

import (
	"context"
	"fmt"
	"time"
)

// ConflictChecker reports whether the calendar has a busy interval
// overlapping [start, end). Implementations must return an error on
// transient calendar failures rather than guessing.
type ConflictChecker interface {
	HasConflict(ctx context.Context, start, end time.Time) (bool, error)
}

// Resolver enumerates bookable start times for a day, filtering slots that
// have already passed and slots the calendar reports as busy.
type Resolver struct {
	calendar ConflictChecker
	loc      *time.Location
	now      func() time.Time
}

// NewResolver builds a Resolver operating in the clinic's timezone.
func NewResolver(calendar ConflictChecker, loc *time.Location) *Resolver {
	if calendar == nil {
		panic("schedule: conflict checker required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		calendar: calendar,
		loc:      loc,
		now:      time.Now,
	}
}

// WithNow overrides the clock. Test hook.
func (r *Resolver) WithNow(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// AvailableSlots returns the free "HH:MM" start times for the given date,
// in ascending order. Closed or fully booked days yield an empty list.
// A conflict-check failure marks that slot busy: never offer a slot the
// calendar could not vouch for.
func (r *Resolver) AvailableSlots(ctx context.Context, date time.Time) []string {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, r.loc)
	hours, open := weekHours[day.Weekday()]
	if !open {
		return nil
	}

	now := r.now().In(r.loc)

	var available []string
	for hour := hours.Open; hour < hours.Close; hour++ {
		start := day.Add(time.Duration(hour) * time.Hour)
		if !start.After(now) {
			continue
		}
		busy, err := r.calendar.HasConflict(ctx, start, start.Add(SlotDuration))
		if err != nil || busy {
			continue
		}
		available = append(available, fmt.Sprintf("%02d:00", hour))
	}
	return available
}

// AvailableSlotsInRange maps "YYYY-MM-DD" to that day's free slots for every
// day in [from, to], skipping days with none.
func (r *Resolver) AvailableSlotsInRange(ctx context.Context, from, to time.Time) map[string][]string {
	available := make(map[string][]string)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		slots := r.AvailableSlots(ctx, day)
		if len(slots) > 0 {
			available[day.In(r.loc).Format("2006-01-02")] = slots
		}
	}
	return available
}
