// Package schedule implements the clinic's business-hours policy and slot
// availability resolution. Appointments occupy exactly one hour; the last
// bookable slot of a day starts one hour before nominal close and is allowed
// to run past it.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// SlotDuration is the fixed length of every appointment.
const SlotDuration = time.Hour

// Hours is a weekday's bookable window. Close is exclusive: a slot is valid
// when its starting hour lies in [Open, Close).
type Hours struct {
	Open  int
	Close int
}

// weekHours is the fixed clinic schedule. Absent weekdays are closed.
var weekHours = map[time.Weekday]Hours{
	time.Tuesday:   {Open: 15, Close: 19},
	time.Wednesday: {Open: 10, Close: 18},
	time.Thursday:  {Open: 15, Close: 19},
	time.Friday:    {Open: 10, Close: 18},
	time.Saturday:  {Open: 10, Close: 13},
}

// HoursFor returns the bookable window for a weekday. ok is false on days
// the clinic is closed.
func HoursFor(day time.Weekday) (h Hours, ok bool) {
	h, ok = weekHours[day]
	return h, ok
}

// IsOpenAt reports whether the clinic accepts a slot starting at t,
// ignoring whether t is in the past.
func IsOpenAt(t time.Time) bool {
	h, ok := weekHours[t.Weekday()]
	if !ok {
		return false
	}
	return t.Hour() >= h.Open && t.Hour() < h.Close
}

// ErrInPast indicates the requested start time is not strictly in the future.
var ErrInPast = errors.New("schedule: requested time already passed")

// ClosedDayError indicates the clinic is closed the whole requested day.
type ClosedDayError struct {
	Day time.Weekday
}

func (e *ClosedDayError) Error() string {
	return fmt.Sprintf("schedule: closed on %s", e.Day)
}

// OutsideHoursError indicates the day is open but the hour is not bookable.
type OutsideHoursError struct {
	Day   time.Weekday
	Hours Hours
}

func (e *OutsideHoursError) Error() string {
	return fmt.Sprintf("schedule: %s hours are %02d:00-%02d:00", e.Day, e.Hours.Open, e.Hours.Close)
}

// Validate checks a candidate start time against the business-hours policy.
// now must be in the clinic's timezone.
func Validate(t, now time.Time) error {
	if !t.After(now) {
		return ErrInPast
	}
	h, ok := weekHours[t.Weekday()]
	if !ok {
		return &ClosedDayError{Day: t.Weekday()}
	}
	if t.Hour() < h.Open || t.Hour() >= h.Close {
		return &OutsideHoursError{Day: t.Weekday(), Hours: h}
	}
	return nil
}
