// Package booking defines booking candidates and the normalization rules
// that turn free-form patient input into canonical booking parameters.
package booking

import (
	"fmt"
	"time"
)

// Slot is a canonicalized appointment start: Date "YYYY-MM-DD", Time "HH:MM".
type Slot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// StartIn resolves the slot to a concrete instant in the given location.
func (s Slot) StartIn(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", s.Date+" "+s.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("booking: invalid slot %s %s: %w", s.Date, s.Time, err)
	}
	return t, nil
}

// Candidate is a validated booking awaiting confirmation or commit.
// Slots holds one entry for a single appointment and several for a package.
type Candidate struct {
	PatientName string `json:"name"`
	Contact     string `json:"contact"`
	Slots       []Slot `json:"slots"`
	SourcePhone string `json:"phone"`
}

// Single reports whether the candidate books exactly one session.
func (c Candidate) Single() bool {
	return len(c.Slots) == 1
}

// RawSlot carries unnormalized date/time text, typically LLM output.
type RawSlot struct {
	Date string
	Time string
}

// RawFields carries unnormalized candidate fields for a single booking or,
// via Sessions, a package of several.
type RawFields struct {
	Name     string
	Contact  string
	Date     string
	Time     string
	Sessions []RawSlot
}
