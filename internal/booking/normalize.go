package booking

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrorKind classifies a validation failure so the orchestrator can phrase
// a specific clarifying reply.
type ErrorKind string

const (
	IncompleteName ErrorKind = "incomplete_name"
	InvalidContact ErrorKind = "invalid_contact"
	InvalidDate    ErrorKind = "invalid_date"
	InvalidTime    ErrorKind = "invalid_time"
)

// ValidationError reports which field failed and why.
type ValidationError struct {
	Kind  ErrorKind
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("booking: %s: %q", e.Kind, e.Value)
}

var emailRe = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`)

// Normalize converts raw LLM-extracted fields into a canonical Candidate.
// It returns a *ValidationError naming the offending field on failure.
func Normalize(raw RawFields, sourcePhone string) (Candidate, error) {
	name, err := NormalizeName(raw.Name)
	if err != nil {
		return Candidate{}, err
	}
	contact, err := NormalizeContact(raw.Contact)
	if err != nil {
		return Candidate{}, err
	}

	rawSlots := raw.Sessions
	if len(rawSlots) == 0 {
		rawSlots = []RawSlot{{Date: raw.Date, Time: raw.Time}}
	}

	slots := make([]Slot, 0, len(rawSlots))
	for _, rs := range rawSlots {
		date, err := NormalizeDate(rs.Date)
		if err != nil {
			return Candidate{}, err
		}
		hhmm, err := NormalizeTime(rs.Time)
		if err != nil {
			return Candidate{}, err
		}
		slots = append(slots, Slot{Date: date, Time: hhmm})
	}

	return Candidate{
		PatientName: name,
		Contact:     contact,
		Slots:       slots,
		SourcePhone: sourcePhone,
	}, nil
}

// NormalizeName requires at least first and last name (two tokens).
func NormalizeName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if len(strings.Fields(name)) < 2 {
		return "", &ValidationError{Kind: IncompleteName, Value: raw}
	}
	return name, nil
}

// NormalizeContact accepts a phone of 8+ digits (after stripping "+", spaces
// and hyphens) or a conventional email address, returned as given but
// trimmed. Anything else is InvalidContact.
func NormalizeContact(raw string) (string, error) {
	contact := strings.TrimSpace(raw)

	stripped := strings.NewReplacer("+", "", " ", "", "-", "").Replace(contact)
	isPhone := len(stripped) >= 8 && allDigits(stripped)
	isEmail := emailRe.MatchString(contact)

	if !isPhone && !isEmail {
		return "", &ValidationError{Kind: InvalidContact, Value: raw}
	}
	return contact, nil
}

// NormalizeTime accepts "H", "HH", "H:MM", "H.MM" and returns "HH:MM".
// A bare 1-2 digit hour expands to a full hour. Dots become colons.
func NormalizeTime(raw string) (string, error) {
	s := strings.ReplaceAll(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""), ".", ":")
	if !strings.Contains(s, ":") && len(s) >= 1 && len(s) <= 2 {
		s += ":00"
	}
	t, err := time.Parse("15:04", padHour(s))
	if err != nil {
		return "", &ValidationError{Kind: InvalidTime, Value: raw}
	}
	return t.Format("15:04"), nil
}

// NormalizeDate accepts "YYYY-MM-DD", "DD-MM-YYYY" and "DD/MM/YYYY" and
// returns "YYYY-MM-DD". Day-first is assumed for reordering, per the
// clinic's locale; two-digit years are rejected rather than guessed.
func NormalizeDate(raw string) (string, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), "/", "-")
	if parts := strings.Split(s, "-"); len(parts) == 3 && len(parts[0]) == 2 {
		s = parts[2] + "-" + parts[1] + "-" + parts[0]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", &ValidationError{Kind: InvalidDate, Value: raw}
	}
	return t.Format("2006-01-02"), nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func padHour(s string) string {
	if i := strings.Index(s, ":"); i == 1 {
		return "0" + s
	}
	return s
}
