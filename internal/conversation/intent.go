package conversation

import (
	"fmt"

	"github.com/equilibriocl/agendabot/internal/booking"
)

// Function names the model may call. They are the only structured
// actions the assistant understands; anything else is plain text.
const (
	fnBookAppointment     = "book_appointment"
	fnBookPackage         = "book_package"
	fnShowAvailability    = "show_availability"
	fnRequestMissingField = "request_missing_fields"
	fnEscalateToHuman     = "escalate_to_human"
)

// Intent is the closed set of turn classifications. The model's output
// is decoded into exactly one of these at the orchestrator boundary and
// never handled as loose text or JSON past this point.
type Intent interface {
	intent()
}

// PlainText is a conversational reply with no structured action.
type PlainText struct {
	Reply string
}

// NeedsFields means the model wants to book but is missing data.
type NeedsFields struct {
	Fields []string
	Reply  string
}

// ReadyToBook carries raw extracted booking fields for one appointment
// or a package of sessions. Fields are raw: normalization and
// validation happen in the orchestrator, never in the model.
type ReadyToBook struct {
	Fields booking.RawFields
}

// ShowAvailability asks for the open slots on a date (or small range).
type ShowAvailability struct {
	Date   string
	DateTo string
}

// Escalate hands the conversation to a human.
type Escalate struct {
	Reason string
}

func (PlainText) intent()        {}
func (NeedsFields) intent()      {}
func (ReadyToBook) intent()      {}
func (ShowAvailability) intent() {}
func (Escalate) intent()         {}

// DecodeIntent converts a model response into an Intent. A response
// with no function call is plain text; an unknown function name or
// malformed arguments is an error so the caller can fall back to the
// "please repeat" path instead of guessing.
func DecodeIntent(resp LLMResponse) (Intent, error) {
	if resp.Call == nil {
		return PlainText{Reply: resp.Text}, nil
	}

	args := resp.Call.Args
	switch resp.Call.Name {
	case fnBookAppointment:
		return ReadyToBook{Fields: booking.RawFields{
			Name:    argString(args, "nombre"),
			Contact: argString(args, "contacto"),
			Date:    argString(args, "fecha"),
			Time:    argString(args, "hora"),
		}}, nil

	case fnBookPackage:
		raw, ok := args["citas"].([]any)
		if !ok || len(raw) == 0 {
			return nil, fmt.Errorf("conversation: %s call without citas list", fnBookPackage)
		}
		sessions := make([]booking.RawSlot, 0, len(raw))
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("conversation: %s cita entry is not an object", fnBookPackage)
			}
			sessions = append(sessions, booking.RawSlot{
				Date: argString(m, "fecha"),
				Time: argString(m, "hora"),
			})
		}
		return ReadyToBook{Fields: booking.RawFields{
			Name:     argString(args, "nombre"),
			Contact:  argString(args, "contacto"),
			Sessions: sessions,
		}}, nil

	case fnShowAvailability:
		date := argString(args, "fecha")
		if date == "" {
			return nil, fmt.Errorf("conversation: %s call without fecha", fnShowAvailability)
		}
		return ShowAvailability{Date: date, DateTo: argString(args, "fecha_hasta")}, nil

	case fnRequestMissingField:
		var fields []string
		if raw, ok := args["campos"].([]any); ok {
			for _, f := range raw {
				if s, ok := f.(string); ok {
					fields = append(fields, s)
				}
			}
		}
		return NeedsFields{Fields: fields, Reply: resp.Text}, nil

	case fnEscalateToHuman:
		return Escalate{Reason: argString(args, "motivo")}, nil
	}

	return nil, fmt.Errorf("conversation: model called unknown function %q", resp.Call.Name)
}

func argString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
