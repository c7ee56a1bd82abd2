package conversation

import (
	"fmt"
	"strings"

	"github.com/equilibriocl/agendabot/internal/clinic"
)

// escalationKeywords are critical conditions that must reach a human
// immediately, before any model call. Matching is case- and
// accent-insensitive on the raw combined message.
var escalationKeywords = []string{
	"embarazo",
	"embarazada",
	"cirugia reciente",
	"cirugía reciente",
	"operacion reciente",
	"operación reciente",
	"fractura",
	"osteoporosis severa",
	"cancer activo",
	"cáncer activo",
	"problemas neurologicos",
	"problemas neurológicos",
	"anticoagulante",
	"marcapasos",
	"diabetes severa",
	"epilepsia",
	"dolor intenso repentino",
}

// MatchEscalationKeyword reports the first critical-condition keyword
// found in the message, or "" when none matches.
func MatchEscalationKeyword(message string) string {
	lower := strings.ToLower(message)
	for _, kw := range escalationKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

// EscalationReply is the fixed handoff message sent when a conversation
// leaves automated handling.
func EscalationReply(profile clinic.Profile) string {
	return fmt.Sprintf(
		"Por tu seguridad, prefiero que este caso lo revise directamente nuestro equipo. "+
			"Por favor comunícate con nosotros al %s y te atenderemos a la brevedad. 🙏",
		profile.EscalationPhone,
	)
}
