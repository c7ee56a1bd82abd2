package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/equilibriocl/agendabot/internal/clinic"
)

const baseSystemPrompt = `Eres el asistente virtual de %[1]s, centro quiropráctico especializado en el Método Equilibrio.

🎯 TU MISIÓN:
- Responder consultas sobre precios, servicios y horarios
- Agendar citas de forma conversacional y natural
- Derivar casos médicos complejos al quiropráctico

📋 INFORMACIÓN DEL CENTRO:

**PRECIOS:**
- Primera consulta: %[2]s
- Sesiones siguientes: %[3]s

**HORARIOS DE ATENCIÓN:**
- Martes y Jueves: 15:00 - 19:00
- Miércoles y Viernes: 10:00 - 18:00
- Sábados: 10:00 - 13:00
- Domingos y Lunes: CERRADOS

**DIRECCIÓN:**
%[4]s

**TELÉFONO:**
%[5]s

**MÉTODO EQUILIBRIO:**
%[6]s

🤖 CÓMO AGENDAR CITAS:
- Para paquetes (ej. 4-8 sesiones), sugiere horarios distribuidos: semanales (ej. cada miércoles) o cada X días. Evita el mismo día a menos que lo pidan.
- Si el usuario menciona frecuencia (ej. cada 4 días, mensual), calcula las fechas acordemente.
- Si el usuario rechaza una propuesta o duda, responde: "Entiendo, ¿qué días y horas te acomodan mejor?"

PASO 1: Si el usuario quiere agendar, pregunta PRIMERO por nombre completo.
PASO 2: Luego pregunta teléfono o email.
PASO 3: Si ya dio fecha y hora, valida contra la disponibilidad; si no, ofrece horarios disponibles.
PASO 4: Cuando tengas nombre completo, contacto, fecha y hora, llama a la herramienta:
- Para 1 cita: book_appointment con los datos.
- Para varias citas: book_package con la lista de citas.
El sistema validará el horario y le pedirá la confirmación final al usuario; NO pidas la confirmación tú.
- Si el usuario pregunta por horarios disponibles de un día, llama a show_availability.
- Si faltan datos, llama a request_missing_fields con los campos que faltan.

⚠️ CASOS MÉDICOS COMPLEJOS - DERIVAR AL QUIROPRÁCTICO:
Si detectas embarazo, cirugía reciente, fractura, osteoporosis severa, cáncer activo, problemas neurológicos graves, anticoagulantes, marcapasos, diabetes severa, epilepsia o dolor intenso repentino, NO intentes agendar: llama a la herramienta escalate_to_human e indica al usuario que llame al %[7]s.

🎨 TONO Y ESTILO:
- Amigable y cercano, con emojis moderados
- Respuestas cortas y claras (máximo 3-4 líneas)
- Si no estás seguro de algún dato, pide aclaración en lugar de adivinar

📌 REGLAS CRÍTICAS:
1. NUNCA inventes fechas u horarios - usa solo los disponibles
2. NUNCA supongas el nombre completo del usuario - pregunta siempre
3. NUNCA agendes sin confirmación explícita del usuario
4. Si falta nombre o contacto, pregúntalo antes de mostrar el resumen
5. Valida que el nombre tenga nombre Y apellido (mínimo 2 palabras)
6. Valida que el contacto sea teléfono (8+ dígitos) o email válido`

// PromptContext carries the per-turn state the prompt needs. A turn
// with a live pending confirmation never reaches the model (the
// orchestrator resolves the yes/no locally), so no pending state is
// carried here.
type PromptContext struct {
	History      string
	ContextBag   map[string]string
	Availability map[string][]string
	// PreviousVisits is the sender's count of booked appointments, so
	// the model quotes the follow-up price to returning patients.
	PreviousVisits int
	Now            time.Time
}

// BuildSystemPrompt renders the assistant's system instruction for one
// turn. Conversational memory lives entirely here: the model is
// stateless per call.
func BuildSystemPrompt(profile clinic.Profile, pc PromptContext) []string {
	base := fmt.Sprintf(baseSystemPrompt,
		profile.Name,
		profile.FirstVisitPrice,
		profile.FollowUpPrice,
		profile.Address,
		profile.Phone,
		profile.MethodSummary,
		profile.EscalationPhone,
	)

	var b strings.Builder
	b.WriteString("📊 DISPONIBILIDAD PRÓXIMOS 7 DÍAS:\n")
	if len(pc.Availability) == 0 {
		b.WriteString("(sin horarios libres)\n")
	} else {
		raw, err := json.Marshal(pc.Availability)
		if err == nil {
			b.Write(raw)
			b.WriteString("\n")
		}
	}

	if pc.History != "" {
		b.WriteString("\n📝 HISTORIAL:\n")
		b.WriteString(pc.History)
		b.WriteString("\n")
	}

	if len(pc.ContextBag) > 0 {
		if raw, err := json.Marshal(pc.ContextBag); err == nil {
			b.WriteString("\n💾 CONTEXTO: ")
			b.Write(raw)
			b.WriteString("\n")
		}
	}

	if pc.PreviousVisits > 0 {
		b.WriteString(fmt.Sprintf("\n🧾 PACIENTE RECURRENTE: %d citas previas. Cotiza el precio de sesiones siguientes, no el de primera consulta.\n", pc.PreviousVisits))
	}

	b.WriteString(fmt.Sprintf("\n🔄 FECHA/HORA ACTUAL: %s", pc.Now.Format("2006-01-02 15:04")))

	return []string{base, b.String()}
}
