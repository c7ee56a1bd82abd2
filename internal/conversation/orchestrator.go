package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/equilibriocl/agendabot/internal/booking"
	"github.com/equilibriocl/agendabot/internal/clinic"
	"github.com/equilibriocl/agendabot/internal/observability/metrics"
	"github.com/equilibriocl/agendabot/internal/schedule"
	"github.com/equilibriocl/agendabot/internal/store"
	"github.com/equilibriocl/agendabot/pkg/logging"
)

const (
	// DefaultReplyMaxLength is WhatsApp-safe; longer replies are truncated.
	DefaultReplyMaxLength = 1500

	// DefaultHistoryLimit is how many stored messages feed the prompt.
	DefaultHistoryLimit = 15

	availabilityWindowDays = 7
)

// Intent labels stored with each outgoing message. Turns that resolve a
// model-chosen action reuse the function name; turns resolved locally
// get their own label.
const (
	labelPlainText    = "plain_text"
	labelConfirmYes   = "confirmation_accepted"
	labelConfirmNo    = "confirmation_declined"
	labelConfirmAgain = "confirmation_repeat"
	labelError        = "error"
)

// Confirmation vocabulary, matched on whole words. A message that
// matches neither set is ambiguous and re-prompts without touching the
// stored candidate.
var (
	affirmativeWords = map[string]bool{
		"si": true, "sí": true, "confirmo": true, "dale": true,
		"ok": true, "okay": true, "correcto": true,
	}
	negativeWords = map[string]bool{
		"no": true, "cancelar": true, "cambiar": true,
	}

	// preferenceRe marks turns where the user is pushing back on a
	// proposed schedule, so the prompt knows to ask what suits them.
	preferenceRe = regexp.MustCompile(`\b(no|no quiero|diferentes|cada \d+ d[ií]as|semanal|mensual)\b`)
)

// containsWord reports whether any whole word of the message is in vocab.
func containsWord(message string, vocab map[string]bool) bool {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		if vocab[w] {
			return true
		}
	}
	return false
}

// Calendar is the external calendar collaborator.
type Calendar interface {
	HasConflict(ctx context.Context, start, end time.Time) (bool, error)
	CreateEvent(ctx context.Context, title, description string, start, end time.Time) (string, error)
}

// Pendings stores the booking candidate awaiting the sender's yes/no.
type Pendings interface {
	Save(ctx context.Context, phone string, cand booking.Candidate) error
	Get(ctx context.Context, phone string) (*booking.Candidate, error)
	Clear(ctx context.Context, phone string) error
}

// MessageLog persists conversation history and the per-sender context bag.
type MessageLog interface {
	AppendMessage(ctx context.Context, phone, direction, content, intent string) error
	RecentMessages(ctx context.Context, phone string, limit int) ([]store.MessageRecord, error)
	GetContext(ctx context.Context, phone string) (map[string]string, error)
	SetContext(ctx context.Context, phone, state string, bag map[string]string) error
}

// Appointments records committed bookings and answers how many the
// sender already has, for the returning-patient price hint.
type Appointments interface {
	Create(ctx context.Context, phone, patientName, contact string, startsAt time.Time, eventID string) (uuid.UUID, error)
	CountForPhone(ctx context.Context, phone string) (int, error)
}

// Messenger delivers the reply over the chat channel.
type Messenger interface {
	Deliver(ctx context.Context, to, body string) error
}

// Notifier alerts staff about escalated conversations. Optional.
type Notifier interface {
	Escalated(ctx context.Context, phoneSuffix, reason, message string)
}

// Orchestrator drives one conversation turn: it classifies the combined
// message through the LLM, resolves the confirmation handshake, and
// commits bookings through the calendar and the appointment store.
type Orchestrator struct {
	llm       LLMClient
	calendar  Calendar
	resolver  *schedule.Resolver
	pending   Pendings
	log       MessageLog
	appts     Appointments
	messenger Messenger
	notifier  Notifier
	metrics   *metrics.BotMetrics
	profile   clinic.Profile
	loc       *time.Location
	logger    *logging.Logger

	historyLimit int
	maxReply     int
	now          func() time.Time
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	LLM          LLMClient
	Calendar     Calendar
	Resolver     *schedule.Resolver
	Pending      Pendings
	MessageLog   MessageLog
	Appointments Appointments
	Messenger    Messenger
	Notifier     Notifier
	Metrics      *metrics.BotMetrics
	Profile      clinic.Profile
	Location     *time.Location
	Logger       *logging.Logger
	HistoryLimit int
	ReplyMax     int
}

// NewOrchestrator wires a turn orchestrator. LLM, Calendar, Resolver,
// Pending and Messenger are required.
func NewOrchestrator(d Deps) *Orchestrator {
	if d.LLM == nil {
		panic("conversation: LLM client cannot be nil")
	}
	if d.Calendar == nil {
		panic("conversation: calendar cannot be nil")
	}
	if d.Resolver == nil {
		panic("conversation: slot resolver cannot be nil")
	}
	if d.Pending == nil {
		panic("conversation: pending store cannot be nil")
	}
	if d.Messenger == nil {
		panic("conversation: messenger cannot be nil")
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.HistoryLimit <= 0 {
		d.HistoryLimit = DefaultHistoryLimit
	}
	if d.ReplyMax <= 0 {
		d.ReplyMax = DefaultReplyMaxLength
	}

	return &Orchestrator{
		llm:          d.LLM,
		calendar:     d.Calendar,
		resolver:     d.Resolver,
		pending:      d.Pending,
		log:          d.MessageLog,
		appts:        d.Appointments,
		messenger:    d.Messenger,
		notifier:     d.Notifier,
		metrics:      d.Metrics,
		profile:      d.Profile,
		loc:          d.Location,
		logger:       d.Logger,
		historyLimit: d.HistoryLimit,
		maxReply:     d.ReplyMax,
		now:          time.Now,
	}
}

// WithNow overrides the clock for tests.
func (o *Orchestrator) WithNow(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// HandleTurn processes one flushed, combined message: persists it,
// produces the reply, persists the reply, and delivers it. It is the
// debouncer's flush target.
func (o *Orchestrator) HandleTurn(ctx context.Context, phone, combined string) {
	if o.log != nil {
		if err := o.log.AppendMessage(ctx, phone, store.DirectionIncoming, combined, ""); err != nil {
			o.logger.Error("failed to persist incoming message", "error", err)
		}
	}

	reply, label := o.respond(ctx, phone, combined)
	reply = truncate(reply, o.maxReply)

	if o.log != nil {
		if err := o.log.AppendMessage(ctx, phone, store.DirectionOutgoing, reply, label); err != nil {
			o.logger.Error("failed to persist outgoing message", "error", err)
		}
	}

	if err := o.messenger.Deliver(ctx, phone, reply); err != nil {
		o.logger.Error("failed to deliver reply", "error", err)
	}
}

// Respond produces the reply for one combined message without side
// effects on the message log or the transport.
func (o *Orchestrator) Respond(ctx context.Context, phone, combined string) string {
	reply, _ := o.respond(ctx, phone, combined)
	return reply
}

// respond resolves the turn and labels it with the intent that decided
// the reply.
func (o *Orchestrator) respond(ctx context.Context, phone, combined string) (string, string) {
	// Critical conditions bypass the model entirely.
	if kw := MatchEscalationKeyword(combined); kw != "" {
		o.logger.Info("escalating conversation", "keyword", kw)
		o.metrics.ObserveEscalation("keyword")
		o.setState(ctx, phone, "escalated", map[string]string{"escalation_keyword": kw})
		if o.notifier != nil {
			o.notifier.Escalated(ctx, lastFour(phone), kw, combined)
		}
		return EscalationReply(o.profile), fnEscalateToHuman
	}

	pending, err := o.pending.Get(ctx, phone)
	if err != nil {
		o.logger.Error("failed to read pending confirmation", "error", err)
		pending = nil
	}

	if pending != nil {
		switch {
		case containsWord(combined, affirmativeWords):
			reply := o.commit(ctx, *pending)
			if err := o.pending.Clear(ctx, phone); err != nil {
				o.logger.Error("failed to clear pending confirmation", "error", err)
			}
			return reply, labelConfirmYes
		case containsWord(combined, negativeWords):
			if err := o.pending.Clear(ctx, phone); err != nil {
				o.logger.Error("failed to clear pending confirmation", "error", err)
			}
			return "Entiendo, dejé esa reserva sin efecto. ¿Qué otro día u hora te acomoda? 😊", labelConfirmNo
		default:
			// Ambiguous: re-prompt, leave the candidate and its TTL alone.
			return "Tengo tu cita lista para confirmar. ¿La agendo? Responde Sí o No 🙏", labelConfirmAgain
		}
	}

	if preferenceRe.MatchString(strings.ToLower(combined)) {
		o.setState(ctx, phone, "asking_preferences", map[string]string{"user_preferences": combined})
	}

	intent, err := o.classify(ctx, phone, combined)
	if err != nil {
		o.logger.Error("turn classification failed", "error", err)
		return "Disculpa, tuve un problema. ¿Puedes repetir tu consulta?", labelError
	}

	switch it := intent.(type) {
	case PlainText:
		if strings.TrimSpace(it.Reply) == "" {
			return "Disculpa, algo salió mal al procesar tu solicitud. ¿Puedes repetir?", labelError
		}
		return it.Reply, labelPlainText
	case NeedsFields:
		return missingFieldsReply(it), fnRequestMissingField
	case ShowAvailability:
		return o.availabilityReply(ctx, it), fnShowAvailability
	case Escalate:
		o.logger.Info("model requested escalation", "reason", it.Reason)
		o.metrics.ObserveEscalation("model")
		o.setState(ctx, phone, "escalated", map[string]string{"escalation_reason": it.Reason})
		if o.notifier != nil {
			o.notifier.Escalated(ctx, lastFour(phone), it.Reason, combined)
		}
		return EscalationReply(o.profile), fnEscalateToHuman
	case ReadyToBook:
		label := fnBookAppointment
		if len(it.Fields.Sessions) > 0 {
			label = fnBookPackage
		}
		return o.propose(ctx, phone, it.Fields), label
	}

	return "Disculpa, algo salió mal al procesar tu solicitud. ¿Puedes repetir?", labelError
}

// classify asks the model for the turn's intent, feeding it history,
// context and current availability.
func (o *Orchestrator) classify(ctx context.Context, phone, combined string) (Intent, error) {
	pc := PromptContext{
		Now: o.now().In(o.loc),
	}

	if o.log != nil {
		if records, err := o.log.RecentMessages(ctx, phone, o.historyLimit); err != nil {
			o.logger.Error("failed to load history", "error", err)
		} else {
			pc.History = store.HistoryText(records)
		}
		if bag, err := o.log.GetContext(ctx, phone); err != nil {
			o.logger.Error("failed to load context", "error", err)
		} else {
			pc.ContextBag = bag
		}
	}

	if o.appts != nil {
		if n, err := o.appts.CountForPhone(ctx, phone); err != nil {
			o.logger.Error("failed to count previous appointments", "error", err)
		} else {
			pc.PreviousVisits = n
		}
	}

	from := o.now().In(o.loc)
	pc.Availability = o.resolver.AvailableSlotsInRange(ctx, from, from.AddDate(0, 0, availabilityWindowDays))

	started := time.Now()
	resp, err := o.llm.Complete(ctx, LLMRequest{
		System:      BuildSystemPrompt(o.profile, pc),
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: combined}},
		Temperature: 0.3,
		TopP:        0.95,
		MaxTokens:   800,
	})
	if err != nil {
		return nil, err
	}
	provider := resp.Provider
	if provider == "" {
		provider = "unknown"
	}
	o.metrics.ObserveLLMLatency(provider, time.Since(started).Seconds())

	return DecodeIntent(resp)
}

// propose validates a ready-to-book candidate and, if every slot is
// acceptable, stores it as pending and asks for explicit confirmation.
// A rejected candidate is never stored.
func (o *Orchestrator) propose(ctx context.Context, phone string, raw booking.RawFields) string {
	cand, err := booking.Normalize(raw, phone)
	if err != nil {
		return validationReply(err)
	}

	for _, slot := range cand.Slots {
		start, err := slot.StartIn(o.loc)
		if err != nil {
			return "Error en fecha/hora. Usa: YYYY-MM-DD y HH:MM"
		}
		if err := schedule.Validate(start, o.now().In(o.loc)); err != nil {
			return rejectionReply(err)
		}
		busy, err := o.calendar.HasConflict(ctx, start, start.Add(schedule.SlotDuration))
		if err != nil {
			// Uncertain read: assume busy rather than risk a double booking.
			o.logger.Error("availability check failed, treating slot as busy", "error", err)
			busy = true
		}
		if busy {
			return fmt.Sprintf("❌ %s a las %s ya está ocupado.\n¿Otro horario?", slot.Date, slot.Time)
		}
	}

	if err := o.pending.Save(ctx, phone, cand); err != nil {
		o.logger.Error("failed to save pending confirmation", "error", err)
		return "Disculpa, tuve un problema guardando tu reserva. ¿Puedes intentarlo de nuevo?"
	}

	return o.summaryReply(cand)
}

// commit books every slot of a confirmed candidate. Hours and
// availability are re-validated per slot: the candidate may have gone
// stale inside the confirmation window. Slots are booked independently
// and the outcome is reported per slot, never rolled back.
func (o *Orchestrator) commit(ctx context.Context, cand booking.Candidate) string {
	results := make([]string, 0, len(cand.Slots))
	for _, slot := range cand.Slots {
		results = append(results, o.commitSlot(ctx, cand, slot))
	}

	if cand.Single() {
		return results[0]
	}
	return "Resultado de tus citas:\n\n" + strings.Join(results, "\n\n")
}

func (o *Orchestrator) commitSlot(ctx context.Context, cand booking.Candidate, slot booking.Slot) string {
	start, err := slot.StartIn(o.loc)
	if err != nil {
		o.metrics.ObserveBooking("rejected")
		return fmt.Sprintf("❌ %s %s: fecha u hora inválida.", slot.Date, slot.Time)
	}

	if err := schedule.Validate(start, o.now().In(o.loc)); err != nil {
		o.metrics.ObserveBooking("rejected")
		return rejectionReply(err)
	}

	end := start.Add(schedule.SlotDuration)
	busy, err := o.calendar.HasConflict(ctx, start, end)
	if err != nil {
		o.logger.Error("conflict re-check failed at commit", "error", err)
		busy = true
	}
	if busy {
		o.metrics.ObserveBooking("conflict")
		return fmt.Sprintf("❌ %s a las %s ya está ocupado.\n¿Otro horario?", slot.Date, slot.Time)
	}

	title := fmt.Sprintf("Cita: %s", cand.PatientName)
	description := fmt.Sprintf("Contacto: %s\nMétodo Equilibrio", cand.Contact)
	eventID, err := o.calendar.CreateEvent(ctx, title, description, start, end)
	if err != nil {
		o.logger.Error("calendar event creation failed", "error", err)
		o.metrics.ObserveBooking("calendar_failed")
		return fmt.Sprintf("Error al agendar. Llámanos: %s", o.profile.EscalationPhone)
	}

	if o.appts != nil {
		if _, err := o.appts.Create(ctx, cand.SourcePhone, cand.PatientName, cand.Contact, start, eventID); err != nil {
			// The calendar event exists; the user must not retry and
			// double-book, but staff need to know the record is missing.
			o.logger.Error("appointment persisted to calendar but not to storage",
				"error", err, "event_id", eventID)
			o.metrics.ObserveBooking("storage_failed")
			return fmt.Sprintf(
				"⚠️ Tu cita del %s a las %s quedó agendada en el calendario, pero tuvimos un problema "+
					"registrándola en nuestro sistema. Por favor confírmala llamándonos al %s.",
				start.Format("02/01/2006"), slot.Time, o.profile.Phone)
		}
	}

	o.metrics.ObserveBooking("booked")
	return fmt.Sprintf("✅ ¡Listo %s!\n📅 %s a las %s\n📍 %s\n\n¡Te esperamos!",
		cand.PatientName, start.Format("02/01/2006"), slot.Time, o.profile.Address)
}

func (o *Orchestrator) summaryReply(cand booking.Candidate) string {
	var b strings.Builder
	if cand.Single() {
		b.WriteString("📋 Resumen de tu cita:\n")
		b.WriteString(fmt.Sprintf("• Nombre: %s\n", cand.PatientName))
		b.WriteString(fmt.Sprintf("• Fecha: %s\n", displayDate(cand.Slots[0].Date)))
		b.WriteString(fmt.Sprintf("• Hora: %s\n", cand.Slots[0].Time))
		b.WriteString(fmt.Sprintf("• Contacto: %s\n", cand.Contact))
		b.WriteString(fmt.Sprintf("• Lugar: %s\n", o.profile.Address))
	} else {
		b.WriteString(fmt.Sprintf("📋 Resumen de tus %d citas:\n", len(cand.Slots)))
		b.WriteString(fmt.Sprintf("• Nombre: %s\n", cand.PatientName))
		b.WriteString(fmt.Sprintf("• Contacto: %s\n", cand.Contact))
		for _, slot := range cand.Slots {
			b.WriteString(fmt.Sprintf("• %s a las %s\n", displayDate(slot.Date), slot.Time))
		}
		b.WriteString(fmt.Sprintf("• Lugar: %s\n", o.profile.Address))
	}
	b.WriteString("\n¿Confirmas para agendar? (Responde Sí o No)")
	return b.String()
}

// availabilityReply answers a "what slots are open" question for a
// single day or a short range.
func (o *Orchestrator) availabilityReply(ctx context.Context, it ShowAvailability) string {
	date, err := booking.NormalizeDate(it.Date)
	if err != nil {
		return "No entendí la fecha que consultas. ¿Me la repites? (por ejemplo 15/11/2025)"
	}
	from, err := time.ParseInLocation("2006-01-02", date, o.loc)
	if err != nil {
		return "No entendí la fecha que consultas. ¿Me la repites? (por ejemplo 15/11/2025)"
	}

	if it.DateTo != "" {
		if toStr, err := booking.NormalizeDate(it.DateTo); err == nil {
			if to, err := time.ParseInLocation("2006-01-02", toStr, o.loc); err == nil && to.After(from) {
				byDay := o.resolver.AvailableSlotsInRange(ctx, from, to)
				if len(byDay) == 0 {
					return "No tengo horarios libres en esas fechas 😔 ¿Quieres que revise otra semana?"
				}
				var b strings.Builder
				b.WriteString("Estos son los horarios disponibles:\n")
				for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
					key := d.Format("2006-01-02")
					if slots, ok := byDay[key]; ok {
						b.WriteString(fmt.Sprintf("• %s: %s\n", displayDate(key), strings.Join(slots, ", ")))
					}
				}
				b.WriteString("\n¿Cuál te acomoda?")
				return b.String()
			}
		}
	}

	slots := o.resolver.AvailableSlots(ctx, from)
	if len(slots) == 0 {
		if _, open := schedule.HoursFor(from.Weekday()); !open {
			return fmt.Sprintf("El %s estamos cerrados 😔 Atendemos martes a sábado. ¿Otro día?", displayDate(date))
		}
		return fmt.Sprintf("El %s ya no quedan horarios libres 😔 ¿Otro día?", displayDate(date))
	}
	return fmt.Sprintf("Para el %s tengo disponible: %s\n¿Cuál te acomoda?",
		displayDate(date), strings.Join(slots, ", "))
}

func (o *Orchestrator) setState(ctx context.Context, phone, state string, bag map[string]string) {
	if o.log == nil {
		return
	}
	if err := o.log.SetContext(ctx, phone, state, bag); err != nil {
		o.logger.Error("failed to update conversation state", "error", err)
	}
}

func missingFieldsReply(it NeedsFields) string {
	if len(it.Fields) == 0 {
		if strings.TrimSpace(it.Reply) != "" {
			return it.Reply
		}
		return "Me faltan algunos datos para agendar. ¿Me das tu nombre completo y un teléfono o email? 😊"
	}

	labels := map[string]string{
		"nombre":   "tu nombre completo",
		"contacto": "un teléfono o email de contacto",
		"fecha":    "la fecha que prefieres",
		"hora":     "la hora que prefieres",
	}
	items := make([]string, 0, len(it.Fields))
	for _, f := range it.Fields {
		if label, ok := labels[strings.ToLower(strings.TrimSpace(f))]; ok {
			items = append(items, label)
		} else {
			items = append(items, f)
		}
	}
	return fmt.Sprintf("Para agendar tu cita me falta: %s. ¿Me lo puedes enviar? 😊", strings.Join(items, ", "))
}

func validationReply(err error) string {
	var verr *booking.ValidationError
	if !errors.As(err, &verr) {
		return "Disculpa, algo salió mal al procesar tu solicitud. ¿Puedes repetir?"
	}
	switch verr.Kind {
	case booking.IncompleteName:
		return "Por favor, dame tu nombre y apellido completo 😊"
	case booking.InvalidContact:
		return "Necesito un teléfono válido (8+ dígitos) o un email 📱"
	default:
		return "Error en fecha/hora. Usa: YYYY-MM-DD y HH:MM"
	}
}

func rejectionReply(err error) string {
	var closed *schedule.ClosedDayError
	var outside *schedule.OutsideHoursError
	switch {
	case errors.Is(err, schedule.ErrInPast):
		return "❌ Esa fecha/hora ya pasó. ¿Te acomoda otro día?"
	case errors.As(err, &closed):
		if closed.Day == time.Sunday {
			return "❌ Cerrados los domingos. ¿Otro día?"
		}
		return "❌ Cerrados los lunes. ¿Otro día?"
	case errors.As(err, &outside):
		return fmt.Sprintf("❌ Ese día atendemos %02d:00-%02d:00. ¿Otra hora?", outside.Hours.Open, outside.Hours.Close)
	}
	return "❌ Ese horario no está disponible. ¿Otro horario?"
}

// displayDate turns YYYY-MM-DD into the DD/MM/YYYY the clinic uses with
// patients. Unparseable input is returned as-is.
func displayDate(iso string) string {
	t, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return iso
	}
	return t.Format("02/01/2006")
}

func lastFour(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return phone[len(phone)-4:]
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
