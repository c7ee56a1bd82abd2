package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equilibriocl/agendabot/internal/booking"
	"github.com/equilibriocl/agendabot/internal/clinic"
	"github.com/equilibriocl/agendabot/internal/observability/metrics"
	"github.com/equilibriocl/agendabot/internal/schedule"
	"github.com/equilibriocl/agendabot/internal/store"
)

// --- fakes ---

type fakeLLM struct {
	resp    LLMResponse
	err     error
	calls   int
	lastReq LLMRequest
}

func (f *fakeLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return LLMResponse{}, f.err
	}
	return f.resp, nil
}

type createdEvent struct {
	title string
	start time.Time
}

type fakeCal struct {
	mu        sync.Mutex
	busy      map[string]bool
	checkErr  error
	createErr error
	created   []createdEvent
}

func (f *fakeCal) HasConflict(_ context.Context, start, _ time.Time) (bool, error) {
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return f.busy[start.Format("2006-01-02 15:04")], nil
}

func (f *fakeCal) CreateEvent(_ context.Context, title, _ string, start, _ time.Time) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, createdEvent{title: title, start: start})
	return fmt.Sprintf("evt-%d", len(f.created)), nil
}

type memPending struct {
	mu    sync.Mutex
	items map[string]booking.Candidate
}

func newMemPending() *memPending {
	return &memPending{items: make(map[string]booking.Candidate)}
}

func (m *memPending) Save(_ context.Context, phone string, cand booking.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[phone] = cand
	return nil
}

func (m *memPending) Get(_ context.Context, phone string) (*booking.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cand, ok := m.items[phone]
	if !ok {
		return nil, nil
	}
	return &cand, nil
}

func (m *memPending) Clear(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, phone)
	return nil
}

type fakeAppts struct {
	mu       sync.Mutex
	err      error
	previous int
	created  []time.Time
}

func (f *fakeAppts) Create(_ context.Context, _, _, _ string, startsAt time.Time, _ string) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, startsAt)
	return uuid.New(), nil
}

func (f *fakeAppts) CountForPhone(_ context.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.previous + len(f.created), nil
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeMessenger) Deliver(_ context.Context, _, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
	return nil
}

type fakeLog struct {
	mu       sync.Mutex
	messages []store.MessageRecord
	intents  []string
	state    string
	bag      map[string]string
}

func (f *fakeLog) AppendMessage(_ context.Context, _, direction, content, intent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, store.MessageRecord{Content: content, Direction: direction})
	f.intents = append(f.intents, intent)
	return nil
}

func (f *fakeLog) RecentMessages(_ context.Context, _ string, _ int) ([]store.MessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages, nil
}

func (f *fakeLog) GetContext(_ context.Context, _ string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bag, nil
}

func (f *fakeLog) SetContext(_ context.Context, _, state string, bag map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.bag = bag
	return nil
}

// --- harness ---

const testPhone = "+56911112222"

func santiago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	return loc
}

type fixture struct {
	orch    *Orchestrator
	llm     *fakeLLM
	cal     *fakeCal
	pending *memPending
	appts   *fakeAppts
	msgr    *fakeMessenger
	log     *fakeLog
	reg     *prometheus.Registry
	loc     *time.Location
	now     time.Time
}

// newFixture pins "now" to Monday 2025-11-03 09:00 in Santiago; the
// next Wednesday is 2025-11-05.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc := santiago(t)
	now := time.Date(2025, time.November, 3, 9, 0, 0, 0, loc)

	f := &fixture{
		llm:     &fakeLLM{},
		cal:     &fakeCal{busy: map[string]bool{}},
		pending: newMemPending(),
		appts:   &fakeAppts{},
		msgr:    &fakeMessenger{},
		log:     &fakeLog{},
		reg:     prometheus.NewRegistry(),
		loc:     loc,
		now:     now,
	}

	resolver := schedule.NewResolver(f.cal, loc).WithNow(func() time.Time { return now })
	f.orch = NewOrchestrator(Deps{
		LLM:          f.llm,
		Calendar:     f.cal,
		Resolver:     resolver,
		Pending:      f.pending,
		MessageLog:   f.log,
		Appointments: f.appts,
		Messenger:    f.msgr,
		Metrics:      metrics.NewBotMetrics(f.reg),
		Profile:      clinic.Default(),
		Location:     loc,
	}).WithNow(func() time.Time { return now })
	return f
}

func anaSotoCall() LLMResponse {
	return LLMResponse{Call: &FunctionCall{
		Name: fnBookAppointment,
		Args: map[string]any{
			"nombre":   "Ana Soto",
			"contacto": "912345678",
			"fecha":    "2025-11-05",
			"hora":     "11:00",
		},
	}}
}

// --- tests ---

func TestEscalationKeywordSkipsModel(t *testing.T) {
	f := newFixture(t)

	reply := f.orch.Respond(context.Background(), testPhone, "Hola, estoy embarazada y me duele la espalda")

	assert.Contains(t, reply, clinic.Default().EscalationPhone)
	assert.Equal(t, 0, f.llm.calls, "critical conditions must not reach the model")
	assert.Equal(t, "escalated", f.log.state)
}

func TestReadyToBookStoresPendingAndAsksForConfirmation(t *testing.T) {
	f := newFixture(t)
	f.llm.resp = anaSotoCall()

	reply := f.orch.Respond(context.Background(), testPhone, "quiero hora el miércoles a las 11, soy Ana Soto, 912345678")

	assert.Contains(t, reply, "Ana Soto")
	assert.Contains(t, reply, "05/11/2025")
	assert.Contains(t, reply, "¿Confirmas para agendar?")

	cand, err := f.pending.Get(context.Background(), testPhone)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, "Ana Soto", cand.PatientName)
	assert.Equal(t, []booking.Slot{{Date: "2025-11-05", Time: "11:00"}}, cand.Slots)
	assert.Empty(t, f.cal.created, "nothing is booked before the user confirms")
}

func TestAffirmativeBooksAndClears(t *testing.T) {
	f := newFixture(t)
	cand := booking.Candidate{
		PatientName: "Ana Soto",
		Contact:     "912345678",
		Slots:       []booking.Slot{{Date: "2025-11-05", Time: "11:00"}},
		SourcePhone: testPhone,
	}
	require.NoError(t, f.pending.Save(context.Background(), testPhone, cand))

	reply := f.orch.Respond(context.Background(), testPhone, "sí")

	assert.Contains(t, reply, "✅ ¡Listo Ana Soto!")
	assert.Contains(t, reply, "05/11/2025")
	assert.Contains(t, reply, clinic.Default().Address)
	require.Len(t, f.cal.created, 1)
	assert.Equal(t, "Cita: Ana Soto", f.cal.created[0].title)
	require.Len(t, f.appts.created, 1)

	left, err := f.pending.Get(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Nil(t, left, "pending confirmation cleared after booking")
	assert.Equal(t, 0, f.llm.calls, "confirmation is resolved without the model")
}

func TestNegativeClearsWithoutBooking(t *testing.T) {
	f := newFixture(t)
	cand := booking.Candidate{
		PatientName: "Ana Soto",
		Contact:     "912345678",
		Slots:       []booking.Slot{{Date: "2025-11-05", Time: "11:00"}},
		SourcePhone: testPhone,
	}
	require.NoError(t, f.pending.Save(context.Background(), testPhone, cand))

	reply := f.orch.Respond(context.Background(), testPhone, "no, mejor otro día")

	assert.Contains(t, reply, "sin efecto")
	assert.Empty(t, f.cal.created)
	left, err := f.pending.Get(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestAmbiguousReplyLeavesPendingUntouched(t *testing.T) {
	f := newFixture(t)
	cand := booking.Candidate{
		PatientName: "Ana Soto",
		Contact:     "912345678",
		Slots:       []booking.Slot{{Date: "2025-11-05", Time: "11:00"}},
		SourcePhone: testPhone,
	}
	require.NoError(t, f.pending.Save(context.Background(), testPhone, cand))

	reply := f.orch.Respond(context.Background(), testPhone, "tal vez")

	assert.Contains(t, reply, "Sí o No")
	assert.Empty(t, f.cal.created)
	left, err := f.pending.Get(context.Background(), testPhone)
	require.NoError(t, err)
	require.NotNil(t, left)
	assert.Equal(t, "Ana Soto", left.PatientName)
	assert.Equal(t, 0, f.llm.calls)
}

func TestIncompleteNameRejectedWithoutPending(t *testing.T) {
	f := newFixture(t)
	f.llm.resp = LLMResponse{Call: &FunctionCall{
		Name: fnBookAppointment,
		Args: map[string]any{
			"nombre": "Ana", "contacto": "912345678",
			"fecha": "2025-11-05", "hora": "11:00",
		},
	}}

	reply := f.orch.Respond(context.Background(), testPhone, "soy Ana")

	assert.Contains(t, reply, "nombre y apellido")
	left, err := f.pending.Get(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Nil(t, left, "rejected candidates are never stored")
}

func TestClosedDayRejected(t *testing.T) {
	f := newFixture(t)
	f.llm.resp = LLMResponse{Call: &FunctionCall{
		Name: fnBookAppointment,
		Args: map[string]any{
			"nombre": "Ana Soto", "contacto": "912345678",
			"fecha": "2025-11-10", "hora": "11:00", // a Monday
		},
	}}

	reply := f.orch.Respond(context.Background(), testPhone, "el lunes 10 a las 11")

	assert.Contains(t, reply, "lunes")
	left, err := f.pending.Get(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestBusySlotRejected(t *testing.T) {
	f := newFixture(t)
	f.cal.busy["2025-11-05 11:00"] = true
	f.llm.resp = anaSotoCall()

	reply := f.orch.Respond(context.Background(), testPhone, "el miércoles a las 11")

	assert.Contains(t, reply, "ya está ocupado")
	left, err := f.pending.Get(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestConflictCheckErrorFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.llm.resp = anaSotoCall()
	f.cal.checkErr = errors.New("calendar unreachable")

	reply := f.orch.Respond(context.Background(), testPhone, "el miércoles a las 11")

	assert.Contains(t, reply, "ya está ocupado")
	left, err := f.pending.Get(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Nil(t, left, "uncertain availability must not become a pending booking")
}

func TestConfirmRevalidatesStaleSlot(t *testing.T) {
	f := newFixture(t)
	cand := booking.Candidate{
		PatientName: "Ana Soto",
		Contact:     "912345678",
		Slots:       []booking.Slot{{Date: "2025-11-05", Time: "11:00"}},
		SourcePhone: testPhone,
	}
	require.NoError(t, f.pending.Save(context.Background(), testPhone, cand))
	// Someone else took the slot inside the confirmation window.
	f.cal.busy["2025-11-05 11:00"] = true

	reply := f.orch.Respond(context.Background(), testPhone, "sí")

	assert.Contains(t, reply, "ya está ocupado")
	assert.Empty(t, f.cal.created)
	assert.Empty(t, f.appts.created)
}

func TestCalendarFailureAtCommit(t *testing.T) {
	f := newFixture(t)
	cand := booking.Candidate{
		PatientName: "Ana Soto",
		Contact:     "912345678",
		Slots:       []booking.Slot{{Date: "2025-11-05", Time: "11:00"}},
		SourcePhone: testPhone,
	}
	require.NoError(t, f.pending.Save(context.Background(), testPhone, cand))
	f.cal.createErr = errors.New("insert failed")

	reply := f.orch.Respond(context.Background(), testPhone, "confirmo")

	assert.Contains(t, reply, "Error al agendar")
	assert.Contains(t, reply, clinic.Default().EscalationPhone)
	assert.Empty(t, f.appts.created, "no appointment row without a calendar event")
}

func TestStorageFailureAfterCalendarSuccess(t *testing.T) {
	f := newFixture(t)
	cand := booking.Candidate{
		PatientName: "Ana Soto",
		Contact:     "912345678",
		Slots:       []booking.Slot{{Date: "2025-11-05", Time: "11:00"}},
		SourcePhone: testPhone,
	}
	require.NoError(t, f.pending.Save(context.Background(), testPhone, cand))
	f.appts.err = errors.New("db down")

	reply := f.orch.Respond(context.Background(), testPhone, "sí")

	require.Len(t, f.cal.created, 1)
	assert.Contains(t, reply, "quedó agendada en el calendario")
	assert.Contains(t, reply, "confírmala")
	assert.NotContains(t, reply, "✅", "must not read as a clean success")
}

func TestMultiBookingPartialFailureIsItemized(t *testing.T) {
	f := newFixture(t)
	cand := booking.Candidate{
		PatientName: "Ana Soto",
		Contact:     "912345678",
		Slots: []booking.Slot{
			{Date: "2025-11-05", Time: "11:00"},
			{Date: "2025-11-12", Time: "11:00"},
			{Date: "2025-11-19", Time: "11:00"},
		},
		SourcePhone: testPhone,
	}
	require.NoError(t, f.pending.Save(context.Background(), testPhone, cand))
	f.cal.busy["2025-11-12 11:00"] = true

	reply := f.orch.Respond(context.Background(), testPhone, "dale")

	assert.Contains(t, reply, "Resultado de tus citas")
	assert.Contains(t, reply, "05/11/2025")
	assert.Contains(t, reply, "2025-11-12 a las 11:00 ya está ocupado")
	assert.Contains(t, reply, "19/11/2025")
	assert.Len(t, f.cal.created, 2, "the busy slot must not abort the remaining ones")
	assert.Len(t, f.appts.created, 2)
}

func TestOracleFailureAbandonsTurn(t *testing.T) {
	f := newFixture(t)
	f.llm.err = errors.New("model unavailable")

	reply := f.orch.Respond(context.Background(), testPhone, "hola")

	assert.Contains(t, reply, "¿Puedes repetir")
	left, err := f.pending.Get(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestShowAvailabilityListsOpenSlots(t *testing.T) {
	f := newFixture(t)
	f.cal.busy["2025-11-05 10:00"] = true
	f.llm.resp = LLMResponse{Call: &FunctionCall{
		Name: fnShowAvailability,
		Args: map[string]any{"fecha": "05/11/2025"},
	}}

	reply := f.orch.Respond(context.Background(), testPhone, "¿qué horas tienes el miércoles?")

	assert.Contains(t, reply, "05/11/2025")
	assert.NotContains(t, reply, "10:00")
	assert.Contains(t, reply, "11:00")
	assert.Contains(t, reply, "17:00")
}

func TestNeedsFieldsReply(t *testing.T) {
	f := newFixture(t)
	f.llm.resp = LLMResponse{Call: &FunctionCall{
		Name: fnRequestMissingField,
		Args: map[string]any{"campos": []any{"nombre", "contacto"}},
	}}

	reply := f.orch.Respond(context.Background(), testPhone, "quiero hora para el miércoles")

	assert.Contains(t, reply, "tu nombre completo")
	assert.Contains(t, reply, "teléfono o email")
}

func TestPlainTextPassesThrough(t *testing.T) {
	f := newFixture(t)
	f.llm.resp = LLMResponse{Text: "La primera consulta cuesta $35.000. ¿Quieres agendar?"}

	reply := f.orch.Respond(context.Background(), testPhone, "cuánto cuesta?")

	assert.Equal(t, "La primera consulta cuesta $35.000. ¿Quieres agendar?", reply)
}

func TestHandleTurnPersistsAndDelivers(t *testing.T) {
	f := newFixture(t)
	f.llm.resp = LLMResponse{Text: "¡Hola! ¿En qué te ayudo?"}

	f.orch.HandleTurn(context.Background(), testPhone, "Hola")

	require.Len(t, f.msgr.sent, 1)
	assert.Equal(t, "¡Hola! ¿En qué te ayudo?", f.msgr.sent[0])
	require.Len(t, f.log.messages, 2)
	assert.Equal(t, store.DirectionIncoming, f.log.messages[0].Direction)
	assert.Equal(t, store.DirectionOutgoing, f.log.messages[1].Direction)
}

func TestEndToEndBookingFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Turn 1: the combined burst carries everything needed to book.
	f.llm.resp = anaSotoCall()
	first := f.orch.Respond(ctx, testPhone,
		"Hola\nquiero hora para el miércoles a las 11, soy Ana Soto, mi telefono es 912345678")
	assert.Contains(t, first, "¿Confirmas para agendar?")

	cand, err := f.pending.Get(ctx, testPhone)
	require.NoError(t, err)
	require.NotNil(t, cand)

	// Turn 2: explicit confirmation books and clears.
	second := f.orch.Respond(ctx, testPhone, "sí")
	assert.Contains(t, second, "✅ ¡Listo Ana Soto!")
	assert.Contains(t, second, "05/11/2025")
	assert.Contains(t, second, "11:00")
	assert.Contains(t, second, clinic.Default().Address)

	require.Len(t, f.cal.created, 1)
	assert.Equal(t, time.Date(2025, time.November, 5, 11, 0, 0, 0, f.loc), f.cal.created[0].start)
	require.Len(t, f.appts.created, 1)

	left, err := f.pending.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestOutgoingMessageCarriesIntentLabel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.llm.resp = anaSotoCall()

	f.orch.HandleTurn(ctx, testPhone, "quiero hora el miércoles a las 11, soy Ana Soto, 912345678")

	require.Len(t, f.log.intents, 2)
	assert.Empty(t, f.log.intents[0], "raw inbound text carries no label")
	assert.Equal(t, "book_appointment", f.log.intents[1])

	f.orch.HandleTurn(ctx, testPhone, "sí")

	require.Len(t, f.log.intents, 4)
	assert.Equal(t, "confirmation_accepted", f.log.intents[3])
}

func TestEscalationTurnIsLabeled(t *testing.T) {
	f := newFixture(t)

	f.orch.HandleTurn(context.Background(), testPhone, "estoy embarazada, ¿puedo atenderme?")

	require.Len(t, f.log.intents, 2)
	assert.Equal(t, "escalate_to_human", f.log.intents[1])
}

func TestBookingOutcomeCountersAreRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cand := booking.Candidate{
		PatientName: "Ana Soto",
		Contact:     "912345678",
		Slots:       []booking.Slot{{Date: "2025-11-05", Time: "11:00"}},
		SourcePhone: testPhone,
	}
	require.NoError(t, f.pending.Save(ctx, testPhone, cand))

	f.orch.Respond(ctx, testPhone, "sí")

	assert.Equal(t, 1, testutil.CollectAndCount(f.reg, "agendabot_booking_appointments_total"),
		"a confirmed booking must materialize the outcome counter")
}

func TestEscalationCounterRecordedWithoutModel(t *testing.T) {
	f := newFixture(t)

	f.orch.Respond(context.Background(), testPhone, "tengo marcapasos y quiero saber si puedo ir")

	assert.Equal(t, 1, testutil.CollectAndCount(f.reg, "agendabot_conversation_escalations_total"))
	assert.Equal(t, 0, f.llm.calls)
}

func TestLLMLatencyRecordedPerProvider(t *testing.T) {
	f := newFixture(t)
	f.llm.resp = LLMResponse{Text: "¡Hola! ¿En qué te ayudo?", Provider: "gemini"}

	f.orch.Respond(context.Background(), testPhone, "hola")

	assert.Equal(t, 1, testutil.CollectAndCount(f.reg, "agendabot_conversation_llm_latency_seconds"))
}

func TestClassifyPromptFlagsReturningPatient(t *testing.T) {
	f := newFixture(t)
	f.appts.previous = 2
	f.llm.resp = LLMResponse{Text: "¡Hola de nuevo! La sesión cuesta $40.000."}

	f.orch.Respond(context.Background(), testPhone, "hola, cuánto sale la sesión?")

	require.Len(t, f.llm.lastReq.System, 2)
	assert.Contains(t, f.llm.lastReq.System[1], "PACIENTE RECURRENTE: 2")
}

func TestReplyTruncation(t *testing.T) {
	long := make([]rune, 0, 2000)
	for i := 0; i < 2000; i++ {
		long = append(long, 'á')
	}
	got := truncate(string(long), DefaultReplyMaxLength)
	assert.Len(t, []rune(got), DefaultReplyMaxLength)
}
