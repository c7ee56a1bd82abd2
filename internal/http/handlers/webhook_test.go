package handlers

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equilibriocl/agendabot/internal/store"
)

type recordingBuffer struct {
	phones []string
	texts  []string
}

func (b *recordingBuffer) Enqueue(_ context.Context, phone, text string) {
	b.phones = append(b.phones, phone)
	b.texts = append(b.texts, text)
}

func TestHandleWhatsAppEnqueues(t *testing.T) {
	buf := &recordingBuffer{}
	h := NewWebhookHandler(buf, "", "", nil, nil)

	form := url.Values{}
	form.Set("From", "whatsapp:+56911112222")
	form.Set("Body", "Hola")

	req := httptest.NewRequest("POST", "/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.HandleWhatsApp(rec, req)

	assert.Equal(t, 200, rec.Code)
	require.Len(t, buf.phones, 1)
	assert.Equal(t, "whatsapp:+56911112222", buf.phones[0])
	assert.Equal(t, "Hola", buf.texts[0])
}

func TestHandleWhatsAppRejectsUnsignedWhenTokenSet(t *testing.T) {
	buf := &recordingBuffer{}
	h := NewWebhookHandler(buf, "secret-token", "https://bot.example.com/whatsapp", nil, nil)

	form := url.Values{}
	form.Set("From", "whatsapp:+56911112222")
	form.Set("Body", "Hola")

	req := httptest.NewRequest("POST", "/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.HandleWhatsApp(rec, req)

	assert.Equal(t, 403, rec.Code)
	assert.Empty(t, buf.phones)
}

func TestHandleWhatsAppIgnoresEmptyBody(t *testing.T) {
	buf := &recordingBuffer{}
	h := NewWebhookHandler(buf, "", "", nil, nil)

	form := url.Values{}
	form.Set("From", "whatsapp:+56911112222")

	req := httptest.NewRequest("POST", "/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.HandleWhatsApp(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Empty(t, buf.phones, "empty messages are dropped silently")
}

func TestHealth(t *testing.T) {
	h := NewStatusHandler(nil, "gemini-2.5-flash", nil, nil)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), "gemini-2.5-flash")
}

func TestStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").
		WithArgs("equilibrio").
		WillReturnRows(sqlmock.NewRows([]string{"c", "m", "a"}).AddRow(3, 12, 1))

	h := NewStatusHandler(store.NewMessageStore(db, "equilibrio"), "gemini-2.5-flash", nil, nil)
	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()

	h.Stats(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_conversations":3`)
	assert.Contains(t, rec.Body.String(), `"total_appointments":1`)
}
