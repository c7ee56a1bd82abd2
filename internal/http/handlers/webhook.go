// Package handlers holds the HTTP endpoints: the Twilio WhatsApp
// webhook plus health and stats.
package handlers

import (
	"context"
	"net/http"

	"github.com/equilibriocl/agendabot/internal/messaging"
	"github.com/equilibriocl/agendabot/internal/observability/metrics"
	"github.com/equilibriocl/agendabot/pkg/logging"
)

// Enqueuer is the message buffer the webhook feeds.
type Enqueuer interface {
	Enqueue(ctx context.Context, phone, text string)
}

// WebhookHandler receives Twilio's WhatsApp webhook and hands validated
// messages to the debouncer. It always answers 200 with an empty body
// for accepted messages; the actual reply goes out asynchronously after
// the buffer window.
type WebhookHandler struct {
	buffer     Enqueuer
	authToken  string
	webhookURL string
	logger     *logging.Logger
	metrics    *metrics.BotMetrics
}

// NewWebhookHandler wires the webhook endpoint. Signature validation is
// skipped when authToken is empty (local development only).
func NewWebhookHandler(buffer Enqueuer, authToken, webhookURL string, logger *logging.Logger, m *metrics.BotMetrics) *WebhookHandler {
	if buffer == nil {
		panic("handlers: buffer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		buffer:     buffer,
		authToken:  authToken,
		webhookURL: webhookURL,
		logger:     logger,
		metrics:    m,
	}
}

// HandleWhatsApp implements POST /whatsapp.
func (h *WebhookHandler) HandleWhatsApp(w http.ResponseWriter, r *http.Request) {
	if h.authToken != "" && !messaging.ValidateTwilioSignature(r, h.authToken, h.webhookURL) {
		h.logger.Warn("rejected webhook with invalid signature", "remote_addr", r.RemoteAddr)
		h.metrics.ObserveInbound("rejected")
		http.Error(w, "unauthorized webhook", http.StatusForbidden)
		return
	}

	msg, err := messaging.ParseWebhook(r)
	if err != nil {
		h.logger.Warn("failed to parse webhook", "error", err)
		h.metrics.ObserveInbound("malformed")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if msg.Body == "" || msg.From == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Only the trailing digits are logged; message content never is.
	h.logger.Info("inbound whatsapp message", "from_suffix", messaging.LastFour(msg.From))
	h.metrics.ObserveInbound("accepted")

	// The flush timer outlives this request, so the buffer gets a
	// detached context.
	h.buffer.Enqueue(context.WithoutCancel(r.Context()), msg.From, msg.Body)

	w.WriteHeader(http.StatusOK)
}
