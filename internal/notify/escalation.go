package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/equilibriocl/agendabot/pkg/logging"
)

// EscalationNotifier emails staff when a conversation leaves automated
// handling, so critical cases are not left waiting on the patient to call.
type EscalationNotifier struct {
	sender EmailSender
	to     string
	logger *logging.Logger
}

// NewEscalationNotifier returns nil when there is no email sender or
// recipient configured; callers treat a nil notifier as disabled.
func NewEscalationNotifier(sender EmailSender, to string, logger *logging.Logger) *EscalationNotifier {
	if sender == nil || to == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EscalationNotifier{sender: sender, to: to, logger: logger}
}

// Escalated reports one escalated turn. phoneSuffix is the anonymized
// sender identity (last digits only); reason is the matched keyword or
// the model's stated motive. Failures are logged, never surfaced to the
// patient.
func (n *EscalationNotifier) Escalated(ctx context.Context, phoneSuffix, reason, message string) {
	if n == nil {
		return
	}
	subject := fmt.Sprintf("Caso derivado a humano (***%s)", phoneSuffix)
	when := time.Now().Format(time.RFC3339)
	body := fmt.Sprintf(
		"Una conversación fue derivada a atención humana.\n\n"+
			"Paciente: ***%s\nMotivo: %s\nHora: %s\n\nÚltimo mensaje:\n%s\n",
		phoneSuffix, reason, when, message)
	htmlBody := fmt.Sprintf(
		"<p>Una conversación fue derivada a atención humana.</p>"+
			"<ul><li><b>Paciente:</b> ***%s</li><li><b>Motivo:</b> %s</li><li><b>Hora:</b> %s</li></ul>"+
			"<p><b>Último mensaje:</b></p><blockquote>%s</blockquote>",
		html.EscapeString(phoneSuffix), html.EscapeString(reason), when, html.EscapeString(message))

	if err := n.sender.Send(ctx, EmailMessage{To: n.to, Subject: subject, Body: body, HTML: htmlBody}); err != nil {
		n.logger.Error("failed to send escalation email", "error", err)
	}
}
