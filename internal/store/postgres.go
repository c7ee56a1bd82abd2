package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message direction relative to the clinic.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// MessageRecord is one persisted message line.
type MessageRecord struct {
	Content   string
	Direction string
	CreatedAt time.Time
}

// Stats are the aggregate counts served by the /stats endpoint.
type Stats struct {
	Conversations int `json:"total_conversations"`
	Messages      int `json:"total_messages"`
	Appointments  int `json:"total_appointments"`
}

// MessageStore persists conversations, message transcripts, and the
// per-sender context bag to PostgreSQL. All rows are scoped to the clinic
// tenant via client_id.
type MessageStore struct {
	db       *sql.DB
	clientID string
}

// NewMessageStore creates a message store. Returns nil when db is nil so
// callers can treat persistence as optional.
func NewMessageStore(db *sql.DB, clientID string) *MessageStore {
	if db == nil {
		return nil
	}
	return &MessageStore{db: db, clientID: clientID}
}

// EnsureConversation creates or touches the sender's conversation row and
// returns its id.
func (s *MessageStore) EnsureConversation(ctx context.Context, phone string) (uuid.UUID, error) {
	if s == nil || s.db == nil {
		return uuid.Nil, nil
	}

	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, client_id, phone_number, last_message_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (client_id, phone_number)
		DO UPDATE SET last_message_at = NOW()
		RETURNING id
	`, uuid.New(), s.clientID, phone).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: failed to ensure conversation: %w", err)
	}
	return id, nil
}

// AppendMessage persists one message line with its direction and an optional
// intent label.
func (s *MessageStore) AppendMessage(ctx context.Context, phone, direction, content, intent string) error {
	if s == nil || s.db == nil {
		return nil
	}

	conversationID, err := s.EnsureConversation(ctx, phone)
	if err != nil {
		return err
	}

	var intentVal sql.NullString
	if intent != "" {
		intentVal = sql.NullString{String: intent, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, client_id, phone_number, direction, content, intent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, uuid.New(), conversationID, s.clientID, phone, direction, content, intentVal)
	if err != nil {
		return fmt.Errorf("store: failed to insert message: %w", err)
	}
	return nil
}

// RecentMessages returns the sender's last messages in chronological order.
func (s *MessageStore) RecentMessages(ctx context.Context, phone string, limit int) ([]MessageRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content, direction, created_at
		FROM messages
		WHERE phone_number = $1 AND client_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, phone, s.clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: failed to read messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []MessageRecord
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.Content, &m.Direction, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: failed to scan message: %w", err)
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: failed to iterate messages: %w", err)
	}

	// Reverse so callers see arrival order.
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

// HistoryText renders records as the "Usuario:"/"Bot:" transcript fed to the
// LLM prompt.
func HistoryText(records []MessageRecord) string {
	lines := make([]string, 0, len(records))
	for _, m := range records {
		prefix := "Usuario"
		if m.Direction == DirectionOutgoing {
			prefix = "Bot"
		}
		lines = append(lines, prefix+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// GetContext returns the sender's free-form context bag, empty when unset.
func (s *MessageStore) GetContext(ctx context.Context, phone string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return map[string]string{}, nil
	}

	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT context FROM conversations
		WHERE phone_number = $1 AND client_id = $2
	`, phone, s.clientID).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read context: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return map[string]string{}, nil
	}

	bag := map[string]string{}
	if err := json.Unmarshal([]byte(raw.String), &bag); err != nil {
		return nil, fmt.Errorf("store: failed to decode context: %w", err)
	}
	return bag, nil
}

// SetContext upserts the sender's conversation state and context bag.
func (s *MessageStore) SetContext(ctx context.Context, phone, state string, bag map[string]string) error {
	if s == nil || s.db == nil {
		return nil
	}

	var contextVal sql.NullString
	if len(bag) > 0 {
		data, err := json.Marshal(bag)
		if err != nil {
			return fmt.Errorf("store: failed to encode context: %w", err)
		}
		contextVal = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, client_id, phone_number, state, context, last_message_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (client_id, phone_number) DO UPDATE SET
			state = EXCLUDED.state,
			context = EXCLUDED.context,
			last_message_at = NOW()
	`, uuid.New(), s.clientID, phone, state, contextVal)
	if err != nil {
		return fmt.Errorf("store: failed to set context: %w", err)
	}
	return nil
}

// Stats counts the tenant's conversations, messages, and appointments.
func (s *MessageStore) Stats(ctx context.Context) (Stats, error) {
	if s == nil || s.db == nil {
		return Stats{}, nil
	}

	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations WHERE client_id = $1),
			(SELECT COUNT(*) FROM messages WHERE client_id = $1),
			(SELECT COUNT(*) FROM appointments WHERE client_id = $1)
	`, s.clientID).Scan(&st.Conversations, &st.Messages, &st.Appointments)
	if err != nil {
		return Stats{}, fmt.Errorf("store: failed to read stats: %w", err)
	}
	return st, nil
}
