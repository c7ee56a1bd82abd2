// Package store persists conversations, appointments, and the
// pending-confirmation handshake state.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/equilibriocl/agendabot/internal/booking"
)

// PendingStore keeps at most one booking candidate awaiting an explicit
// yes/no per sender. Entries expire after a fixed TTL; Save overwrites any
// existing entry and resets the clock.
type PendingStore struct {
	redis    *redis.Client
	clientID string
	ttl      time.Duration
	tracer   trace.Tracer
}

// NewPendingStore creates a PendingStore scoped to the clinic tenant.
func NewPendingStore(rdb *redis.Client, clientID string, ttl time.Duration) *PendingStore {
	if rdb == nil {
		panic("store: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PendingStore{
		redis:    rdb,
		clientID: clientID,
		ttl:      ttl,
		tracer:   otel.Tracer("agendabot.internal.store.pending"),
	}
}

// Save stores the candidate under the sender's key, replacing any previous
// candidate and restarting the TTL.
func (s *PendingStore) Save(ctx context.Context, phone string, cand booking.Candidate) error {
	ctx, span := s.tracer.Start(ctx, "pending.save")
	defer span.End()

	data, err := json.Marshal(cand)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to marshal pending confirmation: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(phone), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to persist pending confirmation: %w", err)
	}
	return nil
}

// Get returns the live candidate for the sender, or nil when absent or
// expired. Payloads that were stored as a JSON-encoded string (legacy rows)
// are decoded transparently.
func (s *PendingStore) Get(ctx context.Context, phone string) (*booking.Candidate, error) {
	ctx, span := s.tracer.Start(ctx, "pending.get")
	defer span.End()

	data, err := s.redis.Get(ctx, s.key(phone)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to load pending confirmation: %w", err)
	}

	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("store: failed to decode wrapped pending confirmation: %w", err)
		}
		data = []byte(inner)
	}

	var cand booking.Candidate
	if err := json.Unmarshal(data, &cand); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to decode pending confirmation: %w", err)
	}
	return &cand, nil
}

// Clear deletes the sender's pending confirmation unconditionally.
func (s *PendingStore) Clear(ctx context.Context, phone string) error {
	ctx, span := s.tracer.Start(ctx, "pending.clear")
	defer span.End()

	if err := s.redis.Del(ctx, s.key(phone)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to clear pending confirmation: %w", err)
	}
	return nil
}

func (s *PendingStore) key(phone string) string {
	return fmt.Sprintf("pending_confirmation:%s:%s", s.clientID, phone)
}
