package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equilibriocl/agendabot/internal/booking"
)

func newTestPendingStore(t *testing.T) (*PendingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewPendingStore(rdb, "equilibrio", 10*time.Minute), mr
}

func testCandidate() booking.Candidate {
	return booking.Candidate{
		PatientName: "Ana Soto",
		Contact:     "912345678",
		Slots:       []booking.Slot{{Date: "2025-11-05", Time: "11:00"}},
		SourcePhone: "+56911112222",
	}
}

func TestPendingSaveGetClear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestPendingStore(t)

	got, err := s.Get(ctx, "+56911112222")
	require.NoError(t, err)
	assert.Nil(t, got, "empty store returns absent")

	require.NoError(t, s.Save(ctx, "+56911112222", testCandidate()))

	got, err = s.Get(ctx, "+56911112222")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testCandidate(), *got)

	require.NoError(t, s.Clear(ctx, "+56911112222"))
	got, err = s.Get(ctx, "+56911112222")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPendingSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestPendingStore(t)

	first := testCandidate()
	require.NoError(t, s.Save(ctx, "+56911112222", first))

	second := testCandidate()
	second.Slots = []booking.Slot{{Date: "2025-11-07", Time: "16:00"}}
	require.NoError(t, s.Save(ctx, "+56911112222", second))

	got, err := s.Get(ctx, "+56911112222")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.Slots, got.Slots, "overwrite, not merge")
}

func TestPendingExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestPendingStore(t)

	require.NoError(t, s.Save(ctx, "+56911112222", testCandidate()))

	mr.FastForward(11 * time.Minute)

	got, err := s.Get(ctx, "+56911112222")
	require.NoError(t, err)
	assert.Nil(t, got, "expired entries behave as absent")
}

func TestPendingKeyIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestPendingStore(t)

	require.NoError(t, s.Save(ctx, "+56911112222", testCandidate()))
	assert.True(t, mr.Exists("pending_confirmation:equilibrio:+56911112222"))
}

func TestPendingGetAcceptsWrappedPayload(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestPendingStore(t)

	// Legacy rows stored the candidate as a JSON-encoded string.
	raw, err := json.Marshal(testCandidate())
	require.NoError(t, err)
	wrapped, err := json.Marshal(string(raw))
	require.NoError(t, err)
	mr.Set("pending_confirmation:equilibrio:+56911112222", string(wrapped))

	got, err := s.Get(ctx, "+56911112222")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ana Soto", got.PatientName)
}
