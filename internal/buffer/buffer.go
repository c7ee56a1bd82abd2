// Package buffer coalesces rapid bursts of WhatsApp messages from the
// same sender into a single unit of work. Each inbound message restarts
// a short debounce timer; when the sender pauses long enough, the
// buffered fragments are flushed together to the processor.
package buffer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/equilibriocl/agendabot/pkg/logging"
)

const (
	// DefaultWindow is how long a sender must stay quiet before their
	// buffered messages are flushed.
	DefaultWindow = 5 * time.Second

	// DefaultIdleTimeout is how long an inactive session is kept
	// before the sweeper discards it.
	DefaultIdleTimeout = 30 * time.Minute
)

// Processor receives the combined text of a flushed buffer. It is
// invoked outside the debouncer's locks, so it may block.
type Processor func(ctx context.Context, phone, text string)

type session struct {
	mu           sync.Mutex
	messages     []string
	timer        *time.Timer
	lastActivity time.Time
}

// Debouncer groups per-sender sessions and schedules their flushes.
// A session holds at most one live timer; every new message cancels
// the previous timer and arms a fresh one, so a sender who keeps
// typing keeps deferring their own flush.
type Debouncer struct {
	mu       sync.Mutex
	sessions map[string]*session

	window      time.Duration
	idleTimeout time.Duration
	process     Processor
	logger      *logging.Logger

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New builds a Debouncer. process must not be nil; window and
// idleTimeout fall back to the defaults when non-positive.
func New(window, idleTimeout time.Duration, process Processor, logger *logging.Logger) *Debouncer {
	if process == nil {
		panic("buffer: nil processor")
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Debouncer{
		sessions:    make(map[string]*session),
		window:      window,
		idleTimeout: idleTimeout,
		process:     process,
		logger:      logger,
		stopSweep:   make(chan struct{}),
	}
	go d.sweep()
	return d
}

// Enqueue appends text to the sender's buffer and restarts the debounce
// timer. A sender who sends faster than the window never flushes until
// they pause; that is intentional, the combined text reads better than
// answering each fragment.
func (d *Debouncer) Enqueue(ctx context.Context, phone, text string) {
	d.mu.Lock()
	s, ok := d.sessions[phone]
	if !ok {
		s = &session{}
		d.sessions[phone] = s
	}
	d.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, text)
	s.lastActivity = time.Now()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d.window, func() {
		d.Flush(ctx, phone)
	})
}

// Flush drains the sender's buffer and hands the combined text to the
// processor. Buffered fragments are joined with newlines in arrival
// order. An empty or unknown session is a no-op. The processor runs
// after all locks are released.
func (d *Debouncer) Flush(ctx context.Context, phone string) {
	d.mu.Lock()
	s, ok := d.sessions[phone]
	d.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if len(s.messages) == 0 {
		s.mu.Unlock()
		return
	}
	combined := strings.Join(s.messages, "\n")
	s.messages = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	d.logger.Debug("flushing buffered messages", "phone_suffix", lastFour(phone))
	d.process(ctx, phone, combined)
}

// Len reports how many fragments are buffered for a sender.
func (d *Debouncer) Len(phone string) int {
	d.mu.Lock()
	s, ok := d.sessions[phone]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Close stops the idle sweeper and cancels all pending timers. Buffered
// messages that never flushed are dropped.
func (d *Debouncer) Close() {
	d.sweepOnce.Do(func() { close(d.stopSweep) })

	d.mu.Lock()
	defer d.mu.Unlock()
	for phone, s := range d.sessions {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()
		delete(d.sessions, phone)
	}
}

// sweep periodically drops sessions that have been idle past the
// timeout, cancelling any timer they still hold.
func (d *Debouncer) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopSweep:
			return
		case <-ticker.C:
			d.dropIdle()
		}
	}
}

func (d *Debouncer) dropIdle() {
	cutoff := time.Now().Add(-d.idleTimeout)

	d.mu.Lock()
	defer d.mu.Unlock()
	for phone, s := range d.sessions {
		s.mu.Lock()
		idle := s.lastActivity.Before(cutoff)
		if idle && s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()
		if idle {
			delete(d.sessions, phone)
			d.logger.Debug("swept idle session", "phone_suffix", lastFour(phone))
		}
	}
}

func lastFour(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return phone[len(phone)-4:]
}
