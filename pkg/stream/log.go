// Package stream implements the per-session event log and its delivery
// protocol: every state transition of a session's conversation machine
// is appended here as a sequence-numbered event, retained in a bounded
// window for replay, and pushed to at most one live subscriber.
//
// Delivery is at-least-once per connection lifetime. A client that
// reconnects with the sequence number of the last event it acknowledged
// never misses an event and may at most re-receive unacknowledged ones.
// Publishing never blocks on a slow or absent subscriber: a subscriber
// that cannot keep up with the retention buffer is detached and expected
// to reconnect with its last acknowledged sequence number.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avannotate/pipechat/pkg/domain"
)

// DefaultRetention is the number of events kept for replay per session.
const DefaultRetention = 256

// Log is one session's append-only, sequence-numbered event log.
type Log struct {
	mu        sync.Mutex
	sessionID string
	retain    int
	seq       uint64
	buf       []domain.Event
	sub       *subscriber
	closed    bool
	logger    *slog.Logger
}

type subscriber struct {
	ch   chan domain.Event
	done chan struct{}
}

// Option configures a Log.
type Option func(*Log)

// WithRetention bounds the replay window. Values below 1 keep the default.
func WithRetention(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.retain = n
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// NewLog creates an empty log for a session.
func NewLog(sessionID string, opts ...Option) *Log {
	l := &Log{
		sessionID: sessionID,
		retain:    DefaultRetention,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append publishes an event: it assigns the next sequence number,
// stamps it, retains it for replay, and forwards it to the live
// subscriber if one is attached. Oldest events beyond the retention
// window are evicted. Appending to a closed log fails.
func (l *Log) Append(kind domain.EventKind, data map[string]any) (domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return domain.Event{}, domain.ErrStreamClosed
	}

	ev := l.nextLocked(kind, data)
	l.retainLocked(ev)
	l.forwardLocked(ev)
	return ev, nil
}

// Close appends the terminal close event, delivers it, and ends the
// subscription. Further Append and Subscribe calls fail.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true

	ev := l.nextLocked(domain.EventClose, map[string]any{"reason": "session closed"})
	l.retainLocked(ev)
	l.forwardLocked(ev)
	l.detachLocked()
}

// Subscribe returns an ordered stream of events with sequence numbers
// greater than fromSeq. Events still in the retention window are
// replayed first; live events follow on the same channel with no gap
// and no duplicate. If fromSeq predates the retention window the first
// event delivered is a log_truncated error event (sequence 0, a control
// event outside the log) followed by everything still retained; the
// client is expected to re-fetch a full graph snapshot.
//
// At most one subscriber is active per session; a new call supersedes
// the previous subscription, whose channel is closed. Cancelling ctx
// detaches the subscriber.
func (l *Log) Subscribe(ctx context.Context, fromSeq uint64) (<-chan domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, domain.ErrStreamClosed
	}

	l.detachLocked()

	truncated := len(l.buf) > 0 && fromSeq+1 < l.buf[0].Seq
	var replay []domain.Event
	for _, ev := range l.buf {
		if ev.Seq > fromSeq {
			replay = append(replay, ev)
		}
	}

	ch := make(chan domain.Event, len(replay)+l.retain+2)
	if truncated {
		l.logger.Warn("subscriber behind retention window",
			"session_id", l.sessionID,
			"from_seq", fromSeq,
			"oldest_retained", l.buf[0].Seq,
		)
		ch <- domain.Event{
			Type: domain.EventLogTruncated,
			Data: map[string]any{
				"requested": fromSeq,
				"oldest":    l.buf[0].Seq,
			},
			Timestamp: time.Now().UTC(),
			SessionID: l.sessionID,
		}
	}
	for _, ev := range replay {
		ch <- ev
	}

	sub := &subscriber{ch: ch, done: make(chan struct{})}
	l.sub = sub

	// The watcher exits when the subscription ends either way: ctx
	// cancellation detaches, and detaching (supersede, slow-consumer
	// eviction, Close) releases the watcher.
	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.sub == sub {
				l.detachLocked()
			}
		case <-sub.done:
		}
	}()

	return ch, nil
}

// Seq returns the sequence number of the most recently published event.
func (l *Log) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Events returns a copy of the retained window, oldest first.
func (l *Log) Events() []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Event, len(l.buf))
	copy(out, l.buf)
	return out
}

func (l *Log) nextLocked(kind domain.EventKind, data map[string]any) domain.Event {
	l.seq++
	if data == nil {
		data = map[string]any{}
	}
	return domain.Event{
		Seq:       l.seq,
		Type:      kind,
		Data:      data,
		Timestamp: time.Now().UTC(),
		SessionID: l.sessionID,
	}
}

func (l *Log) retainLocked(ev domain.Event) {
	l.buf = append(l.buf, ev)
	if len(l.buf) > l.retain {
		l.buf = l.buf[len(l.buf)-l.retain:]
	}
}

// forwardLocked pushes the event to the live subscriber without ever
// blocking. A subscriber whose buffer is full has fallen behind the
// retention window it was sized for; it is detached and must reconnect.
func (l *Log) forwardLocked(ev domain.Event) {
	if l.sub == nil {
		return
	}
	select {
	case l.sub.ch <- ev:
	default:
		l.logger.Warn("subscriber too slow, detaching", "session_id", l.sessionID, "seq", ev.Seq)
		l.detachLocked()
	}
}

func (l *Log) detachLocked() {
	if l.sub != nil {
		close(l.sub.ch)
		close(l.sub.done)
		l.sub = nil
	}
}
