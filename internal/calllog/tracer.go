package calllog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/calldb"
)

const maxCommandLen = 500

// Store is the persistence the tracer writes to.
type Store interface {
	CreateSession(ctx context.Context, id, remoteURI string, at time.Time) error
	EndSession(ctx context.Context, id string, at time.Time) error
	AppendEvent(ctx context.Context, ev calldb.Event) error
}

type logMsg struct {
	kind string // "session_start", "session_end", "event"
	id   string
	uri  string
	at   time.Time
	ev   calldb.Event
}

// Tracer writes the log of the current call asynchronously via a buffered
// channel so the hub loop never waits on storage. All methods are nil-safe.
type Tracer struct {
	store Store
	ch    chan logMsg
	done  chan struct{}

	// Owned by the hub goroutine.
	sessionID string
	seq       int
}

// NewTracer starts the background writer. Must call Close when done.
func NewTracer(store Store) *Tracer {
	t := &Tracer{
		store: store,
		ch:    make(chan logMsg, 256),
		done:  make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m logMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handlers := map[string]func() error{
		"session_start": func() error { return t.store.CreateSession(ctx, m.id, m.uri, m.at) },
		"session_end":   func() error { return t.store.EndSession(ctx, m.id, m.at) },
		"event":         func() error { return t.store.AppendEvent(ctx, m.ev) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("call log write failed", "kind", m.kind, "error", err)
	}
}

// send never blocks the caller; a full buffer drops the record.
func (t *Tracer) send(m logMsg) {
	select {
	case t.ch <- m:
	default:
		slog.Warn("call log buffer full, dropping record", "kind", m.kind)
	}
}

// Start opens a log session for an incoming call and returns its ID. A
// session still open is ended first.
func (t *Tracer) Start(remoteURI string, at time.Time) string {
	if t == nil {
		return ""
	}
	if t.sessionID != "" {
		t.End(at)
	}
	t.sessionID = uuid.NewString()
	t.seq = 0
	t.send(logMsg{kind: "session_start", id: t.sessionID, uri: remoteURI, at: at})
	return t.sessionID
}

// Record appends a command to the open session. Commands outside a session
// are only written to the system log.
func (t *Tracer) Record(direction, stage, cmd string, at time.Time) {
	if t == nil || t.sessionID == "" {
		return
	}
	t.send(logMsg{kind: "event", ev: calldb.Event{
		SessionID: t.sessionID,
		Seq:       t.seq,
		At:        at,
		Direction: direction,
		Stage:     stage,
		Command:   truncate(cmd, maxCommandLen),
	}})
	t.seq++
}

// End closes the open session, if any.
func (t *Tracer) End(at time.Time) {
	if t == nil || t.sessionID == "" {
		return
	}
	t.send(logMsg{kind: "session_end", id: t.sessionID, at: at})
	t.sessionID = ""
}

// SessionID returns the open session, or "".
func (t *Tracer) SessionID() string {
	if t == nil {
		return ""
	}
	return t.sessionID
}

// Close drains pending writes and shuts down the background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
