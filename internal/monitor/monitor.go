package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 128
	writeTimeout     = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame is one command observed by the hub.
type Frame struct {
	Dir     string    `json:"dir"` // "in" from a stage, "out" to a stage
	Stage   string    `json:"stage"`
	Command string    `json:"command"`
	At      time.Time `json:"at"`
}

// Broadcaster fans hub traffic out to websocket subscribers. Publish never
// blocks; a subscriber that falls behind loses frames. Nil-safe.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[chan Frame]struct{}
	maxSubs int
}

// NewBroadcaster creates a broadcaster that admits at most maxSubs
// concurrent subscribers.
func NewBroadcaster(maxSubs int) *Broadcaster {
	if maxSubs <= 0 {
		maxSubs = 16
	}
	return &Broadcaster{subs: map[chan Frame]struct{}{}, maxSubs: maxSubs}
}

// Publish delivers f to every subscriber that has room for it.
func (b *Broadcaster) Publish(f Frame) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

func (b *Broadcaster) subscribe() (chan Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) >= b.maxSubs {
		return nil, false
	}
	ch := make(chan Frame, subscriberBuffer)
	b.subs[ch] = struct{}{}
	return ch, true
}

func (b *Broadcaster) unsubscribe(ch chan Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, ch)
}

// Subscribers returns the number of connected subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// ServeHTTP upgrades the connection and streams frames as JSON text messages
// until the client goes away. Returns 503 at subscriber capacity.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, ok := b.subscribe()
	if !ok {
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}
	defer b.unsubscribe(ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	for {
		select {
		case <-closed:
			return
		case f := <-ch:
			data, err := json.Marshal(f)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err = conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Info("monitor subscriber gone", "error", err)
				return
			}
		}
	}
}

// readUntilClosed consumes control frames so close and ping are handled.
func readUntilClosed(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
