// Package events broadcasts coordination events (lock transitions, window
// lifecycle, registry cleanup) to websocket subscribers for observability.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/browsergate/browsergate/internal/logging"
)

// Event is one coordination-state transition.
type Event struct {
	Type     string                 `json:"type"`
	AgentTag string                 `json:"agent_tag,omitempty"`
	Time     time.Time              `json:"time"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// Event types published by the gateway.
const (
	LockAcquired    = "lock_acquired"
	LockReleased    = "lock_released"
	LockLost        = "lock_lost"
	WindowCreated   = "window_created"
	WindowClosed    = "window_closed"
	RegistryCleaned = "registry_cleaned"
	StartupResolved = "startup_resolved"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local observability endpoint
	},
}

// Hub fans events out to subscribers. Publishing never blocks: a slow
// subscriber drops events rather than stalling a tool call.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	log  *logging.Logger

	onSubscribe   func()
	onUnsubscribe func()
}

// NewHub creates an event hub.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		subs: make(map[chan Event]struct{}),
		log:  log.Component("events"),
	}
}

// OnSubscriberChange installs gauges fired when subscribers come and go.
func (h *Hub) OnSubscriberChange(onSubscribe, onUnsubscribe func()) {
	h.onSubscribe = onSubscribe
	h.onUnsubscribe = onUnsubscribe
}

// Publish sends an event to all current subscribers.
func (h *Hub) Publish(eventType, agentTag string, fields map[string]interface{}) {
	ev := Event{Type: eventType, AgentTag: agentTag, Time: time.Now(), Fields: fields}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber channel.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	if h.onSubscribe != nil {
		h.onSubscribe()
	}
	return ch
}

// Unsubscribe removes a subscriber channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	if h.onUnsubscribe != nil {
		h.onUnsubscribe()
	}
}

// HandleConnection upgrades the request and streams events until the client
// disconnects.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	// Reader goroutine: detect client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
