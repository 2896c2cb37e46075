package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type EventStatus string

const (
	EventSending   EventStatus = "sending"
	EventAnalyzing EventStatus = "analyzing"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// Event reports the lifecycle of one analysis request. ThreadID is empty
// while a new thread is still being created.
type Event struct {
	ProjectID int64       `json:"project_id"`
	ThreadID  string      `json:"thread_id,omitempty"`
	Status    EventStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	At        time.Time   `json:"at"`
}

const subscriberBuffer = 16

// EventHub fans analysis events out to websocket subscribers of a project.
type EventHub struct {
	mu   sync.Mutex
	subs map[int64]map[chan Event]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[int64]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for projectID and a function that
// removes the subscription.
func (h *EventHub) Subscribe(projectID int64) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[projectID] == nil {
		h.subs[projectID] = make(map[chan Event]struct{})
	}
	h.subs[projectID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[projectID], ch)
			if len(h.subs[projectID]) == 0 {
				delete(h.subs, projectID)
			}
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every subscriber of its project. Slow subscribers
// miss events rather than block the request path.
func (h *EventHub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.ProjectID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

const (
	eventsWriteWait    = 10 * time.Second
	eventsPingInterval = 20 * time.Second
	eventsPongWait     = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := pathID(w, r, "projectId")
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			requestLogger(r.Context()).Debug("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		events, unsubscribe := deps.Events.Subscribe(projectID)
		defer unsubscribe()

		deps.Metrics.subscribers.Inc()
		defer deps.Metrics.subscribers.Dec()

		// The read loop only services control frames and notices the close.
		closed := make(chan struct{})
		conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(eventsPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				return
			case ev := <-events:
				conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					requestLogger(r.Context()).Debug("websocket write failed", "error", err)
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
					return
				}
			}
		}
	}
}
