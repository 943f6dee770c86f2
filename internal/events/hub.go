// Package events streams pipeline progress to websocket subscribers
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"botforge/internal/logging"
)

// Event types
const (
	TypeConnected      = "connection:established"
	TypeRunStarted     = "run:started"
	TypeStageStarted   = "stage:started"
	TypeStageCompleted = "stage:completed"
	TypeRunCompleted   = "run:completed"
)

const (
	historyPerRun = 64
	historyRuns   = 128
	sendBuffer    = 256
)

// Event is one progress message for a run
type Event struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id"`
	Stage     string         `json:"stage,omitempty"`
	Status    string         `json:"status,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher accepts progress events
type Publisher interface {
	Publish(ev *Event)
}

// Hub fans events out to the websocket connections subscribed to each run and
// keeps a short per-run history so late subscribers can catch up.
type Hub struct {
	connections map[string]map[*conn]bool
	history     *lru.Cache[string, []*Event]
	broadcast   chan *Event
	register    chan *conn
	unregister  chan *conn
	stop        chan struct{}
	stopOnce    sync.Once
	upgrader    websocket.Upgrader
}

type conn struct {
	hub       *Hub
	ws        *websocket.Conn
	runID     string
	send      chan []byte
	closeOnce sync.Once
}

// NewHub starts a hub. An empty allowedOrigins accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	history, _ := lru.New[string, []*Event](historyRuns)
	h := &Hub{
		connections: make(map[string]map[*conn]bool),
		history:     history,
		broadcast:   make(chan *Event, 256),
		register:    make(chan *conn),
		unregister:  make(chan *conn),
		stop:        make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if allowed == origin || allowed == "*" {
					return true
				}
			}
			return false
		},
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.stop:
			for _, conns := range h.connections {
				for c := range conns {
					c.closeSend()
				}
			}
			return

		case c := <-h.register:
			if h.connections[c.runID] == nil {
				h.connections[c.runID] = make(map[*conn]bool)
			}
			h.connections[c.runID][c] = true
			if past, ok := h.history.Get(c.runID); ok {
				for _, ev := range past {
					c.enqueue(ev)
				}
			}

		case c := <-h.unregister:
			if conns, ok := h.connections[c.runID]; ok {
				if _, ok := conns[c]; ok {
					delete(conns, c)
					c.closeSend()
				}
				if len(conns) == 0 {
					delete(h.connections, c.runID)
				}
			}

		case ev := <-h.broadcast:
			past, _ := h.history.Get(ev.RunID)
			past = append(past, ev)
			if len(past) > historyPerRun {
				past = past[len(past)-historyPerRun:]
			}
			h.history.Add(ev.RunID, past)

			for c := range h.connections[ev.RunID] {
				if !c.enqueue(ev) {
					delete(h.connections[ev.RunID], c)
					c.closeSend()
				}
			}
		}
	}
}

// Publish queues ev for delivery. It never blocks the pipeline; when the
// queue is full the event is dropped.
func (h *Hub) Publish(ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- ev:
	case <-h.stop:
	default:
		logging.L().Warn("event queue full, dropping event", zap.String("run_id", ev.RunID), zap.String("type", ev.Type))
	}
}

// History returns the retained events for a run
func (h *Hub) History(runID string) []*Event {
	past, _ := h.history.Get(runID)
	return append([]*Event(nil), past...)
}

// Close disconnects every subscriber and stops the hub
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// HandleWebSocket upgrades GET /api/runs/:id/events
func (h *Hub) HandleWebSocket(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run id is required"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L().Warn("websocket upgrade failed", zap.String("run_id", runID), zap.Error(err))
		return
	}

	cn := &conn{hub: h, ws: ws, runID: runID, send: make(chan []byte, sendBuffer)}
	cn.enqueue(&Event{Type: TypeConnected, RunID: runID, Timestamp: time.Now().UTC()})

	select {
	case h.register <- cn:
	case <-h.stop:
		ws.Close()
		return
	}

	go cn.writePump()
	go cn.readPump()
}

func (c *conn) enqueue(ev *Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.L().Warn("failed to marshal event", zap.Error(err))
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *conn) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *conn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains control frames; subscribers do not send commands
func (c *conn) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.L().Debug("websocket closed", zap.String("run_id", c.runID), zap.Error(err))
			}
			return
		}
	}
}

// Discard is a Publisher that drops every event
type Discard struct{}

func (Discard) Publish(*Event) {}
