// Package live pushes fleet changes to map clients over websockets.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/fleetlive/core/channel"
	"github.com/kilianp07/fleetlive/core/model"
	"github.com/kilianp07/fleetlive/core/reconciler"
	"github.com/kilianp07/fleetlive/infra/logger"
)

// Frame types sent to clients.
const (
	FrameSnapshot    = "snapshot"
	FrameState       = "state"
	FramePathCleared = "path_cleared"
	FrameAlert       = "alert"
	FrameChannel     = "channel"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Frame is one JSON message on the live feed.
type Frame struct {
	Type      string                       `json:"type"`
	VehicleID string                       `json:"vehicle_id,omitempty"`
	State     *model.VehicleState          `json:"state,omitempty"`
	Point     *model.PathPoint             `json:"point,omitempty"`
	Vehicles  []model.VehicleState         `json:"vehicles,omitempty"`
	Paths     map[string][]model.PathPoint `json:"paths,omitempty"`
	Message   string                       `json:"message,omitempty"`
	Channel   *channel.HealthStatus        `json:"channel,omitempty"`
	Time      time.Time                    `json:"time"`
}

// Source is the reconciled fleet feeding the hub.
type Source interface {
	List(status model.Status) []model.VehicleState
	Paths() map[string][]model.PathPoint
	Subscribe() <-chan reconciler.Change
	Unsubscribe(ch <-chan reconciler.Change)
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans reconciler changes out to every connected websocket.
type Hub struct {
	src      Source
	health   *channel.Health
	log      logger.Logger
	upgrader websocket.Upgrader
	interval time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub. An empty allowedOrigins accepts any origin. health
// may be nil.
func NewHub(src Source, health *channel.Health, allowedOrigins []string, log logger.Logger) *Hub {
	if log == nil {
		log = logger.New("live")
	}
	h := &Hub{
		src:      src,
		health:   health,
		log:      log,
		interval: 5 * time.Second,
		clients:  make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// Run forwards changes until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	changes := h.src.Subscribe()
	defer h.src.Unsubscribe(changes)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	var last channel.HealthStatus
	if h.health != nil {
		last = h.health.Status()
	}
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ch, ok := <-changes:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(frameFor(ch))
		case <-ticker.C:
			if h.health == nil {
				continue
			}
			st := h.health.Status()
			if st.Connected != last.Connected || st.Stale != last.Stale {
				h.broadcast(Frame{Type: FrameChannel, Channel: &st, Time: time.Now()})
			}
			last = st
		}
	}
}

func frameFor(ch reconciler.Change) Frame {
	f := Frame{VehicleID: ch.VehicleID, State: ch.State, Message: ch.Message, Time: ch.Time}
	switch ch.Kind {
	case reconciler.ChangeState:
		f.Type = FrameState
		if ch.State != nil {
			f.Point = &model.PathPoint{Lat: ch.State.Latitude, Lng: ch.State.Longitude}
		}
	case reconciler.ChangePathCleared:
		f.Type = FramePathCleared
	case reconciler.ChangeAlert:
		f.Type = FrameAlert
	default:
		f.Type = string(ch.Kind)
	}
	return f
}

func (h *Hub) snapshot() Frame {
	f := Frame{
		Type:     FrameSnapshot,
		Vehicles: h.src.List(model.StatusAll),
		Paths:    h.src.Paths(),
		Time:     time.Now(),
	}
	if f.Vehicles == nil {
		f.Vehicles = []model.VehicleState{}
	}
	if h.health != nil {
		st := h.health.Status()
		f.Channel = &st
	}
	return f
}

func (h *Hub) broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.log.Errorf("encode frame: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warnf("live client too slow, disconnecting")
			delete(h.clients, c)
			c.close()
		}
	}
}

// ServeHTTP upgrades the request and streams a snapshot followed by changes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("ws upgrade error: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	data, err := json.Marshal(h.snapshot())
	if err == nil {
		c.send <- data
		h.clients[c] = struct{}{}
	}
	h.mu.Unlock()
	if err != nil {
		h.log.Errorf("encode snapshot: %v", err)
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
