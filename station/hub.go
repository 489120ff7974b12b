package station

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunterra/fieldrecord/autosave"
	"github.com/sunterra/fieldrecord/connectivity"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

// Message is one push to the page.
type Message struct {
	Type string `json:"type"` // saved | connectivity

	Form  string    `json:"form,omitempty"`
	Key   string    `json:"key,omitempty"`
	Seq   uint64    `json:"seq,omitempty"`
	At    time.Time `json:"at,omitzero"`
	Label string    `json:"label,omitempty"`

	State  string `json:"state,omitempty"`
	Online bool   `json:"online,omitempty"`
}

func savedMessage(form string, ev autosave.Saved) Message {
	return Message{Type: "saved", Form: form, Key: ev.Key, Seq: ev.Seq, At: ev.At, Label: ev.Label()}
}

func connectivityMessage(st connectivity.State) Message {
	return Message{Type: "connectivity", State: st.String(), Online: st.Online()}
}

// inbound is what the page sends: its network and visibility signals.
type inbound struct {
	Type  string `json:"type"` // event
	Event string `json:"event"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans station events out to every connected page and feeds the
// page's signals back into the connectivity monitor.
type Hub struct {
	upgrader websocket.Upgrader
	feed     *connectivity.Feed
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub returns a Hub publishing page signals to feed.
func NewHub(feed *connectivity.Feed, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		feed:     feed,
		logger:   logger,
		clients:  make(map[*client]struct{}),
	}
}

// Broadcast sends msg to every client. A client whose buffer is full is
// dropped rather than blocking the others.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("hub: marshal", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("hub: slow client dropped", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected pages.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("hub: upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("hub: client gone", "error", err)
			}
			return
		}
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type != "event" {
			h.logger.Debug("hub: ignoring message", "data", string(data))
			continue
		}
		kind, err := connectivity.ParseEventKind(in.Event)
		if err != nil {
			h.logger.Debug("hub: ignoring event", "error", err)
			continue
		}
		if h.feed != nil {
			h.feed.Publish(kind)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}
