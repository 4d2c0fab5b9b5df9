package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"qr-shutter-pi/pkg/camera"
)

const (
	writeWait  = 5 * time.Second
	clientSend = 16
)

// Message is one event pushed to websocket clients.
type Message struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Values       []int `json:"values,omitempty"`
	DefaultIndex *int  `json:"defaultIndex,omitempty"`

	Severity string `json:"severity,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	MessageFound         = "found"
	MessageIsoRange      = "isoRange"
	MessageExposureRange = "exposureRange"
	MessageNotice        = "notice"
)

// Hub implements camera.Listener by fanning events out to websocket clients.
// It also remembers the latest ranges and symbol for the REST API.
type Hub struct {
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	clients   map[*client]struct{}
	found     string
	foundAt   time.Time
	isos      camera.SupportedRange
	exposures camera.SupportedRange
	notices   []camera.Notice
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*client]struct{}),
		isos:      camera.SupportedRange{DefaultIndex: -1},
		exposures: camera.SupportedRange{DefaultIndex: -1},
	}
}

func (h *Hub) OnFound(text string) {
	h.mu.Lock()
	h.found = text
	h.foundAt = time.Now()
	h.mu.Unlock()

	h.broadcast(Message{Type: MessageFound, Text: text})
}

func (h *Hub) OnExposureRangeLoaded(divisors []int, defaultIndex int) {
	h.mu.Lock()
	h.exposures = camera.SupportedRange{Values: divisors, DefaultIndex: defaultIndex}
	h.mu.Unlock()

	h.broadcast(Message{Type: MessageExposureRange, Values: divisors, DefaultIndex: &defaultIndex})
}

func (h *Hub) OnIsoRangeLoaded(values []int, defaultIndex int) {
	h.mu.Lock()
	h.isos = camera.SupportedRange{Values: values, DefaultIndex: defaultIndex}
	h.mu.Unlock()

	h.broadcast(Message{Type: MessageIsoRange, Values: values, DefaultIndex: &defaultIndex})
}

func (h *Hub) OnNotice(n camera.Notice) {
	if n.Severity == camera.SeverityFatal {
		logger.Errorf("camera: %s", n)
	} else {
		logger.Warnf("camera: %s", n)
	}
	h.mu.Lock()
	h.notices = append(h.notices, n)
	if len(h.notices) > 20 {
		h.notices = h.notices[1:]
	}
	h.mu.Unlock()

	msg := Message{Type: MessageNotice, Severity: n.Severity.String(), Message: n.Message}
	if n.Err != nil {
		msg.Error = n.Err.Error()
	}
	h.broadcast(msg)
}

// Found returns the last decoded text and when it was seen.
func (h *Hub) Found() (string, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.found, h.foundAt
}

func (h *Hub) Ranges() (iso, exposure camera.SupportedRange) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isos, h.exposures
}

func (h *Hub) Notices() []camera.Notice {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]camera.Notice(nil), h.notices...)
}

// broadcast never blocks; a client that cannot keep up is dropped.
func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("marshal %s message: %s", msg.Type, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			logger.Warnf("websocket client %s too slow, dropping it", c.conn.RemoteAddr())
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ServeHTTP upgrades the request and streams messages until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("upgrade websocket connection from %s: %s", r.RemoteAddr, err)
		return
	}
	logger.Infof("websocket connection established from: %s", r.RemoteAddr)

	c := &client{conn: conn, send: make(chan []byte, clientSend)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	logger.Infof("websocket connection from %s closed", r.RemoteAddr)
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Warnf("write websocket message: %s", err)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
