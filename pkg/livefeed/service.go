// Package livefeed broadcasts stored readings to websocket clients.
package livefeed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/NotCoffee418/p1_logger/pkg/reading"
	"github.com/gorilla/websocket"
)

const (
	// Readings a client may fall behind before it is dropped.
	sendQueueSize = 16
	writeTimeout  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only feed, any dashboard may attach
	},
}

// client owns one connection. Only its write loop writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

type Hub struct {
	logger *slog.Logger

	clientsMu sync.RWMutex
	clients   map[*client]bool

	latestMu sync.RWMutex
	latest   []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]bool),
	}
}

func (h *Hub) Name() string {
	return "livefeed"
}

// Observe remembers rec as the latest reading and queues it for every
// client. It never waits on the network; clients whose queue is full are
// dropped.
func (h *Hub) Observe(rec reading.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	h.latestMu.Lock()
	h.latest = data
	h.latestMu.Unlock()

	var slow []*client
	h.clientsMu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.clientsMu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping live feed client that stopped reading")
		h.removeClient(c)
	}
	return nil
}

func (h *Hub) Latest() []byte {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	return h.latest
}

func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "P1 Logger live feed",
			"status":  "running",
		})
	})

	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		latest := h.Latest()
		if latest == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "No readings available yet",
			})
			return
		}
		w.Write(latest)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", "err", err)
			return
		}

		c := newClient(conn)
		// Send current reading immediately if available
		if latest := h.Latest(); latest != nil {
			c.send <- latest
		}
		h.addClient(c)
		go h.writeLoop(c)

		// Keep connection alive until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.removeClient(c)
				return
			}
		}
	})

	return mux
}

func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.removeClient(c)
				return
			}
		}
	}
}

func (h *Hub) addClient(c *client) {
	h.clientsMu.Lock()
	h.clients[c] = true
	h.clientsMu.Unlock()
}

func (h *Hub) removeClient(c *client) {
	h.clientsMu.Lock()
	delete(h.clients, c)
	h.clientsMu.Unlock()
	c.close()
}
