// Package stream publishes live run progress to websocket clients and
// relays their pause and stop commands back to the run.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/san-kum/partsim/internal/logging"
)

const writeWait = 2 * time.Second

// Frame is one progress snapshot. The final frame of a run has Done set.
type Frame struct {
	Step   int                `json:"step"`
	Time   float64            `json:"time"`
	Values map[string]float64 `json:"values,omitempty"`
	Paused bool               `json:"paused,omitempty"`
	Done   bool               `json:"done,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Command is a client request. Pause toggles only when present.
type Command struct {
	Pause *bool `json:"pause,omitempty"`
	Stop  bool  `json:"stop,omitempty"`
}

// Hub fans frames out to every connected client. New clients first
// receive the most recent frame.
type Hub struct {
	upgrader  websocket.Upgrader
	onCommand func(Command)

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
	last    []byte
	closed  bool
}

func NewHub(onCommand func(Command)) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		onCommand: onCommand,
		clients:   make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger().Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	// Hold the write lock until the snapshot is out so a concurrent
	// broadcast cannot overtake it.
	wmu := &sync.Mutex{}
	wmu.Lock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		wmu.Unlock()
		return
	}
	h.clients[conn] = wmu
	last := h.last
	h.mu.Unlock()
	defer h.remove(conn)

	if last != nil {
		err = write(conn, last)
	}
	wmu.Unlock()
	if err != nil {
		return
	}

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Logger().Debug("websocket read", "err", err)
			}
			return
		}
		if h.onCommand != nil {
			h.onCommand(cmd)
		}
	}
}

func write(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// Broadcast encodes v once, remembers it as the latest snapshot and sends
// it to every client. Clients that fail the write are dropped.
func (h *Hub) Broadcast(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.last = data
	clients := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for c, m := range h.clients {
		clients[c] = m
	}
	h.mu.Unlock()

	var failed []*websocket.Conn
	for client, mutex := range clients {
		mutex.Lock()
		err := write(client, data)
		mutex.Unlock()
		if err != nil {
			logging.Logger().Debug("websocket write", "err", err)
			client.Close()
			failed = append(failed, client)
		}
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, client := range failed {
			delete(h.clients, client)
		}
		h.mu.Unlock()
	}
	return nil
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Last returns the most recent broadcast, or nil.
func (h *Hub) Last() json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// StatusHandler reports the client count and latest frame as JSON.
func (h *Hub) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Clients int             `json:"clients"`
			Last    json.RawMessage `json:"last,omitempty"`
		}{Clients: h.Clients(), Last: h.Last()}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})
}

// Close sends a close frame to every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing")
	for client, mutex := range clients {
		mutex.Lock()
		client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		mutex.Unlock()
		client.Close()
	}
}
