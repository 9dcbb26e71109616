package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestBroadcastReachesClients(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	a, b := dial(t, srv), dial(t, srv)
	waitClients(t, h, 2)

	if err := h.Broadcast(Frame{Step: 10, Time: 0.1, Values: map[string]float64{"kinetic": 1.5}}); err != nil {
		t.Fatal(err)
	}
	for _, conn := range []*websocket.Conn{a, b} {
		f := readFrame(t, conn)
		if f.Step != 10 || f.Values["kinetic"] != 1.5 {
			t.Errorf("frame = %+v", f)
		}
	}
}

func TestNewClientGetsLastFrame(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	h.Broadcast(Frame{Step: 1})
	h.Broadcast(Frame{Step: 2})

	conn := dial(t, srv)
	if f := readFrame(t, conn); f.Step != 2 {
		t.Errorf("first frame step = %d, want 2", f.Step)
	}
}

func TestCommandsReachCallback(t *testing.T) {
	got := make(chan Command, 2)
	h := NewHub(func(c Command) { got <- c })
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"pause":true}`)); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(Command{Stop: true}); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Pause == nil || !*c.Pause || c.Stop {
			t.Errorf("first command = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no command")
	}
	select {
	case c := <-got:
		if c.Pause != nil || !c.Stop {
			t.Errorf("second command = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stop command")
	}
}

func TestDisconnectedClientIsRemoved(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)
	conn.Close()
	waitClients(t, h, 0)
}

func TestStatusHandler(t *testing.T) {
	h := NewHub(nil)
	h.Broadcast(Frame{Step: 7, Done: true})

	rec := httptest.NewRecorder()
	h.StatusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var status struct {
		Clients int   `json:"clients"`
		Last    Frame `json:"last"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Clients != 0 || status.Last.Step != 7 || !status.Last.Done {
		t.Errorf("status = %+v", status)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)
	h.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after close: %v", err)
	}
	if h.Clients() != 0 {
		t.Errorf("clients = %d", h.Clients())
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Error("closed hub accepted a client")
	}
}
