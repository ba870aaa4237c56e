package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"somnia.ai/internal/protocol"
	"somnia.ai/internal/sim/engine"
	"somnia.ai/internal/sim/events"
)

type staticSource struct{ st engine.Status }

func (s staticSource) Status() engine.Status { return s.st }

func read(t *testing.T, conn *websocket.Conn) (string, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return base.Type, msg
}

func TestStream_StatusThenEvents(t *testing.T) {
	bc := NewBroadcaster()
	src := staticSource{engine.Status{Tick: 7, TickRateHz: 20}}
	srv := httptest.NewServer(NewServer(src, bc, Options{StatusEvery: time.Hour}).WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	typ, msg := read(t, conn)
	if typ != protocol.TypeStatus {
		t.Fatalf("first message: got %s want STATUS", typ)
	}
	var sm struct {
		Status engine.Status `json:"status"`
	}
	if err := json.Unmarshal(msg, &sm); err != nil || sm.Status.Tick != 7 {
		t.Fatalf("status: got %+v,%v", sm.Status, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for bc.Observers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	bc.Publish(events.Event{ID: "e1", Type: events.TypeGroupFormed, Tick: 20, Kind: "ritual", GroupID: "ritual-1"})

	typ, msg = read(t, conn)
	if typ != protocol.TypeEvent {
		t.Fatalf("got %s want EVENT", typ)
	}
	var em struct {
		Event events.Event `json:"event"`
	}
	if err := json.Unmarshal(msg, &em); err != nil || em.Event.GroupID != "ritual-1" || em.Event.Type != events.TypeGroupFormed {
		t.Fatalf("event: got %+v,%v", em.Event, err)
	}
}

func TestBroadcaster_NeverBlocks(t *testing.T) {
	bc := NewBroadcaster()
	ch := make(chan []byte, 1)
	bc.join("o1", ch)
	bc.Publish(events.Event{Type: events.TypeGroupDissolved})
	bc.Publish(events.Event{Type: events.TypeGroupDissolved})
	if bc.Dropped() != 1 || len(ch) != 1 {
		t.Fatalf("dropped=%d queued=%d want 1,1", bc.Dropped(), len(ch))
	}
	bc.leave("o1")
	bc.Publish(events.Event{Type: events.TypeGroupDissolved})
	if bc.Dropped() != 1 {
		t.Fatalf("publish after leave touched the queue")
	}
}

func TestStatusHandler(t *testing.T) {
	s := NewServer(staticSource{engine.Status{Tick: 3, Qualifying: 2}}, NewBroadcaster(), Options{LoopbackOnly: true})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/status", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	s.StatusHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code: got %d want 200", rec.Code)
	}
	var st engine.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || st.Tick != 3 || st.Qualifying != 2 {
		t.Fatalf("body: got %+v,%v", st, err)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/debug/status", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	s.StatusHandler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote: got %d want 403", rec.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80":   true,
		"[::1]:9000":     true,
		"10.0.0.2:80":    false,
		"not-an-address": false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
