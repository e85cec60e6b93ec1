// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type failingTransport struct{ err error }

func (f failingTransport) Send(any) error { return f.err }
func (f failingTransport) Close() error   { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	lt := NewLoggingTransport()
	m := Multi{lt, failingTransport{errA}, failingTransport{errB}}

	err := m.Send(map[string]int{"x": 1})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Send() = %v, want both errors", err)
	}
	if lt.Sent() != 1 {
		t.Errorf("logging transport saw %d results, want 1", lt.Sent())
	}
	if err := (Multi{lt}).Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestLoggingTransportUnmarshalable(t *testing.T) {
	lt := NewLoggingTransport()
	if err := lt.Send(make(chan int)); err != nil {
		t.Errorf("Send(chan) = %v, want nil", err)
	}
}

func dial(t *testing.T, wst *WebSocketTransport) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+wst.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for wst.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestWebSocketTransportBroadcast(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("NewWebSocketTransport: %v", err)
	}
	defer wst.Close()

	a, b := dial(t, wst), dial(t, wst)
	for wst.Clients() < 2 {
		time.Sleep(5 * time.Millisecond)
	}

	if err := wst.Send(map[string]any{"type": "level", "peak": 0.5}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, c := range []*websocket.Conn{a, b} {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got map[string]any
		if err := c.ReadJSON(&got); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if got["type"] != "level" || got["peak"] != 0.5 {
			t.Errorf("received %v", got)
		}
	}
}

func TestWebSocketTransportExtraRoutes(t *testing.T) {
	routes := map[string]http.Handler{
		"/metrics": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "ok")
		}),
	}
	wst, err := NewWebSocketTransport("127.0.0.1:0", routes)
	if err != nil {
		t.Fatalf("NewWebSocketTransport: %v", err)
	}
	defer wst.Close()

	resp, err := http.Get("http://" + wst.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
}

func TestWebSocketTransportClosed(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("NewWebSocketTransport: %v", err)
	}
	if err := wst.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := wst.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := wst.Send("x"); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Send after Close = %v, want ErrTransportClosed", err)
	}
}
