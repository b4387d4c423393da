package hub

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// serveConn upgrades one request and hands the wrapped Conn to the test.
func serveConn(t *testing.T, cfg *ConnConfig) (*Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- NewConn(ws, cfg, testLogger())
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case c := <-connCh:
		t.Cleanup(func() { c.Close() })
		return c, client
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil, nil
	}
}

func TestConnSendPreservesOrderAndFrameType(t *testing.T) {
	c, client := serveConn(t, nil)

	if c.State() != StateOpen {
		t.Fatalf("State() = %v, want open", c.State())
	}

	if err := c.Send(Text("one")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.Send(Binary([]byte{1, 2, 3})); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if c.State() != StateActive {
		t.Errorf("State() = %v after send, want active", c.State())
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := client.ReadMessage()
	if err != nil || mt != websocket.TextMessage || string(data) != "one" {
		t.Fatalf("first frame = (%d, %q, %v), want text \"one\"", mt, data, err)
	}
	mt, data, err = client.ReadMessage()
	if err != nil || mt != websocket.BinaryMessage || len(data) != 3 {
		t.Fatalf("second frame = (%d, %v, %v), want 3-byte binary", mt, data, err)
	}
}

func TestConnReadMessage(t *testing.T) {
	c, client := serveConn(t, nil)

	if err := client.WriteMessage(websocket.BinaryMessage, []byte("edit")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !msg.Binary || string(msg.Data) != "edit" {
		t.Errorf("ReadMessage() = %+v, want binary \"edit\"", msg)
	}
	if c.BytesReceived() != 4 {
		t.Errorf("BytesReceived() = %d, want 4", c.BytesReceived())
	}
}

func TestConnReadLimit(t *testing.T) {
	cfg := DefaultConnConfig()
	cfg.MaxMessageSize = 8
	c, client := serveConn(t, cfg)

	client.WriteMessage(websocket.BinaryMessage, make([]byte, 64))
	if _, err := c.ReadMessage(); err == nil {
		t.Fatal("oversized frame should fail the read")
	}
}

func TestConnSendAfterClose(t *testing.T) {
	c, _ := serveConn(t, nil)

	if err := c.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	c.Close()

	err := c.Send(Text("late"))
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Send after Close = %v, want ErrConnectionClosed", err)
	}
	var se *SendError
	if !errors.As(err, &se) || se.ConnID != c.ID() {
		t.Errorf("error should carry the connection ID, got %v", err)
	}
	if c.IsOpen() {
		t.Error("IsOpen() should be false after Close")
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done() should be closed")
	}
}

func TestConnSendQueueFull(t *testing.T) {
	cfg := DefaultConnConfig()
	cfg.SendQueueSize = 1
	c := &Conn{
		id:     "queue",
		config: cfg,
		send:   make(chan Message, cfg.SendQueueSize),
		done:   make(chan struct{}),
	}

	if err := c.Send(Text("a")); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := c.Send(Text("b")); !errors.Is(err, ErrSendQueueFull) {
		t.Errorf("second Send = %v, want ErrSendQueueFull", err)
	}
}

func TestConnConfigWithDefaults(t *testing.T) {
	defaults := DefaultConnConfig()

	if got := (*ConnConfig)(nil).WithDefaults(); *got != *defaults {
		t.Errorf("nil.WithDefaults() = %+v, want %+v", got, defaults)
	}

	partial := &ConnConfig{MaxMessageSize: 1 << 20}
	got := partial.WithDefaults()
	if got.MaxMessageSize != 1<<20 {
		t.Errorf("MaxMessageSize = %d, want %d", got.MaxMessageSize, 1<<20)
	}
	if got.SendQueueSize != defaults.SendQueueSize ||
		got.WriteTimeout != defaults.WriteTimeout ||
		got.ReadTimeout != defaults.ReadTimeout ||
		got.HeartbeatInterval != defaults.HeartbeatInterval {
		t.Errorf("WithDefaults() = %+v, want zero fields from %+v", got, defaults)
	}
	if partial.SendQueueSize != 0 {
		t.Error("WithDefaults() mutated the receiver")
	}

	short := (&ConnConfig{ReadTimeout: 10 * time.Second}).WithDefaults()
	if short.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 5s below ReadTimeout", short.HeartbeatInterval)
	}

	explicit := (&ConnConfig{ReadTimeout: 10 * time.Second, HeartbeatInterval: 8 * time.Second}).WithDefaults()
	if explicit.HeartbeatInterval != 8*time.Second {
		t.Errorf("HeartbeatInterval = %v, want explicit 8s kept", explicit.HeartbeatInterval)
	}
}

func TestNewConnPartialConfig(t *testing.T) {
	c, client := serveConn(t, &ConnConfig{MaxMessageSize: 1 << 20})

	if err := c.Send(Text("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := client.ReadMessage()
	if err != nil || mt != websocket.TextMessage || string(data) != "hello" {
		t.Fatalf("frame = (%d, %q, %v), want text \"hello\"", mt, data, err)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateOpen:   "open",
		StateActive: "active",
		StateClosed: "closed",
		State(42):   "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
