package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-dev/collab/pkg/assistant"
	"github.com/vango-dev/collab/pkg/hub"
	"github.com/vango-dev/collab/pkg/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePeer records what the endpoint sends and replays a scripted inbox.
type fakePeer struct {
	id     string
	inbox  chan hub.Message
	out    chan hub.Message
	closed atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(id string) *fakePeer {
	return &fakePeer{
		id:    id,
		inbox: make(chan hub.Message, 16),
		out:   make(chan hub.Message, 64),
		done:  make(chan struct{}),
	}
}

func (p *fakePeer) ID() string   { return p.id }
func (p *fakePeer) IsOpen() bool { return !p.closed.Load() }

func (p *fakePeer) Send(msg hub.Message) error {
	if p.closed.Load() {
		return hub.ErrConnectionClosed
	}
	p.out <- msg
	return nil
}

func (p *fakePeer) ReadMessage() (hub.Message, error) {
	select {
	case msg, ok := <-p.inbox:
		if !ok {
			return hub.Message{}, io.EOF
		}
		return msg, nil
	case <-p.done:
		return hub.Message{}, hub.ErrConnectionClosed
	}
}

func (p *fakePeer) Close() error {
	p.closed.Store(true)
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func (p *fakePeer) await(t *testing.T) hub.Message {
	t.Helper()
	select {
	case msg := <-p.out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timed out waiting for a frame", p.id)
		return hub.Message{}
	}
}

func (p *fakePeer) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case msg := <-p.out:
		t.Fatalf("%s: unexpected frame %q", p.id, msg.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func newEndpoint(t *testing.T, cfg Config, bus relay.Bus, opts ...Option) *Endpoint {
	t.Helper()
	opts = append(opts, WithRelayConfig(&relay.Config{BackoffMin: 5 * time.Millisecond, BackoffMax: 20 * time.Millisecond}))
	e, err := New(cfg, bus, testLogger(), opts...)
	if err != nil {
		t.Fatalf("New(%s): %v", cfg.Name, err)
	}
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	if r := e.Relay(); r != nil {
		select {
		case <-r.Ready():
		case <-time.After(2 * time.Second):
			t.Fatalf("relay for %s never subscribed", cfg.Name)
		}
	}
	return e
}

func editorConfig() Config {
	return Defaults()[0]
}

func chatConfig() Config {
	return Defaults()[1]
}

func assistantConfig() Config {
	return Defaults()[2]
}

func TestEditorExcludesSender(t *testing.T) {
	e := newEndpoint(t, editorConfig(), nil)
	c1, c2, c3 := newPeer("c1"), newPeer("c2"), newPeer("c3")
	for _, c := range []*fakePeer{c1, c2, c3} {
		e.Registry().Add(c)
	}

	payload := []byte{0x01, 0x02, 0xff}
	e.Handle(context.Background(), c1, hub.Binary(payload))

	for _, c := range []*fakePeer{c2, c3} {
		msg := c.await(t)
		if !msg.Binary || string(msg.Data) != string(payload) {
			t.Errorf("%s received %+v, want binary payload", c.id, msg)
		}
		c.expectNothing(t)
	}
	c1.expectNothing(t)
}

func TestEditorIgnoresTextAndEmptyFrames(t *testing.T) {
	e := newEndpoint(t, editorConfig(), nil)
	c1, c2 := newPeer("c1"), newPeer("c2")
	e.Registry().Add(c1)
	e.Registry().Add(c2)

	e.Handle(context.Background(), c1, hub.Text("hello"))
	e.Handle(context.Background(), c1, hub.Binary(nil))

	c1.expectNothing(t)
	c2.expectNothing(t)
}

func TestChatRelaysAcrossReplicasWithSelfEcho(t *testing.T) {
	bus := relay.NewMemoryBus(0)
	defer bus.Close()

	r1 := newEndpoint(t, chatConfig(), bus)
	r2 := newEndpoint(t, chatConfig(), bus)
	c1, c2 := newPeer("c1"), newPeer("c2")
	r1.Registry().Add(c1)
	r2.Registry().Add(c2)

	r1.Handle(context.Background(), c1, hub.Text("hi there"))

	for _, c := range []*fakePeer{c1, c2} {
		msg := c.await(t)
		if msg.Binary || string(msg.Data) != "hi there" {
			t.Errorf("%s received %+v, want text M", c.id, msg)
		}
		c.expectNothing(t)
	}
}

func TestChatIgnoresBinaryFrames(t *testing.T) {
	bus := relay.NewMemoryBus(0)
	defer bus.Close()

	e := newEndpoint(t, chatConfig(), bus)
	c1 := newPeer("c1")
	e.Registry().Add(c1)

	e.Handle(context.Background(), c1, hub.Binary([]byte{1}))
	c1.expectNothing(t)
}

func TestMalformedEnvelopeRepliesToSenderOnly(t *testing.T) {
	bus := relay.NewMemoryBus(0)
	defer bus.Close()

	r1 := newEndpoint(t, chatConfig(), bus)
	r2 := newEndpoint(t, chatConfig(), bus)
	c1, c2, c3 := newPeer("c1"), newPeer("c2"), newPeer("c3")
	r1.Registry().Add(c1)
	r1.Registry().Add(c2)
	r2.Registry().Add(c3)

	r1.Handle(context.Background(), c1, hub.Text(`{"question": "unterminated`))

	msg := c1.await(t)
	if string(msg.Data) != `{"type":"error","error":"invalid JSON envelope"}` {
		t.Errorf("error reply = %s", msg.Data)
	}
	c1.expectNothing(t)
	c2.expectNothing(t)
	c3.expectNothing(t)
	if !c1.IsOpen() {
		t.Error("sender should stay open after a malformed envelope")
	}
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		in       string
		ok       bool
		session  string
		question string
	}{
		{"plain chat", true, "", ""},
		{"", true, "", ""},
		{`{"session_id":"s1","question":"why?"}`, true, "s1", "why?"},
		{`  {"question":"spaced"}`, true, "", "spaced"},
		{`{"question": 42}`, true, "", ""},
		{`[1, 2, 3]`, true, "", ""},
		{`{"question":`, false, "", ""},
		{`[1, 2`, false, "", ""},
	}
	for _, tt := range tests {
		env, ok := parseEnvelope([]byte(tt.in))
		if ok != tt.ok || env.sessionID != tt.session || env.question != tt.question {
			t.Errorf("parseEnvelope(%q) = (%+v, %v), want (%q, %q, %v)",
				tt.in, env, ok, tt.session, tt.question, tt.ok)
		}
	}
}

type fakeAsker struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *fakeAsker) Ask(_ context.Context, sessionID, question string) ([]byte, error) {
	a.mu.Lock()
	a.calls = append(a.calls, sessionID+"|"+question)
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return []byte(fmt.Sprintf(`{"session_id":%q,"answer":"42"}`, sessionID)), nil
}

func (a *fakeAsker) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func TestAssistantAnswerGoesToSenderOnly(t *testing.T) {
	bus := relay.NewMemoryBus(0)
	defer bus.Close()

	asker := &fakeAsker{}
	e := newEndpoint(t, assistantConfig(), bus, WithAsker(asker))
	c1, c2 := newPeer("c1"), newPeer("c2")
	e.Registry().Add(c1)
	e.Registry().Add(c2)

	question := `{"session_id":"s1","question":"what is it?"}`
	e.Handle(context.Background(), c1, hub.Text(question))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		got[string(c1.await(t).Data)] = true
	}
	if !got[question] || !got[`{"session_id":"s1","answer":"42"}`] {
		t.Errorf("sender frames = %v, want echo and answer", got)
	}
	if msg := c2.await(t); string(msg.Data) != question {
		t.Errorf("other peer received %s, want only the question", msg.Data)
	}
	c2.expectNothing(t)

	if calls := asker.Calls(); len(calls) != 1 || calls[0] != "s1|what is it?" {
		t.Errorf("asker calls = %v", calls)
	}
}

func TestAssistantDefaultsSessionToConnection(t *testing.T) {
	bus := relay.NewMemoryBus(0)
	defer bus.Close()

	asker := &fakeAsker{}
	e := newEndpoint(t, assistantConfig(), bus, WithAsker(asker))
	c1 := newPeer("c1")
	e.Registry().Add(c1)

	e.Handle(context.Background(), c1, hub.Text(`{"question":"q"}`))
	c1.await(t)
	c1.await(t)

	if calls := asker.Calls(); len(calls) != 1 || calls[0] != "c1|q" {
		t.Errorf("asker calls = %v, want session c1", calls)
	}
}

func TestAssistantFailureRepliesWithError(t *testing.T) {
	bus := relay.NewMemoryBus(0)
	defer bus.Close()

	asker := &fakeAsker{err: fmt.Errorf("%w: status 500", assistant.ErrUnavailable)}
	e := newEndpoint(t, assistantConfig(), bus, WithAsker(asker))
	c1 := newPeer("c1")
	e.Registry().Add(c1)

	e.Handle(context.Background(), c1, hub.Text(`{"question":"q"}`))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		got[string(c1.await(t).Data)] = true
	}
	if !got[`{"type":"error","error":"assistant unavailable"}`] {
		t.Errorf("sender frames = %v, want assistant error", got)
	}
}

func TestChatWithoutAssistantDoesNotAsk(t *testing.T) {
	bus := relay.NewMemoryBus(0)
	defer bus.Close()

	asker := &fakeAsker{}
	e := newEndpoint(t, chatConfig(), bus, WithAsker(asker))
	c1 := newPeer("c1")
	e.Registry().Add(c1)

	e.Handle(context.Background(), c1, hub.Text(`{"question":"q"}`))
	c1.await(t)
	c1.expectNothing(t)
	if calls := asker.Calls(); len(calls) != 0 {
		t.Errorf("asker called on a plain chat channel: %v", calls)
	}
}

// downBus refuses every operation.
type downBus struct{}

var errDown = errors.New("bus down")

func (downBus) Publish(context.Context, string, []byte) error { return errDown }
func (downBus) Subscribe(context.Context, string) (relay.Subscription, error) {
	return nil, errDown
}
func (downBus) Close() error { return nil }

func TestRelayOutageFallsBackToLocalDelivery(t *testing.T) {
	e, err := New(chatConfig(), downBus{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	c1, c2 := newPeer("c1"), newPeer("c2")
	e.Registry().Add(c1)
	e.Registry().Add(c2)

	e.Handle(context.Background(), c1, hub.Text("still here"))

	for _, c := range []*fakePeer{c1, c2} {
		if msg := c.await(t); string(msg.Data) != "still here" {
			t.Errorf("%s received %s", c.id, msg.Data)
		}
	}
}

func TestServeRegistersUntilPeerCloses(t *testing.T) {
	e := newEndpoint(t, editorConfig(), nil)
	c1, c2 := newPeer("c1"), newPeer("c2")
	e.Registry().Add(c2)

	done := make(chan struct{})
	go func() {
		e.Serve(context.Background(), c1)
		close(done)
	}()

	c1.inbox <- hub.Binary([]byte("edit"))
	if msg := c2.await(t); string(msg.Data) != "edit" {
		t.Errorf("c2 received %s", msg.Data)
	}
	if _, ok := e.Registry().Get("c1"); !ok {
		t.Error("c1 should be registered while serving")
	}

	close(c1.inbox)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the peer closed")
	}
	if _, ok := e.Registry().Get("c1"); ok {
		t.Error("c1 should be deregistered after Serve returns")
	}
	if c1.IsOpen() {
		t.Error("Serve should close the peer")
	}
}

func TestServeReturnsWhenContextCancelled(t *testing.T) {
	e := newEndpoint(t, editorConfig(), nil)
	c1 := newPeer("c1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Serve(ctx, c1)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for e.Registry().Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("peer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if c1.IsOpen() || e.Registry().Count() != 0 {
		t.Error("cancelled peer should be closed and deregistered")
	}
}

func TestStopClosesConnections(t *testing.T) {
	bus := relay.NewMemoryBus(0)
	defer bus.Close()

	e, err := New(chatConfig(), bus, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	e.Start(context.Background())
	c1 := newPeer("c1")
	e.Registry().Add(c1)

	e.Stop()
	if c1.IsOpen() {
		t.Error("Stop should close registered connections")
	}
	if e.Registry().Count() != 0 {
		t.Errorf("registry count = %d after Stop", e.Registry().Count())
	}
	if e.Relay().Connected() {
		t.Error("relay should be disconnected after Stop")
	}
}

func TestConfigValidate(t *testing.T) {
	for _, cfg := range Defaults() {
		if err := cfg.Validate(); err != nil {
			t.Errorf("default %s: %v", cfg.Name, err)
		}
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing name", Config{Path: "/x", Payload: PayloadText, Delivery: DeliveryLocal}, "name is required"},
		{"relative path", Config{Name: "x", Path: "x", Payload: PayloadText, Delivery: DeliveryLocal}, "must start with"},
		{"unknown payload", Config{Name: "x", Path: "/x", Payload: "json", Delivery: DeliveryLocal}, "unknown payload"},
		{"unknown delivery", Config{Name: "x", Path: "/x", Payload: PayloadText, Delivery: "fanout"}, "unknown delivery"},
		{"relay without topic", Config{Name: "x", Path: "/x", Payload: PayloadText, Delivery: DeliveryRelay}, "needs a topic"},
		{"binary assistant", Config{Name: "x", Path: "/x", Payload: PayloadBinary, Delivery: DeliveryLocal, Assistant: true}, "text channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want %q", err, tt.want)
			}
		})
	}

	if _, err := New(chatConfig(), nil, testLogger()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New relay channel without bus = %v, want ErrInvalidConfig", err)
	}
}
