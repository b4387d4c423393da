// Package channel binds a connection registry, an optional relay and a
// payload discipline into one websocket endpoint.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/vango-dev/collab/pkg/assistant"
	"github.com/vango-dev/collab/pkg/hub"
	"github.com/vango-dev/collab/pkg/middleware"
	"github.com/vango-dev/collab/pkg/relay"
)

// Error replies sent to the originating connection only.
const (
	errInvalidEnvelope      = "invalid JSON envelope"
	errAssistantUnavailable = "assistant unavailable"
)

// Peer is a connection the endpoint can read from and close.
type Peer interface {
	hub.Connection
	ReadMessage() (hub.Message, error)
	Close() error
}

// Endpoint serves one channel.
type Endpoint struct {
	config   Config
	registry *hub.Registry
	relay    *relay.Relay
	asker    assistant.Asker
	logger   *slog.Logger

	relayConfig *relay.Config

	asks sync.WaitGroup
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithAsker sets the question-answering backend used when the channel has
// assistant routing enabled.
func WithAsker(a assistant.Asker) Option {
	return func(e *Endpoint) {
		e.asker = a
	}
}

// WithRelayConfig sets the relay retry policy.
func WithRelayConfig(cfg *relay.Config) Option {
	return func(e *Endpoint) {
		if cfg != nil {
			clone := *cfg
			e.relayConfig = &clone
		}
	}
}

// New creates the endpoint for cfg. bus is required for relay delivery and
// ignored otherwise.
func New(cfg Config, bus relay.Bus, logger *slog.Logger, opts ...Option) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Delivery == DeliveryRelay && bus == nil {
		return nil, fmt.Errorf("%w: %s: relay delivery without a bus", ErrInvalidConfig, cfg.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Endpoint{
		config:   cfg,
		registry: hub.NewRegistry(cfg.Name, logger),
		logger:   logger.With("component", "channel", "channel", cfg.Name),
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Delivery == DeliveryRelay {
		e.relay = relay.New(bus, cfg.Topic, e.onRelay, e.relayConfig, logger.With("channel", cfg.Name))
	}
	if cfg.Assistant && e.asker == nil {
		e.logger.Warn("assistant routing enabled without a backend; questions are only relayed")
	}
	return e, nil
}

// Config returns the channel definition.
func (e *Endpoint) Config() Config {
	return e.config
}

// Registry returns the channel's connection registry.
func (e *Endpoint) Registry() *hub.Registry {
	return e.registry
}

// Relay returns the channel's relay, or nil for local delivery.
func (e *Endpoint) Relay() *relay.Relay {
	return e.relay
}

// Start spawns the relay subscriber, if any, bound to ctx.
func (e *Endpoint) Start(ctx context.Context) {
	if e.relay != nil {
		e.relay.Start(ctx)
	}
}

// StopRelay stops the relay subscriber and waits for it.
func (e *Endpoint) StopRelay() {
	if e.relay != nil {
		e.relay.Stop()
	}
}

// CloseConnections closes every registered connection and waits for
// in-flight assistant calls.
func (e *Endpoint) CloseConnections() {
	for _, c := range e.registry.Clear() {
		if closer, ok := c.(io.Closer); ok {
			closer.Close()
		}
	}
	e.asks.Wait()
}

// Stop stops the relay, then closes every connection.
func (e *Endpoint) Stop() {
	e.StopRelay()
	e.CloseConnections()
}

// Serve registers peer and runs its read loop until the peer fails or
// closes, or ctx is cancelled. The peer is deregistered and closed on return.
func (e *Endpoint) Serve(ctx context.Context, peer Peer) {
	log := e.logger.With("conn_id", peer.ID())

	e.registry.Add(peer)
	middleware.RecordConnectionOpen(e.config.Name)

	done := make(chan struct{})
	defer func() {
		close(done)
		e.registry.Remove(peer)
		peer.Close()
		middleware.RecordConnectionClose(e.config.Name)
	}()
	go func() {
		select {
		case <-ctx.Done():
			peer.Close()
		case <-done:
		}
	}()

	for {
		msg, err := peer.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Error("read error", "error", err)
			} else {
				log.Debug("read loop ended", "error", err)
			}
			return
		}
		middleware.RecordMessageReceived(e.config.Name, msg.Kind(), msg.Len())
		e.Handle(ctx, peer, msg)
	}
}

// Handle applies the channel's payload discipline and delivery mode to one
// inbound frame from sender.
func (e *Endpoint) Handle(ctx context.Context, sender hub.Connection, msg hub.Message) {
	log := e.logger.With("conn_id", sender.ID())

	switch e.config.Payload {
	case PayloadBinary:
		if !msg.Binary {
			log.Debug("ignoring text frame", "size", msg.Len())
			return
		}
		if msg.Len() == 0 {
			log.Debug("dropping empty frame")
			return
		}
	case PayloadText:
		if msg.Binary {
			log.Debug("ignoring binary frame", "size", msg.Len())
			return
		}
		env, ok := parseEnvelope(msg.Data)
		if !ok {
			log.Debug("malformed envelope", "size", msg.Len())
			e.replyError(sender, errInvalidEnvelope)
			return
		}
		if e.config.Assistant && env.question != "" && e.asker != nil {
			sessionID := env.sessionID
			if sessionID == "" {
				sessionID = sender.ID()
			}
			e.ask(ctx, sender, sessionID, env.question)
		}
	}

	e.deliver(ctx, sender, msg)
}

func (e *Endpoint) deliver(ctx context.Context, sender hub.Connection, msg hub.Message) {
	if e.relay == nil {
		e.registry.Broadcast(msg, sender)
		return
	}
	if err := e.relay.Publish(ctx, msg.Data); err != nil {
		// Bus down: keep this replica's clients in sync, sender included.
		e.logger.Warn("relay publish failed; delivering locally", "conn_id", sender.ID(), "error", err)
		e.registry.Broadcast(msg, nil)
	}
}

// onRelay delivers a bus payload to every local connection.
func (e *Endpoint) onRelay(payload []byte) {
	e.registry.Broadcast(e.frame(payload), nil)
}

func (e *Endpoint) frame(data []byte) hub.Message {
	if e.config.Payload == PayloadBinary {
		return hub.Binary(data)
	}
	return hub.TextBytes(data)
}

// ask forwards question to the backend and sends the answer to sender only.
func (e *Endpoint) ask(ctx context.Context, sender hub.Connection, sessionID, question string) {
	e.asks.Add(1)
	go func() {
		defer e.asks.Done()
		log := e.logger.With("conn_id", sender.ID(), "session_id", sessionID)

		answer, err := e.asker.Ask(ctx, sessionID, question)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("assistant request failed", "error", err)
			}
			e.replyError(sender, errAssistantUnavailable)
			return
		}
		if err := sender.Send(hub.TextBytes(answer)); err != nil {
			log.Debug("answer not delivered", "error", err)
		}
	}()
}

type errorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (e *Endpoint) replyError(sender hub.Connection, reason string) {
	data, _ := json.Marshal(errorReply{Type: "error", Error: reason})
	if err := sender.Send(hub.TextBytes(data)); err != nil {
		e.logger.Debug("error reply not delivered", "conn_id", sender.ID(), "error", err)
	}
}

type envelope struct {
	sessionID string
	question  string
}

// parseEnvelope inspects a chat payload. Payloads that look like JSON must
// be valid JSON; anything else is plain chat text.
func parseEnvelope(data []byte) (envelope, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return envelope{}, true
	}
	if !gjson.ValidBytes(trimmed) {
		return envelope{}, false
	}
	if trimmed[0] != '{' {
		return envelope{}, true
	}
	res := gjson.GetManyBytes(trimmed, "session_id", "question")
	env := envelope{}
	if res[0].Type == gjson.String {
		env.sessionID = res[0].String()
	}
	if res[1].Type == gjson.String {
		env.question = res[1].String()
	}
	return env, true
}
