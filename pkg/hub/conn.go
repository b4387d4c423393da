package hub

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a connection.
type State int32

const (
	StateOpen State = iota
	StateActive
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnConfig holds configuration for individual websocket connections.
type ConnConfig struct {
	// MaxMessageSize is the maximum size of an inbound frame.
	// Default: 4 MiB.
	MaxMessageSize int64

	// SendQueueSize is the capacity of the outbound frame queue.
	// Default: 256.
	SendQueueSize int

	// WriteTimeout is the maximum time to wait when writing a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ReadTimeout is how long the connection may stay silent (no frames and
	// no pongs) before it is considered dead.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// HeartbeatInterval is the time between pings. Must be below ReadTimeout.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration
}

// DefaultConnConfig returns a ConnConfig with sensible defaults.
func DefaultConnConfig() *ConnConfig {
	return &ConnConfig{
		MaxMessageSize:    4 << 20,
		SendQueueSize:     256,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// WithDefaults returns a copy of c with every zero or negative field taken
// from DefaultConnConfig. A defaulted heartbeat stays below ReadTimeout.
func (c *ConnConfig) WithDefaults() *ConnConfig {
	defaults := DefaultConnConfig()
	if c == nil {
		return defaults
	}
	out := *c
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = defaults.MaxMessageSize
	}
	if out.SendQueueSize <= 0 {
		out.SendQueueSize = defaults.SendQueueSize
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = defaults.ReadTimeout
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = min(defaults.HeartbeatInterval, out.ReadTimeout/2)
	}
	return &out
}

// Clone returns a copy of the ConnConfig.
func (c *ConnConfig) Clone() *ConnConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Conn is one client's duplex websocket channel. It owns a single writer
// goroutine; Send only enqueues.
type Conn struct {
	id          string
	ws          *websocket.Conn
	config      *ConnConfig
	logger      *slog.Logger
	remoteAddr  string
	connectedAt time.Time

	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
}

// NewConn wraps an upgraded websocket connection and starts its writer.
func NewConn(ws *websocket.Conn, config *ConnConfig, logger *slog.Logger) *Conn {
	config = config.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	c := &Conn{
		id:          id,
		ws:          ws,
		config:      config,
		logger:      logger.With("conn_id", id),
		remoteAddr:  ws.RemoteAddr().String(),
		connectedAt: time.Now(),
		send:        make(chan Message, config.SendQueueSize),
		done:        make(chan struct{}),
	}
	c.state.Store(int32(StateOpen))

	ws.SetReadLimit(config.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(config.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(config.ReadTimeout))
	})

	go c.writeLoop()

	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// ConnectedAt returns when the connection was accepted.
func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// IsOpen reports whether frames can still be sent.
func (c *Conn) IsOpen() bool {
	return c.State() != StateClosed
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// BytesSent returns the total payload bytes written.
func (c *Conn) BytesSent() int64 {
	return c.bytesSent.Load()
}

// BytesReceived returns the total payload bytes read.
func (c *Conn) BytesReceived() int64 {
	return c.bytesReceived.Load()
}

func (c *Conn) activate() {
	c.state.CompareAndSwap(int32(StateOpen), int32(StateActive))
}

// Send queues msg for delivery and returns immediately. It fails with
// ErrConnectionClosed or ErrSendQueueFull; it never blocks on the network.
func (c *Conn) Send(msg Message) error {
	if !c.IsOpen() {
		return newSendError(c.id, "send", ErrConnectionClosed)
	}
	select {
	case <-c.done:
		return newSendError(c.id, "send", ErrConnectionClosed)
	case c.send <- msg:
		c.activate()
		return nil
	default:
		return newSendError(c.id, "send", ErrSendQueueFull)
	}
}

// ReadMessage blocks until the next frame arrives. Control frames are handled
// internally. Any error means the connection is unusable and the caller should
// Close it.
func (c *Conn) ReadMessage() (Message, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	c.activate()
	c.bytesReceived.Add(int64(len(data)))
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	return Message{Binary: mt == websocket.BinaryMessage, Data: data}, nil
}

// Close closes the connection. It is safe to call more than once and from
// any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		deadline := time.Now().Add(c.config.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}

// writeLoop is the only goroutine that writes data frames.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(msg.frameType(), msg.Data); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Warn("write failed", "error", err)
				}
				c.Close()
				return
			}
			c.bytesSent.Add(int64(len(msg.Data)))

		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close()
				return
			}
		}
	}
}
