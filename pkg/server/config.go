package server

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/vango-dev/collab/pkg/channel"
	"github.com/vango-dev/collab/pkg/hub"
	"github.com/vango-dev/collab/pkg/relay"
)

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: allows all origins, as editors are commonly served from a
	// different host than the coordination service.
	CheckOrigin func(r *http.Request) bool

	// ConnConfig is the configuration for individual websocket connections.
	// Default: hub.DefaultConnConfig().
	ConnConfig *hub.ConnConfig

	// Channels are the websocket endpoints to mount.
	// Default: channel.Defaults().
	Channels []channel.Config

	// RelayConfig is the subscriber retry policy for relay channels.
	// Default: relay.DefaultConfig().
	RelayConfig *relay.Config

	// Server lifecycle

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 15 seconds.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// MaxRequestBody caps REST request bodies.
	// Default: 1 MiB.
	MaxRequestBody int64

	// HealthTimeout bounds each /healthz probe.
	// Default: 2 seconds.
	HealthTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":8080",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       AllowAllOrigins,
		ConnConfig:        hub.DefaultConnConfig(),
		Channels:          channel.Defaults(),
		RelayConfig:       relay.DefaultConfig(),
		ShutdownTimeout:   15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxRequestBody:    1 << 20,
		HealthTimeout:     2 * time.Second,
	}
}

// fillDefaults sets every unset field from DefaultServerConfig.
func (c *ServerConfig) fillDefaults() {
	defaults := DefaultServerConfig()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = defaults.CheckOrigin
	}
	c.ConnConfig = c.ConnConfig.WithDefaults()
	if len(c.Channels) == 0 {
		c.Channels = defaults.Channels
	}
	if c.RelayConfig == nil {
		c.RelayConfig = defaults.RelayConfig
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if c.MaxRequestBody == 0 {
		c.MaxRequestBody = defaults.MaxRequestBody
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = defaults.HealthTimeout
	}
}

// Validate checks the channel set for invalid or conflicting entries.
func (c *ServerConfig) Validate() error {
	paths := make(map[string]string)
	for _, ch := range c.Channels {
		if err := ch.Validate(); err != nil {
			return err
		}
		if other, ok := paths[ch.Path]; ok {
			return fmt.Errorf("%w: %s and %s share path %s", channel.ErrInvalidConfig, other, ch.Name, ch.Path)
		}
		paths[ch.Path] = ch.Name
	}
	return nil
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.ConnConfig = c.ConnConfig.Clone()
	clone.Channels = slices.Clone(c.Channels)
	if c.RelayConfig != nil {
		rc := *c.RelayConfig
		clone.RelayConfig = &rc
	}
	return &clone
}

// WithAddress sets the server address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithChannels sets the channel set and returns the config for chaining.
func (c *ServerConfig) WithChannels(channels ...channel.Config) *ServerConfig {
	c.Channels = channels
	return c
}

// AllowAllOrigins accepts every websocket handshake.
func AllowAllOrigins(*http.Request) bool {
	return true
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return r.Host != "" && originURL.Host == r.Host
}

// AllowOrigins returns a CheckOrigin that accepts requests without an
// Origin header, same-origin requests, and the listed origins
// (scheme://host[:port]).
func AllowOrigins(origins ...string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		if SameOriginCheck(r) {
			return true
		}
		return allowed[r.Header.Get("Origin")]
	}
}
