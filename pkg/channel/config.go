package channel

import (
	"errors"
	"fmt"
	"strings"
)

// Payload is the frame discipline of a channel.
type Payload string

const (
	// PayloadBinary carries opaque edit blobs. Text frames are ignored.
	PayloadBinary Payload = "binary"

	// PayloadText carries UTF-8 chat data. Binary frames are ignored.
	PayloadText Payload = "text"
)

// Delivery selects how an inbound frame reaches other clients.
type Delivery string

const (
	// DeliveryLocal broadcasts to this process's connections only and never
	// echoes a frame to its sender.
	DeliveryLocal Delivery = "local"

	// DeliveryRelay publishes to the bus; every replica, this one included,
	// broadcasts what it receives to all of its connections. The sender
	// receives its own frame back.
	DeliveryRelay Delivery = "relay"
)

// Config describes one logical channel.
type Config struct {
	// Name identifies the channel in logs and metrics.
	Name string `json:"name"`

	// Path is the HTTP path the websocket endpoint is mounted on.
	Path string `json:"path"`

	// Topic is the relay topic. Required for DeliveryRelay.
	Topic string `json:"topic,omitempty"`

	Payload  Payload  `json:"payload"`
	Delivery Delivery `json:"delivery"`

	// Assistant routes chat envelopes carrying a question to the
	// question-answering backend.
	Assistant bool `json:"assistant,omitempty"`
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("channel: invalid config")

// Validate checks the channel definition.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: %s: path %q must start with '/'", ErrInvalidConfig, c.Name, c.Path)
	}
	switch c.Payload {
	case PayloadBinary, PayloadText:
	default:
		return fmt.Errorf("%w: %s: unknown payload %q", ErrInvalidConfig, c.Name, c.Payload)
	}
	switch c.Delivery {
	case DeliveryLocal:
	case DeliveryRelay:
		if c.Topic == "" {
			return fmt.Errorf("%w: %s: relay delivery needs a topic", ErrInvalidConfig, c.Name)
		}
	default:
		return fmt.Errorf("%w: %s: unknown delivery %q", ErrInvalidConfig, c.Name, c.Delivery)
	}
	if c.Assistant && c.Payload != PayloadText {
		return fmt.Errorf("%w: %s: assistant routing needs a text channel", ErrInvalidConfig, c.Name)
	}
	return nil
}

// Defaults returns the standard channel set: the binary editor channel, the
// legacy chat channel and the assistant-backed chat channel.
func Defaults() []Config {
	return []Config{
		{
			Name:     "editor",
			Path:     "/collaboration",
			Payload:  PayloadBinary,
			Delivery: DeliveryLocal,
		},
		{
			Name:     "collab",
			Path:     "/collab",
			Topic:    "collab_channel",
			Payload:  PayloadText,
			Delivery: DeliveryRelay,
		},
		{
			Name:      "intelligent-chat",
			Path:      "/intelligent-chat",
			Topic:     "intelligent_chat_channel",
			Payload:   PayloadText,
			Delivery:  DeliveryRelay,
			Assistant: true,
		},
	}
}
