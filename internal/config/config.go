package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-dev/collab/internal/errors"
	"github.com/vango-dev/collab/pkg/channel"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "collab.json"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultRedisAddr is the default Redis endpoint.
	DefaultRedisAddr = "localhost:6379"

	// DefaultMongoURI is the default MongoDB endpoint.
	DefaultMongoURI = "mongodb://localhost:27017"

	// DefaultAssistantURL is the default question-answering backend.
	DefaultAssistantURL = "http://localhost:6000"
)

// Backends for the document store.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendS3     = "s3"
)

// Config represents the complete collab.json configuration.
type Config struct {
	// Address is the HTTP listen address.
	Address string `json:"address,omitempty"`

	Log       LogConfig       `json:"log"`
	Redis     RedisConfig     `json:"redis"`
	Lock      LockConfig      `json:"lock"`
	Relay     RelayConfig     `json:"relay"`
	WebSocket WebSocketConfig `json:"websocket"`

	// Channels lists the websocket endpoints. Empty means the defaults.
	Channels []channel.Config `json:"channels,omitempty"`

	DocStore  DocStoreConfig  `json:"docstore"`
	Assistant AssistantConfig `json:"assistant"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "15s").
	ShutdownTimeout string `json:"shutdownTimeout,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty"`
}

// RedisConfig locates the coordination store shared by relays and locks.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// LockConfig configures the paragraph lock manager.
type LockConfig struct {
	// TTL is the lock expiry (e.g., "60s").
	TTL string `json:"ttl,omitempty"`

	// KeyPrefix namespaces lock records in Redis.
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

// RelayConfig is the subscriber retry policy.
type RelayConfig struct {
	BackoffMin string `json:"backoffMin,omitempty"`
	BackoffMax string `json:"backoffMax,omitempty"`
}

// WebSocketConfig holds per-connection limits.
type WebSocketConfig struct {
	// MaxMessageSize is the largest inbound frame in bytes.
	MaxMessageSize int64 `json:"maxMessageSize,omitempty"`

	// SendQueueSize is the per-connection outbound queue length.
	SendQueueSize int `json:"sendQueueSize,omitempty"`

	WriteTimeout      string `json:"writeTimeout,omitempty"`
	ReadTimeout       string `json:"readTimeout,omitempty"`
	HeartbeatInterval string `json:"heartbeatInterval,omitempty"`

	// AllowedOrigins restricts the websocket handshake. Empty allows all.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// DocStoreConfig selects and configures the paragraph store.
type DocStoreConfig struct {
	// Backend is memory, mongo or s3.
	Backend string `json:"backend,omitempty"`

	Mongo MongoConfig `json:"mongo"`
	S3    S3Config    `json:"s3"`
}

// MongoConfig locates the paragraph collection.
type MongoConfig struct {
	URI        string `json:"uri,omitempty"`
	Database   string `json:"database,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// S3Config locates the paragraph bucket. Credentials come from the AWS
// default chain.
type S3Config struct {
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	Profile   string `json:"profile,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	PathStyle bool   `json:"pathStyle,omitempty"`
}

// AssistantConfig locates the question-answering backend.
type AssistantConfig struct {
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads collab.json from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadOrDefault reads collab.json from dir, falling back to the defaults
// when the file does not exist.
func LoadOrDefault(dir string) (*Config, error) {
	if !Exists(dir) {
		return New(), nil
	}
	return Load(dir)
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("C108").
				WithDetail("No " + filepath.Base(path) + " found in " + filepath.Dir(path))
		}
		return nil, errors.New("C101").Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("C101").
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error())
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("C101").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("C101").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}

	if c.Lock.TTL == "" {
		c.Lock.TTL = "60s"
	}
	if c.Lock.KeyPrefix == "" {
		c.Lock.KeyPrefix = "lock:"
	}

	if c.Relay.BackoffMin == "" {
		c.Relay.BackoffMin = "250ms"
	}
	if c.Relay.BackoffMax == "" {
		c.Relay.BackoffMax = "30s"
	}

	ws := &c.WebSocket
	if ws.MaxMessageSize == 0 {
		ws.MaxMessageSize = 4 << 20
	}
	if ws.SendQueueSize == 0 {
		ws.SendQueueSize = 256
	}
	if ws.WriteTimeout == "" {
		ws.WriteTimeout = "10s"
	}
	if ws.ReadTimeout == "" {
		ws.ReadTimeout = "60s"
	}
	if ws.HeartbeatInterval == "" {
		ws.HeartbeatInterval = "30s"
	}

	if len(c.Channels) == 0 {
		c.Channels = channel.Defaults()
	}

	if c.DocStore.Backend == "" {
		c.DocStore.Backend = BackendMemory
	}
	if c.DocStore.Mongo.URI == "" {
		c.DocStore.Mongo.URI = DefaultMongoURI
	}
	if c.DocStore.Mongo.Database == "" {
		c.DocStore.Mongo.Database = "collab_db"
	}
	if c.DocStore.Mongo.Collection == "" {
		c.DocStore.Mongo.Collection = "documents"
	}

	if c.Assistant.URL == "" {
		c.Assistant.URL = DefaultAssistantURL
	}
	if c.Assistant.Timeout == "" {
		c.Assistant.Timeout = "30s"
	}

	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "15s"
	}
}

// Environment variables that override collab.json.
const (
	EnvAddress       = "COLLAB_ADDRESS"
	EnvRedisAddr     = "COLLAB_REDIS_ADDR"
	EnvRedisPassword = "COLLAB_REDIS_PASSWORD"
	EnvMongoURI      = "COLLAB_MONGO_URI"
	EnvAssistantURL  = "COLLAB_ASSISTANT_URL"
)

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvAddress, &c.Address)
	set(EnvRedisAddr, &c.Redis.Addr)
	set(EnvRedisPassword, &c.Redis.Password)
	set(EnvMongoURI, &c.DocStore.Mongo.URI)
	set(EnvAssistantURL, &c.Assistant.URL)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return errors.New("C103").WithField("address").Wrap(err)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("C109").WithField("log.level").
			WithDetail(fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New("C109").WithField("log.format").
			WithDetail(fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	if c.Redis.Addr == "" {
		return errors.New("C102").WithField("redis.addr")
	}

	durations := []struct {
		field string
		value string
	}{
		{"lock.ttl", c.Lock.TTL},
		{"relay.backoffMin", c.Relay.BackoffMin},
		{"relay.backoffMax", c.Relay.BackoffMax},
		{"websocket.writeTimeout", c.WebSocket.WriteTimeout},
		{"websocket.readTimeout", c.WebSocket.ReadTimeout},
		{"websocket.heartbeatInterval", c.WebSocket.HeartbeatInterval},
		{"assistant.timeout", c.Assistant.Timeout},
		{"shutdownTimeout", c.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return errors.New("C106").WithField(d.field).Wrap(err)
		}
		if v <= 0 {
			return errors.New("C106").WithField(d.field).
				WithDetail(fmt.Sprintf("%q must be positive", d.value))
		}
	}
	if c.HeartbeatInterval() >= c.ReadTimeout() {
		return errors.New("C106").WithField("websocket.heartbeatInterval").
			WithDetail("heartbeat interval must be shorter than the read timeout")
	}
	if c.RelayBackoffMax() < c.RelayBackoffMin() {
		return errors.New("C106").WithField("relay.backoffMax").
			WithDetail("maximum backoff is below the minimum")
	}

	if c.WebSocket.MaxMessageSize < 0 {
		return errors.New("C102").WithField("websocket.maxMessageSize").
			WithDetail("must be positive")
	}
	if c.WebSocket.SendQueueSize < 0 {
		return errors.New("C102").WithField("websocket.sendQueueSize").
			WithDetail("must be positive")
	}

	names := make(map[string]bool)
	paths := make(map[string]bool)
	for i, ch := range c.Channels {
		field := fmt.Sprintf("channels[%d]", i)
		if err := ch.Validate(); err != nil {
			return errors.New("C104").WithField(field).Wrap(err)
		}
		if names[ch.Name] || paths[ch.Path] {
			return errors.New("C105").WithField(field).
				WithDetail(fmt.Sprintf("%s at %s is defined twice", ch.Name, ch.Path))
		}
		names[ch.Name] = true
		paths[ch.Path] = true
	}

	switch c.DocStore.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.DocStore.Mongo.URI == "" {
			return errors.New("C102").WithField("docstore.mongo.uri")
		}
	case BackendS3:
		if c.DocStore.S3.Bucket == "" {
			return errors.New("C102").WithField("docstore.s3.bucket")
		}
	default:
		return errors.New("C107").WithField("docstore.backend").
			WithDetail(fmt.Sprintf("unknown backend %q", c.DocStore.Backend))
	}

	return nil
}

// duration parses a validated duration, falling back to def.
func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// LockTTL returns the parsed lock expiry.
func (c *Config) LockTTL() time.Duration { return duration(c.Lock.TTL, 60*time.Second) }

// RelayBackoffMin returns the first retry delay.
func (c *Config) RelayBackoffMin() time.Duration {
	return duration(c.Relay.BackoffMin, 250*time.Millisecond)
}

// RelayBackoffMax returns the retry delay cap.
func (c *Config) RelayBackoffMax() time.Duration { return duration(c.Relay.BackoffMax, 30*time.Second) }

// WriteTimeout returns the per-frame write deadline.
func (c *Config) WriteTimeout() time.Duration {
	return duration(c.WebSocket.WriteTimeout, 10*time.Second)
}

// ReadTimeout returns how long a connection may stay silent.
func (c *Config) ReadTimeout() time.Duration { return duration(c.WebSocket.ReadTimeout, 60*time.Second) }

// HeartbeatInterval returns the ping period.
func (c *Config) HeartbeatInterval() time.Duration {
	return duration(c.WebSocket.HeartbeatInterval, 30*time.Second)
}

// AssistantTimeout returns the question round-trip limit.
func (c *Config) AssistantTimeout() time.Duration { return duration(c.Assistant.Timeout, 30*time.Second) }

// ShutdownTimeoutDuration returns the graceful shutdown limit.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return duration(c.ShutdownTimeout, 15*time.Second)
}

// HasAssistant reports whether any channel routes questions to the backend.
func (c *Config) HasAssistant() bool {
	for _, ch := range c.Channels {
		if ch.Assistant {
			return true
		}
	}
	return false
}

// NewLogger builds the slog logger described by the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}
