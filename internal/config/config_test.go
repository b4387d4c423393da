package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/collab/internal/errors"
	"github.com/vango-dev/collab/pkg/channel"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Address != DefaultAddress {
		t.Errorf("Address = %q, want %q", cfg.Address, DefaultAddress)
	}
	if cfg.Redis.Addr != DefaultRedisAddr {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, DefaultRedisAddr)
	}
	if cfg.LockTTL() != 60*time.Second {
		t.Errorf("LockTTL = %v, want 60s", cfg.LockTTL())
	}
	if cfg.Lock.KeyPrefix != "lock:" {
		t.Errorf("Lock.KeyPrefix = %q", cfg.Lock.KeyPrefix)
	}
	if cfg.WebSocket.MaxMessageSize != 4<<20 {
		t.Errorf("MaxMessageSize = %d, want 4 MiB", cfg.WebSocket.MaxMessageSize)
	}
	if cfg.DocStore.Backend != BackendMemory {
		t.Errorf("DocStore.Backend = %q", cfg.DocStore.Backend)
	}
	if len(cfg.Channels) != 3 {
		t.Fatalf("Channels = %d, want 3 defaults", len(cfg.Channels))
	}
	if !cfg.HasAssistant() {
		t.Error("default channels should include the assistant channel")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestDefaultChannels(t *testing.T) {
	cfg := New()
	want := map[string]struct {
		payload  channel.Payload
		delivery channel.Delivery
		topic    string
	}{
		"/collaboration":    {channel.PayloadBinary, channel.DeliveryLocal, ""},
		"/collab":           {channel.PayloadText, channel.DeliveryRelay, "collab_channel"},
		"/intelligent-chat": {channel.PayloadText, channel.DeliveryRelay, "intelligent_chat_channel"},
	}
	for _, ch := range cfg.Channels {
		w, ok := want[ch.Path]
		if !ok {
			t.Errorf("unexpected channel path %q", ch.Path)
			continue
		}
		if ch.Payload != w.payload || ch.Delivery != w.delivery || ch.Topic != w.topic {
			t.Errorf("%s = %+v", ch.Path, ch)
		}
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := Load(tmpDir)
	if !errors.HasCode(err, "C108") {
		t.Errorf("missing config error = %v, want C108", err)
	}

	configJSON := `{
  "address": "0.0.0.0:9000",
  "redis": {"addr": "redis:6379", "db": 2},
  "lock": {"ttl": "90s"},
  "channels": [
    {"name": "editor", "path": "/edit", "payload": "binary", "delivery": "local"}
  ],
  "docstore": {"backend": "s3", "s3": {"bucket": "paragraphs", "pathStyle": true}}
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Address != "0.0.0.0:9000" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.LockTTL() != 90*time.Second {
		t.Errorf("LockTTL = %v, want 90s", cfg.LockTTL())
	}
	if cfg.Lock.KeyPrefix != "lock:" {
		t.Errorf("unset KeyPrefix should default, got %q", cfg.Lock.KeyPrefix)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0].Path != "/edit" {
		t.Errorf("Channels = %+v", cfg.Channels)
	}
	if cfg.HasAssistant() {
		t.Error("HasAssistant should be false without an assistant channel")
	}
	if !cfg.DocStore.S3.PathStyle || cfg.DocStore.S3.Bucket != "paragraphs" {
		t.Errorf("DocStore.S3 = %+v", cfg.DocStore.S3)
	}
	if cfg.Dir() != tmpDir {
		t.Errorf("Dir = %q, want %q", cfg.Dir(), tmpDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(t.TempDir())
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Path() != "" || cfg.Address != DefaultAddress {
		t.Errorf("LoadOrDefault without a file should return defaults, got %+v", cfg)
	}
}

func TestLoadFile_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte("{invalid json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFile(path)
	if !errors.HasCode(err, "C101") {
		t.Errorf("LoadFile error = %v, want C101", err)
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ConfigFileName)

	cfg := New()
	cfg.Redis.Addr = "redis.internal:6379"
	if err := cfg.Save(); err == nil {
		t.Error("Save without a path should fail")
	}
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("Path = %q, want %q", cfg.Path(), path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("saved config should end with a newline")
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("saved config is not JSON: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if loaded.Redis.Addr != "redis.internal:6379" || len(loaded.Channels) != 3 {
		t.Errorf("round trip lost fields: %+v", loaded)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAddress:       ":9999",
		EnvRedisAddr:     "redis-2:6379",
		EnvRedisPassword: "secret",
		EnvMongoURI:      "mongodb://mongo:27017",
		EnvAssistantURL:  "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := New()
	cfg.ApplyEnv(lookup)

	if cfg.Address != ":9999" || cfg.Redis.Addr != "redis-2:6379" || cfg.Redis.Password != "secret" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.DocStore.Mongo.URI != "mongodb://mongo:27017" {
		t.Errorf("Mongo.URI = %q", cfg.DocStore.Mongo.URI)
	}
	if cfg.Assistant.URL != DefaultAssistantURL {
		t.Errorf("empty env value should not override, got %q", cfg.Assistant.URL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		code   string
		field  string
	}{
		{"bad address", func(c *Config) { c.Address = "8080" }, "C103", "address"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "C109", "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "C109", "log.format"},
		{"missing redis", func(c *Config) { c.Redis.Addr = "" }, "C102", "redis.addr"},
		{"bad ttl", func(c *Config) { c.Lock.TTL = "soon" }, "C106", "lock.ttl"},
		{"negative ttl", func(c *Config) { c.Lock.TTL = "-1s" }, "C106", "lock.ttl"},
		{"heartbeat too slow", func(c *Config) { c.WebSocket.HeartbeatInterval = "2m" }, "C106", "websocket.heartbeatInterval"},
		{"backoff inverted", func(c *Config) { c.Relay.BackoffMax = "100ms" }, "C106", "relay.backoffMax"},
		{"bad channel", func(c *Config) { c.Channels[1].Topic = "" }, "C104", "channels[1]"},
		{"duplicate channel", func(c *Config) { c.Channels[2].Path = c.Channels[1].Path }, "C105", "channels[2]"},
		{"unknown backend", func(c *Config) { c.DocStore.Backend = "sqlite" }, "C107", "docstore.backend"},
		{"s3 without bucket", func(c *Config) { c.DocStore.Backend = BackendS3 }, "C102", "docstore.s3.bucket"},
		{"mongo without uri", func(c *Config) {
			c.DocStore.Backend = BackendMongo
			c.DocStore.Mongo.URI = ""
		}, "C102", "docstore.mongo.uri"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.HasCode(err, tt.code) {
				t.Fatalf("Validate = %v, want %s", err, tt.code)
			}
			if ce := errors.FromError(err, ""); ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := New()
	cfg.Relay.BackoffMin = "10ms"
	cfg.WebSocket.WriteTimeout = "not-a-duration"

	if cfg.RelayBackoffMin() != 10*time.Millisecond {
		t.Errorf("RelayBackoffMin = %v", cfg.RelayBackoffMin())
	}
	if cfg.WriteTimeout() != 10*time.Second {
		t.Errorf("WriteTimeout should fall back to 10s, got %v", cfg.WriteTimeout())
	}
	if cfg.HeartbeatInterval() != 30*time.Second || cfg.ReadTimeout() != 60*time.Second {
		t.Errorf("heartbeat/read = %v/%v", cfg.HeartbeatInterval(), cfg.ReadTimeout())
	}
	if cfg.AssistantTimeout() != 30*time.Second || cfg.ShutdownTimeoutDuration() != 15*time.Second {
		t.Errorf("assistant/shutdown = %v/%v", cfg.AssistantTimeout(), cfg.ShutdownTimeoutDuration())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := New()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("json handler output %q: %v", out, err)
	}
	if rec["msg"] != "shown" || rec["component"] != "test" {
		t.Errorf("record = %v", rec)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if Exists(dir) {
		t.Error("Exists should be false for an empty dir")
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if !Exists(dir) {
		t.Error("Exists should be true once collab.json is present")
	}
}
