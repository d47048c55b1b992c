package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/storage/messagestore"
)

// Config represents the complete application configuration
type Config struct {
	Version   string          `json:"version,omitempty"`
	Platform  PlatformConfig  `json:"platform"`
	Source    SourceConfig    `json:"source"`
	Sweep     SweepConfig     `json:"sweep"`
	NATS      NATSConfig      `json:"nats"`
	MQTT      MQTTConfig      `json:"mqtt"`
	WebSocket WebSocketConfig `json:"websocket"`
	HTTP      HTTPConfig      `json:"http"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// PlatformConfig defines the identity of this instance
type PlatformConfig struct {
	Org         string `json:"org"`
	ID          string `json:"id"`
	InstanceID  string `json:"instance_id,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// SourceConfig is the TCP capture feed. An empty host or a zero port
// leaves the source unconfigured; the connection manager then idles.
type SourceConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ConnectTimeout Duration `json:"connect_timeout"`
	AutoStart      bool     `json:"auto_start"`
}

// Configured reports whether both host and port are set
func (s SourceConfig) Configured() bool {
	return s.Host != "" && s.Port > 0
}

// SweepConfig sets how often stale entities are evicted
type SweepConfig struct {
	// Interval is one of 10s 30s 60s 180s 300s 600s 1800s or "never"
	Interval string `json:"interval"`
}

// Duration parses the sweep interval
func (s SweepConfig) Duration() (time.Duration, error) {
	return messagestore.ParseInterval(s.Interval)
}

// NATSConfig defines the NATS connection used by the event mirror
type NATSConfig struct {
	Enabled       bool     `json:"enabled"`
	URLs          []string `json:"urls,omitempty"`
	MaxReconnects int      `json:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`

	ConnectTimeout Duration `json:"connect_timeout"`
	PingInterval   Duration `json:"ping_interval"`
	DrainTimeout   Duration `json:"drain_timeout"`
	// CircuitThreshold failures open the circuit; it stays open for a
	// backoff that doubles up to MaxBackoff
	CircuitThreshold int      `json:"circuit_threshold"`
	MaxBackoff       Duration `json:"max_backoff"`

	// SubjectPrefix prefixes event subjects: <prefix>.<type>.<action>
	SubjectPrefix string `json:"subject_prefix"`
	// Bucket is the JetStream KV bucket mirroring live state; empty disables it
	Bucket string `json:"bucket"`
}

// MQTTConfig defines the MQTT event sink
type MQTTConfig struct {
	Enabled        bool     `json:"enabled"`
	Broker         string   `json:"broker,omitempty"`
	ClientID       string   `json:"client_id,omitempty"`
	Username       string   `json:"username,omitempty"`
	Password       string   `json:"password,omitempty"`
	TopicPrefix    string   `json:"topic_prefix"`
	QoS            int      `json:"qos"`
	Retain         bool     `json:"retain"`
	ConnectTimeout Duration `json:"connect_timeout"`
	QueueSize      int      `json:"queue_size"`
}

// WebSocketConfig defines the live event push server
type WebSocketConfig struct {
	Enabled   bool   `json:"enabled"`
	Port      int    `json:"port"`
	Path      string `json:"path"`
	QueueSize int    `json:"queue_size"`
}

// HTTPConfig defines the query API
type HTTPConfig struct {
	Enabled     bool     `json:"enabled"`
	Port        int      `json:"port"`
	RateLimit   float64  `json:"rate_limit"`
	Burst       int      `json:"burst"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Default returns the built-in configuration every file layer merges onto
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Platform: PlatformConfig{
			Org: "c360",
			ID:  "v2xstreams",
		},
		Source: SourceConfig{
			ConnectTimeout: Duration(3 * time.Second),
			AutoStart:      true,
		},
		Sweep: SweepConfig{
			Interval: messagestore.FormatInterval(messagestore.DefaultInterval),
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			SubjectPrefix: "v2x.events",
			Bucket:        "V2X_STATE",

			ConnectTimeout:   Duration(5 * time.Second),
			PingInterval:     Duration(30 * time.Second),
			DrainTimeout:     Duration(10 * time.Second),
			CircuitThreshold: 5,
			MaxBackoff:       Duration(time.Minute),
		},
		MQTT: MQTTConfig{
			ClientID:       "v2xstreams",
			TopicPrefix:    "v2x",
			ConnectTimeout: Duration(5 * time.Second),
			QueueSize:      1024,
		},
		WebSocket: WebSocketConfig{
			Enabled:   true,
			Port:      8081,
			Path:      "/ws",
			QueueSize: 256,
		},
		HTTP: HTTPConfig{
			Enabled:   true,
			Port:      8080,
			RateLimit: 100,
			Burst:     10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate checks the semantic rules the schema cannot express. It
// normalizes platform.org to lower case.
func (c *Config) Validate() error {
	if c.Platform.Org == "" {
		return invalid("platform.org is required")
	}
	c.Platform.Org = strings.ToLower(c.Platform.Org)
	if !isValidNATSSubjectPart(c.Platform.Org) {
		return invalid("platform.org %q is not valid for NATS subjects", c.Platform.Org)
	}
	if c.Platform.ID == "" {
		return invalid("platform.id is required")
	}

	if c.Source.Port < 0 || c.Source.Port > 65535 {
		return invalid("source.port %d out of range", c.Source.Port)
	}
	if c.Source.ConnectTimeout.Duration() <= 0 {
		return invalid("source.connect_timeout must be positive")
	}

	if _, err := c.Sweep.Duration(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "sweep interval")
	}

	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls is required when nats is enabled")
		}
		if !isValidNATSSubjectPart(c.NATS.SubjectPrefix) {
			return invalid("nats.subject_prefix %q is not a valid subject", c.NATS.SubjectPrefix)
		}
		if c.NATS.ConnectTimeout.Duration() <= 0 {
			return invalid("nats.connect_timeout must be positive")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return invalid("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return invalid("mqtt.qos %d out of range", c.MQTT.QoS)
		}
		if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "#+") {
			return invalid("mqtt.topic_prefix %q is not a valid topic", c.MQTT.TopicPrefix)
		}
	}

	if c.HTTP.Enabled {
		if c.HTTP.RateLimit <= 0 || c.HTTP.Burst < 1 {
			return invalid("http.rate_limit and http.burst must be positive")
		}
	}

	return c.validateListeners()
}

// validateListeners checks that enabled servers use distinct valid ports
func (c *Config) validateListeners() error {
	listeners := []struct {
		name    string
		enabled bool
		port    int
	}{
		{"http", c.HTTP.Enabled, c.HTTP.Port},
		{"websocket", c.WebSocket.Enabled, c.WebSocket.Port},
		{"metrics", c.Metrics.Enabled, c.Metrics.Port},
	}

	used := make(map[int]string)
	for _, l := range listeners {
		if !l.enabled {
			continue
		}
		if l.port < 1 || l.port > 65535 {
			return invalid("%s.port %d out of range", l.name, l.port)
		}
		if other, ok := used[l.port]; ok {
			return invalid("%s.port %d already used by %s", l.name, l.port, other)
		}
		used[l.port] = l.name
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "check configuration")
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Redacted returns a copy with credentials masked
func (c *Config) Redacted() *Config {
	r := c.Clone()
	mask := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	mask(&r.NATS.Password)
	mask(&r.NATS.Token)
	mask(&r.MQTT.Password)
	return r
}

// InstanceName returns the instance id, falling back to the platform id
func (c *Config) InstanceName() string {
	if c.Platform.InstanceID != "" {
		return c.Platform.InstanceID
	}
	return c.Platform.ID
}

// SaveToFile saves the configuration as JSON, or YAML for .yaml/.yml paths
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if formatOf(path) == "yaml" {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return writeLayer(path, data)
}

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "check config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Modify applies fn to a copy of the configuration and stores the result
// if it validates
func (sc *SafeConfig) Modify(fn func(*Config)) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	next := sc.config.Clone()
	fn(next)
	if err := next.Validate(); err != nil {
		return err
	}
	sc.config = next
	return nil
}

// Duration is a time.Duration that reads from JSON as a Go duration
// string ("3s") or as nanoseconds
type Duration time.Duration

// Duration returns the value as time.Duration
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: duration %q", errors.ErrInvalidConfig, val)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val))
	default:
		return fmt.Errorf("%w: duration must be a string or number", errors.ErrInvalidConfig)
	}
	return nil
}
