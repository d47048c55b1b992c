package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/v2xstreams/errors"
)

// DefaultEnvPrefix prefixes environment overrides, e.g. V2X_SOURCE_HOST
const DefaultEnvPrefix = "V2X"

// envKind is how an override value is parsed
type envKind int

const (
	envString envKind = iota
	envInt
	envBool
	envList
)

// envOverride maps an environment variable suffix to a config path
type envOverride struct {
	suffix string
	path   []string
	kind   envKind
}

var envOverrides = []envOverride{
	{"PLATFORM_ORG", []string{"platform", "org"}, envString},
	{"PLATFORM_ID", []string{"platform", "id"}, envString},
	{"PLATFORM_INSTANCE_ID", []string{"platform", "instance_id"}, envString},
	{"PLATFORM_ENVIRONMENT", []string{"platform", "environment"}, envString},
	{"SOURCE_HOST", []string{"source", "host"}, envString},
	{"SOURCE_PORT", []string{"source", "port"}, envInt},
	{"SOURCE_CONNECT_TIMEOUT", []string{"source", "connect_timeout"}, envString},
	{"SOURCE_AUTO_START", []string{"source", "auto_start"}, envBool},
	{"SWEEP_INTERVAL", []string{"sweep", "interval"}, envString},
	{"NATS_ENABLED", []string{"nats", "enabled"}, envBool},
	{"NATS_URLS", []string{"nats", "urls"}, envList},
	{"NATS_USERNAME", []string{"nats", "username"}, envString},
	{"NATS_PASSWORD", []string{"nats", "password"}, envString},
	{"NATS_TOKEN", []string{"nats", "token"}, envString},
	{"NATS_BUCKET", []string{"nats", "bucket"}, envString},
	{"MQTT_ENABLED", []string{"mqtt", "enabled"}, envBool},
	{"MQTT_BROKER", []string{"mqtt", "broker"}, envString},
	{"MQTT_USERNAME", []string{"mqtt", "username"}, envString},
	{"MQTT_PASSWORD", []string{"mqtt", "password"}, envString},
	{"MQTT_TOPIC_PREFIX", []string{"mqtt", "topic_prefix"}, envString},
	{"WEBSOCKET_ENABLED", []string{"websocket", "enabled"}, envBool},
	{"WEBSOCKET_PORT", []string{"websocket", "port"}, envInt},
	{"HTTP_ENABLED", []string{"http", "enabled"}, envBool},
	{"HTTP_PORT", []string{"http", "port"}, envInt},
	{"METRICS_ENABLED", []string{"metrics", "enabled"}, envBool},
	{"METRICS_PORT", []string{"metrics", "port"}, envInt},
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables semantic validation after loading.
// Schema validation always runs.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment override prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, file layers and environment overrides, checks the
// result against the embedded schema and decodes it
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, raw)
	}

	if err := l.applyEnvOverrides(merged); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment")
	}

	if err := validateSchema(merged); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "schema validation")
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode configuration")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads one layer as a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readLayer(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch formatOf(path) {
	case "yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	default:
		if err := checkDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides writes environment values into the merged document
func (l *Loader) applyEnvOverrides(doc map[string]any) error {
	for _, o := range envOverrides {
		key := l.envPrefix + "_" + o.suffix
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			continue
		}
		if err := checkEnvValue(key, val); err != nil {
			return err
		}

		var typed any
		switch o.kind {
		case envInt:
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", errors.ErrInvalidConfig, key, val)
			}
			typed = n
		case envBool:
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not a boolean", errors.ErrInvalidConfig, key, val)
			}
			typed = b
		case envList:
			var items []any
			for _, item := range strings.Split(val, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			typed = items
		default:
			typed = val
		}
		setPath(doc, o.path, typed)
	}
	return nil
}

func setPath(doc map[string]any, path []string, value any) {
	node := doc
	for _, key := range path[:len(path)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[key] = child
		}
		node = child
	}
	node[path[len(path)-1]] = value
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromMap(doc map[string]any) (*Config, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MarshalYAML renders the configuration as YAML using its JSON field names
func (c *Config) MarshalYAML() (any, error) {
	return toMap(c)
}
