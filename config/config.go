// Package config loads and validates bridge configuration from a JSON file
// with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/CodeByJF/mqbridge/errors"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "MQBRIDGE"

// Config is the complete bridge configuration.
type Config struct {
	Broker     BrokerConfig     `json:"broker"`
	Store      StoreConfig      `json:"store"`
	Queue      QueueConfig      `json:"queue"`
	Writer     WriterConfig     `json:"writer"`
	Transform  TransformConfig  `json:"transform"`
	DeadLetter DeadLetterConfig `json:"dead_letter"`
	HTTP       HTTPConfig       `json:"http"`
}

// BrokerConfig configures the NATS subscription endpoint.
type BrokerConfig struct {
	URL      string   `json:"url"`
	Subjects []string `json:"subjects"`
	// DeliveryMode is "core" (ack at receive, best-effort) or "jetstream"
	// (ack after the write is confirmed). There is no default: the
	// delivery contract must be an explicit choice.
	DeliveryMode string `json:"delivery_mode"`
	Stream       string `json:"stream,omitempty"`
	Durable      string `json:"durable,omitempty"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`

	TLSCert string `json:"tls_cert,omitempty"`
	TLSKey  string `json:"tls_key,omitempty"`
	TLSCA   string `json:"tls_ca,omitempty"`

	ConnectTimeout   time.Duration `json:"connect_timeout,omitempty"`
	DrainTimeout     time.Duration `json:"drain_timeout,omitempty"`
	AckWait          time.Duration `json:"ack_wait,omitempty"`
	ReconnectInitial time.Duration `json:"reconnect_initial,omitempty"`
	ReconnectMax     time.Duration `json:"reconnect_max,omitempty"`
}

// StoreConfig configures the MongoDB document store endpoint.
type StoreConfig struct {
	URI            string        `json:"uri"`
	Database       string        `json:"database,omitempty"`
	Collection     string        `json:"collection,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	WriteTimeout   time.Duration `json:"write_timeout,omitempty"`
}

// QueueConfig bounds the in-flight message buffer.
type QueueConfig struct {
	Capacity int `json:"capacity,omitempty"`
	// OverflowPolicy is "block", "drop_oldest", or "drop_newest".
	OverflowPolicy string `json:"overflow_policy,omitempty"`
}

// WriterConfig governs write retries.
type WriterConfig struct {
	MaxAttempts  int           `json:"max_attempts,omitempty"`
	InitialDelay time.Duration `json:"initial_delay,omitempty"`
	MaxDelay     time.Duration `json:"max_delay,omitempty"`
	// AckOnFailure acknowledges terminally failed messages instead of
	// leaving them to the broker's redelivery loop.
	AckOnFailure bool `json:"ack_on_failure,omitempty"`
}

// TransformConfig selects and parameterizes the transformer.
type TransformConfig struct {
	Mode            string `json:"mode,omitempty"`
	PathPrefix      string `json:"path_prefix,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	WeightAttribute string `json:"weight_attribute,omitempty"`
	FatAttribute    string `json:"fat_attribute,omitempty"`
}

// DeadLetterConfig names the broker subject for unprocessable messages.
// Empty means log-only.
type DeadLetterConfig struct {
	Subject string `json:"subject,omitempty"`
}

// HTTPConfig configures the metrics and health endpoint.
type HTTPConfig struct {
	Port    int  `json:"port,omitempty"`
	Enabled bool `json:"enabled,omitempty"`
}

// Default returns the baseline configuration before file and env layers.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:              "nats://localhost:4222",
			ConnectTimeout:   5 * time.Second,
			DrainTimeout:     30 * time.Second,
			AckWait:          30 * time.Second,
			ReconnectInitial: time.Second,
			ReconnectMax:     time.Minute,
		},
		Store: StoreConfig{
			Database:       "mqbridge",
			Collection:     "documents",
			ConnectTimeout: 10 * time.Second,
			WriteTimeout:   30 * time.Second,
		},
		Queue: QueueConfig{
			Capacity:       256,
			OverflowPolicy: "block",
		},
		Writer: WriterConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			AckOnFailure: true,
		},
		Transform: TransformConfig{
			Mode:       "json",
			PathPrefix: "bridge",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Enabled: true,
		},
	}
}

// Load reads the configuration: defaults, then the optional JSON file,
// then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", fmt.Sprintf("read %s", path))
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", fmt.Sprintf("parse %s", path))
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(key string, target *string) {
		if v := os.Getenv(EnvPrefix + "_" + key); v != "" {
			*target = v
		}
	}
	setInt := func(key string, target *int) {
		if v := os.Getenv(EnvPrefix + "_" + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*target = n
			}
		}
	}
	setDuration := func(key string, target *time.Duration) {
		if v := os.Getenv(EnvPrefix + "_" + key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*target = d
			}
		}
	}
	setBool := func(key string, target *bool) {
		if v := os.Getenv(EnvPrefix + "_" + key); v != "" {
			*target = strings.EqualFold(v, "true")
		}
	}

	setString("BROKER_URL", &c.Broker.URL)
	if v := os.Getenv(EnvPrefix + "_BROKER_SUBJECTS"); v != "" {
		c.Broker.Subjects = splitAndTrim(v)
	}
	setString("BROKER_DELIVERY_MODE", &c.Broker.DeliveryMode)
	setString("BROKER_STREAM", &c.Broker.Stream)
	setString("BROKER_DURABLE", &c.Broker.Durable)
	setString("BROKER_USERNAME", &c.Broker.Username)
	setString("BROKER_PASSWORD", &c.Broker.Password)
	setString("BROKER_TOKEN", &c.Broker.Token)
	setDuration("BROKER_ACK_WAIT", &c.Broker.AckWait)

	setString("STORE_URI", &c.Store.URI)
	setString("STORE_DATABASE", &c.Store.Database)
	setString("STORE_COLLECTION", &c.Store.Collection)
	setDuration("STORE_WRITE_TIMEOUT", &c.Store.WriteTimeout)

	setInt("QUEUE_CAPACITY", &c.Queue.Capacity)
	setString("QUEUE_OVERFLOW_POLICY", &c.Queue.OverflowPolicy)

	setInt("WRITER_MAX_ATTEMPTS", &c.Writer.MaxAttempts)
	setBool("WRITER_ACK_ON_FAILURE", &c.Writer.AckOnFailure)

	setString("TRANSFORM_MODE", &c.Transform.Mode)
	setString("TRANSFORM_PATH_PREFIX", &c.Transform.PathPrefix)
	setString("TRANSFORM_TIMEZONE", &c.Transform.Timezone)

	setString("DEAD_LETTER_SUBJECT", &c.DeadLetter.Subject)

	setInt("HTTP_PORT", &c.HTTP.Port)
	setBool("HTTP_ENABLED", &c.HTTP.Enabled)
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate rejects configurations the bridge cannot start with.
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", msg)
	}

	if c.Broker.URL == "" {
		return invalid("broker.url is required")
	}
	if len(c.Broker.Subjects) == 0 {
		return invalid("broker.subjects must name at least one subject")
	}
	switch c.Broker.DeliveryMode {
	case "core":
	case "jetstream":
		if c.Broker.Stream == "" {
			return invalid("broker.stream is required in jetstream mode")
		}
	case "":
		return invalid("broker.delivery_mode must be set explicitly (core or jetstream)")
	default:
		return invalid(fmt.Sprintf("unknown broker.delivery_mode %q", c.Broker.DeliveryMode))
	}

	if c.Store.URI == "" {
		return invalid("store.uri is required")
	}

	if c.Queue.Capacity <= 0 {
		return invalid("queue.capacity must be positive")
	}
	switch c.Queue.OverflowPolicy {
	case "block", "drop_oldest", "drop_newest":
	default:
		return invalid(fmt.Sprintf("unknown queue.overflow_policy %q", c.Queue.OverflowPolicy))
	}

	if c.Writer.MaxAttempts <= 0 {
		return invalid("writer.max_attempts must be positive")
	}

	switch c.Transform.Mode {
	case "json", "measurement":
	default:
		return invalid(fmt.Sprintf("unknown transform.mode %q", c.Transform.Mode))
	}

	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return invalid(fmt.Sprintf("http.port %d out of range", c.HTTP.Port))
	}

	return nil
}
