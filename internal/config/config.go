// Package config loads broker and client settings from a YAML file, an
// optional .env file and EVENTBUS_* environment variables, in that order of
// increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/pocketbus/internal/core/broker"
	"github.com/zeusync/pocketbus/internal/core/events/bus"
	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EVENTBUS_"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete configuration of a broker or client process.
type Config struct {
	Log       Log       `yaml:"log"`
	Transport Transport `yaml:"transport"`
	Broker    Broker    `yaml:"broker"`
	Client    Client    `yaml:"client"`
}

type Log struct {
	Level    string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Encoding string `yaml:"encoding" validate:"omitempty,oneof=json console"`
}

type Transport struct {
	MaxMessageSize   int           `yaml:"max_message_size" validate:"gte=0"`
	DialTimeout      time.Duration `yaml:"dial_timeout" validate:"gte=0"`
	WriteTimeout     time.Duration `yaml:"write_timeout" validate:"gte=0"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" validate:"gte=0"`
}

type Broker struct {
	PublisherAddr  string        `yaml:"publisher_addr" validate:"required,endpoint"`
	SubscriberAddr string        `yaml:"subscriber_addr" validate:"required,endpoint,nefield=PublisherAddr"`
	MetricsAddr    string        `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	GracePeriod    time.Duration `yaml:"grace_period" validate:"gte=0"`
	SendQueueSize  int           `yaml:"send_queue_size" validate:"gte=0"`
}

type Client struct {
	Identity       string        `yaml:"identity"`
	PublisherAddr  string        `yaml:"publisher_addr" validate:"required,endpoint"`
	SubscriberAddr string        `yaml:"subscriber_addr" validate:"required,endpoint,nefield=PublisherAddr"`
	StopTimeout    time.Duration `yaml:"stop_timeout" validate:"gte=0"`
	RetryMin       time.Duration `yaml:"retry_min" validate:"gte=0"`
	RetryMax       time.Duration `yaml:"retry_max" validate:"gte=0"`
}

// Default returns the configuration used when nothing overrides it. The
// broker binds every interface on ports 5559 (publishers) and 5560
// (subscribers); clients dial them on localhost.
func Default() *Config {
	b := broker.DefaultConfig()
	c := bus.DefaultConfig()
	t := protocol.DefaultConfig()
	return &Config{
		Log: Log{Level: "info", Encoding: "json"},
		Transport: Transport{
			MaxMessageSize:   t.MaxMessageSize,
			DialTimeout:      t.DialTimeout,
			WriteTimeout:     t.WriteTimeout,
			HandshakeTimeout: t.HandshakeTimeout,
		},
		Broker: Broker{
			PublisherAddr:  b.PublisherEndpoint,
			SubscriberAddr: b.SubscriberEndpoint,
			GracePeriod:    b.GracePeriod,
			SendQueueSize:  b.SendQueueSize,
		},
		Client: Client{
			PublisherAddr:  "ws://127.0.0.1:5559",
			SubscriberAddr: "ws://127.0.0.1:5560",
			StopTimeout:    c.StopTimeout,
			RetryMin:       c.RetryMin,
			RetryMax:       c.RetryMax,
		},
	}
}

// Options controls where Load looks for settings.
type Options struct {
	// Path is a YAML file. Empty means defaults only.
	Path string
	// EnvFiles are loaded with godotenv before reading the environment. A
	// missing file is not an error. Variables already set win.
	EnvFiles []string
}

// Load builds a validated Config.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.Path, err)
		}
		if err := decodeYAML(bytes.NewReader(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", opts.Path, err)
		}
	}

	for _, file := range opts.EnvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LOG_LEVEL":              &c.Log.Level,
		"LOG_ENCODING":           &c.Log.Encoding,
		"BROKER_PUBLISHER_ADDR":  &c.Broker.PublisherAddr,
		"BROKER_SUBSCRIBER_ADDR": &c.Broker.SubscriberAddr,
		"BROKER_METRICS_ADDR":    &c.Broker.MetricsAddr,
		"CLIENT_IDENTITY":        &c.Client.Identity,
		"CLIENT_PUBLISHER_ADDR":  &c.Client.PublisherAddr,
		"CLIENT_SUBSCRIBER_ADDR": &c.Client.SubscriberAddr,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"BROKER_GRACE_PERIOD":         &c.Broker.GracePeriod,
		"CLIENT_STOP_TIMEOUT":         &c.Client.StopTimeout,
		"CLIENT_RETRY_MIN":            &c.Client.RetryMin,
		"CLIENT_RETRY_MAX":            &c.Client.RetryMax,
		"TRANSPORT_DIAL_TIMEOUT":      &c.Transport.DialTimeout,
		"TRANSPORT_WRITE_TIMEOUT":     &c.Transport.WriteTimeout,
		"TRANSPORT_HANDSHAKE_TIMEOUT": &c.Transport.HandshakeTimeout,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, key, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"BROKER_SEND_QUEUE_SIZE":     &c.Broker.SendQueueSize,
		"TRANSPORT_MAX_MESSAGE_SIZE": &c.Transport.MaxMessageSize,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, key, err)
		}
		*dst = n
	}
	return nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("endpoint", validateEndpoint)
	return v
}

// validateEndpoint accepts scheme://host:port addresses of a built-in transport.
func validateEndpoint(fl validator.FieldLevel) bool {
	ep, err := protocol.ParseEndpoint(fl.Field().String())
	if err != nil {
		return false
	}
	switch ep.Scheme {
	case "ws", "quic":
		return true
	default:
		return false
	}
}

func (c *Config) LogOptions() log.Options {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		level = log.LevelInfo
	}
	return log.Options{Level: level, Encoding: c.Log.Encoding}
}

func (c *Config) TransportConfig() protocol.Config {
	return protocol.Config{
		MaxMessageSize:   c.Transport.MaxMessageSize,
		DialTimeout:      c.Transport.DialTimeout,
		WriteTimeout:     c.Transport.WriteTimeout,
		HandshakeTimeout: c.Transport.HandshakeTimeout,
	}.WithDefaults()
}

func (c *Config) BrokerConfig() broker.Config {
	return broker.Config{
		PublisherEndpoint:  c.Broker.PublisherAddr,
		SubscriberEndpoint: c.Broker.SubscriberAddr,
		GracePeriod:        c.Broker.GracePeriod,
		SendQueueSize:      c.Broker.SendQueueSize,
	}
}

func (c *Config) ClientConfig() bus.Config {
	return bus.Config{
		Identity:    c.Client.Identity,
		StopTimeout: c.Client.StopTimeout,
		RetryMin:    c.Client.RetryMin,
		RetryMax:    c.Client.RetryMax,
	}
}
