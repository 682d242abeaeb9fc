// Package config loads bridge settings from YAML over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"worker-rpc/codec"
)

type Config struct {
	Codec             string        `yaml:"codec"`
	CloseGrace        time.Duration `yaml:"close_grace"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	DispatchTimeout   time.Duration `yaml:"dispatch_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RateLimit         RateLimit     `yaml:"rate_limit"`
	Log               Log           `yaml:"log"`
	Registry          Registry      `yaml:"registry"`
	Listen            Listen        `yaml:"listen"`
}

// RateLimit bounds dispatch on the exposer. A zero Rate disables it.
type RateLimit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Registry configures endpoint discovery. No etcd endpoints means the
// in-process registry.
type Registry struct {
	Endpoints []string `yaml:"endpoints"`
	TTL       int64    `yaml:"ttl"`
	Service   string   `yaml:"service"`
	Balancer  string   `yaml:"balancer"`
}

type Listen struct {
	Addr      string `yaml:"addr"`
	Transport string `yaml:"transport"` // websocket or grpc
	Path      string `yaml:"path"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Codec:             "json",
		CloseGrace:        2 * time.Second,
		HeartbeatInterval: 0,
		Log: Log{
			Level: "info",
		},
		Registry: Registry{
			TTL:      10,
			Service:  "evaluation-listener",
			Balancer: "round_robin",
		},
		Listen: Listen{
			Addr:      "127.0.0.1:7420",
			Transport: "websocket",
			Path:      "/rpc",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := codec.ParseType(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.CloseGrace < 0 {
		errs = append(errs, errors.New("close_grace must not be negative"))
	}
	if c.CallTimeout < 0 || c.DispatchTimeout < 0 || c.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("timeouts and intervals must not be negative"))
	}
	if c.RateLimit.Rate < 0 || (c.RateLimit.Rate > 0 && c.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("rate_limit needs a positive burst when rate is set"))
	}
	if c.Registry.TTL < 1 {
		errs = append(errs, errors.New("registry.ttl must be at least 1 second"))
	}
	switch c.Listen.Transport {
	case "websocket", "grpc":
	default:
		errs = append(errs, fmt.Errorf("unsupported listen.transport %q", c.Listen.Transport))
	}
	return errors.Join(errs...)
}
