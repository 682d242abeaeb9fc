package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"worker-rpc/channel"
	"worker-rpc/codec"
	"worker-rpc/config"
	"worker-rpc/logging"
	"worker-rpc/middleware"
	"worker-rpc/registry"
	"worker-rpc/server"
	"worker-rpc/transport"
)

// env is what every command builds from flags and the config file.
type env struct {
	cfg   config.Config
	log   *zap.SugaredLogger
	codec codec.CodecType
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if name := c.String("codec"); name != "" {
		cfg.Codec = name
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	ct, err := codec.ParseType(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, codec: ct}, nil
}

func (e *env) channelOpts() []channel.Option {
	return []channel.Option{
		channel.WithLogger(e.log),
		channel.WithCloseGrace(e.cfg.CloseGrace),
	}
}

func (e *env) transportOpts() []transport.Option {
	return []transport.Option{
		transport.WithLogger(e.log),
		transport.WithHeartbeat(e.cfg.HeartbeatInterval),
	}
}

// serverOpts builds the exposer dispatch chain: logging outermost, then rate
// limiting, then the dispatch timeout.
func (e *env) serverOpts() []server.Option {
	mws := []middleware.Middleware{middleware.LoggingMiddleware(e.log)}
	if rl := e.cfg.RateLimit; rl.Rate > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(rl.Rate, rl.Burst))
	}
	if d := e.cfg.DispatchTimeout; d > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(d))
	}
	return []server.Option{server.WithLogger(e.log), server.WithMiddleware(mws...)}
}

// registry returns the etcd registry when endpoints are configured, else an
// in-process one. The returned func releases it.
func (e *env) registry() (registry.Registry, func(), error) {
	if len(e.cfg.Registry.Endpoints) == 0 {
		return registry.NewMemoryRegistry(), func() {}, nil
	}
	reg, err := registry.NewEtcdRegistry(e.cfg.Registry.Endpoints, e.log.Desugar())
	if err != nil {
		return nil, nil, err
	}
	return reg, func() {
		if err := reg.Close(); err != nil {
			e.log.Debugw("closing registry", "error", err)
		}
	}, nil
}
