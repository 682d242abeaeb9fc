package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"worker-rpc/channel"
	"worker-rpc/client"
	"worker-rpc/evaluation"
	"worker-rpc/loadbalance"
	"worker-rpc/registry"
	"worker-rpc/transport"
)

var childCommand = &cli.Command{
	Name:  "child",
	Usage: "run the worker side, calling a terminal's evaluation listener",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "stdio",
			Usage: "Talk to the parent over stdin/stdout frames.",
		},
		&cli.StringFlag{
			Name:  "connect",
			Usage: "Terminal endpoint to attach to (ws://host:port/path or grpc://host:port).",
		},
		&cli.BoolFlag{
			Name:  "discover",
			Usage: "Find the terminal in the registry (needs registry.endpoints).",
		},
		&cli.StringFlag{
			Name:  "worker-id",
			Usage: "Worker id, the key for consistent-hash terminal selection.",
		},
	},
	Action: childAction,
}

func childAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.log.Sync()
	ctx := c.Context

	workerID := c.String("worker-id")
	if workerID == "" {
		workerID = uuid.NewString()
	}
	log := e.log.With("worker", workerID)

	t, err := dialParent(c, e, workerID)
	if err != nil {
		return err
	}

	opts := append(e.channelOpts(), channel.WithID(workerID))
	p := client.New(channel.New(t, opts...), client.WithLogger(log), client.WithCallTimeout(e.cfg.CallTimeout))
	runErr := runWorker(ctx, evaluation.NewProxy(p), log)

	closeCtx, cancel := context.WithTimeout(context.Background(), e.cfg.CloseGrace+time.Second)
	defer cancel()
	if err := p.Close(closeCtx); err != nil {
		log.Debugw("closing channel", "error", err)
	}
	return runErr
}

func dialParent(c *cli.Context, e *env, workerID string) (transport.Transport, error) {
	ctx := c.Context
	switch {
	case c.Bool("stdio"):
		s, err := transport.NewStdio(e.codec, e.transportOpts()...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case c.String("connect") != "":
		return client.DialEndpoint(ctx, registry.Endpoint{Addr: c.String("connect")}, e.transportOpts()...)
	case c.Bool("discover"):
		if len(e.cfg.Registry.Endpoints) == 0 {
			return nil, errors.New("--discover needs registry.endpoints in the config")
		}
		reg, release, err := e.registry()
		if err != nil {
			return nil, err
		}
		defer release()
		bal, err := loadbalance.New(e.cfg.Registry.Balancer)
		if err != nil {
			return nil, err
		}
		ep, err := client.Discover(ctx, reg, bal, e.cfg.Registry.Service, workerID)
		if err != nil {
			return nil, err
		}
		e.log.Infow("attaching to terminal", "addr", ep.Addr, "balancer", bal.Name())
		return client.DialEndpoint(ctx, ep, e.transportOpts()...)
	}
	return nil, fmt.Errorf("one of --stdio, --connect or --discover is required")
}
