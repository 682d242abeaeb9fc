package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"worker-rpc/channel"
	"worker-rpc/evaluation"
	"worker-rpc/registry"
	"worker-rpc/server"
	"worker-rpc/transport"
)

var listenCommand = &cli.Command{
	Name:  "listen",
	Usage: "serve this terminal to workers over websocket or gRPC",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "Override listen.addr.",
		},
		&cli.StringFlag{
			Name:  "transport",
			Usage: "Override listen.transport. One of [websocket,grpc].",
		},
		&cli.StringFlag{
			Name:  "advertise",
			Usage: "Host:port to advertise in the registry (defaults to the listen address).",
		},
	},
	Action: listenAction,
}

// sessions tracks the exposed listener of every attached worker.
type sessions struct {
	mu      sync.Mutex
	handles map[*server.Handle]struct{}
}

func (s *sessions) add(h *server.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[h] = struct{}{}
	go func() {
		<-h.Channel().Done()
		s.mu.Lock()
		delete(s.handles, h)
		s.mu.Unlock()
	}()
}

// status reports the attached workers as JSON.
func (s *sessions) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for h := range s.handles {
		ids = append(ids, h.Channel().ID())
	}
	s.mu.Unlock()
	sort.Strings(ids)

	b, err := json.Marshal(struct {
		Workers []string
	}{Workers: ids})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

func (s *sessions) shutdown(ctx context.Context) {
	s.mu.Lock()
	handles := make([]*server.Handle, 0, len(s.handles))
	for h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *server.Handle) {
			defer wg.Done()
			_ = h.Shutdown(ctx)
		}(h)
	}
	wg.Wait()
}

func listenAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.log.Sync()
	if addr := c.String("addr"); addr != "" {
		e.cfg.Listen.Addr = addr
	}
	if tr := c.String("transport"); tr != "" {
		e.cfg.Listen.Transport = tr
	}
	if err := e.cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", e.cfg.Listen.Addr)
	if err != nil {
		return err
	}
	defer lis.Close()
	advertise := c.String("advertise")
	if advertise == "" {
		advertise = lis.Addr().String()
	}

	con := newConsole(os.Stdin, os.Stdout)
	live := &sessions{handles: make(map[*server.Handle]struct{})}
	accept := func(t transport.Transport) {
		holder := &evaluation.Holder{}
		holder.Set(newTerminal(con, e.log, func() { _ = t.Close() }))
		h, err := evaluation.Expose(holder, channel.New(t, e.channelOpts()...), e.serverOpts()...)
		if err != nil {
			e.log.Warnw("exposing listener", "error", err)
			_ = t.Close()
			return
		}
		e.log.Infow("worker attached", "channel", h.Channel().ID())
		live.add(h)
	}

	ep := registry.Endpoint{ID: uuid.NewString(), Weight: 1}
	var serve func() error
	var stopServer func()
	switch e.cfg.Listen.Transport {
	case "grpc":
		ep.Addr = "grpc://" + advertise
		s := grpc.NewServer()
		transport.RegisterGRPC(s, func(g *transport.GRPC) { accept(g) }, e.transportOpts()...)
		serve = func() error { return s.Serve(lis) }
		stopServer = s.GracefulStop
	default:
		ep.Addr = "ws://" + advertise + e.cfg.Listen.Path
		router := httprouter.New()
		router.Handler(http.MethodGet, e.cfg.Listen.Path, transport.WebSocketHandler(func(ws *transport.WebSocket) { accept(ws) }, e.transportOpts()...))
		router.GET("/status", live.status)
		hs := &http.Server{Handler: router}
		serve = func() error {
			if err := hs.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
		stopServer = func() { _ = hs.Shutdown(context.Background()) }
	}

	reg, release, err := e.registry()
	if err != nil {
		return err
	}
	defer release()
	if err := reg.Register(ctx, e.cfg.Registry.Service, ep, e.cfg.Registry.TTL); err != nil {
		return err
	}
	e.log.Infow("terminal listening", "addr", ep.Addr, "service", e.cfg.Registry.Service)

	serveErr := make(chan error, 1)
	go func() { serveErr <- serve() }()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
	}

	// Deregister first so no new worker picks this terminal.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.CloseGrace)
	defer cancel()
	if derr := reg.Deregister(shutdownCtx, e.cfg.Registry.Service, ep.ID); derr != nil {
		e.log.Warnw("deregistering", "error", derr)
	}
	live.shutdown(shutdownCtx)
	stopServer()
	return err
}
