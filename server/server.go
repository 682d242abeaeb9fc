// Package server implements the exposer: it serves a table of methods to the
// peer of a channel.
//
// Request processing pipeline:
//
//	channel recvLoop → Handle.HandleRequest
//	  → go dispatch (one goroutine per request)
//	    → Middleware Chain → businessHandler (method lookup, invoke) → Channel.Reply
//
// A method that never returns only holds its own goroutine; other requests
// keep flowing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"worker-rpc/channel"
	"worker-rpc/envelope"
	"worker-rpc/middleware"
	"worker-rpc/rpcerr"
)

// KindEncoding is reported when a method result cannot be marshalled.
const KindEncoding = "EncodingError"

// Method is one exposed function. args holds the raw JSON arguments in call
// order; the result is marshalled to JSON, nil meaning "no value".
type Method func(ctx context.Context, args []json.RawMessage) (any, error)

// Interface maps method names to implementations.
type Interface map[string]Method

// Names returns the method names in sorted order.
func (i Interface) Names() []string {
	names := make([]string, 0, len(i))
	for name := range i {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle is an exposed interface bound to a channel.
type Handle struct {
	ch      *channel.Channel
	methods Interface
	handler middleware.HandlerFunc
	log     *zap.SugaredLogger

	mu       sync.Mutex
	wg       sync.WaitGroup
	shutdown bool
}

type options struct {
	log         *zap.SugaredLogger
	middlewares []middleware.Middleware
}

// Option configures Expose.
type Option func(*options)

// WithLogger sets the exposer logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMiddleware appends middlewares to the dispatch chain, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// Expose serves target on ch and starts the channel. The method table is
// copied; later changes to target have no effect.
func Expose(target Interface, ch *channel.Channel, opts ...Option) (*Handle, error) {
	if ch == nil {
		return nil, errors.New("server: nil channel")
	}
	o := options{log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&o)
	}

	methods := make(Interface, len(target))
	for name, m := range target {
		if m == nil {
			return nil, fmt.Errorf("server: method %q is nil", name)
		}
		methods[name] = m
	}

	h := &Handle{
		ch:      ch,
		methods: methods,
		log:     o.log.Named("exposer").With("channel", ch.ID()),
	}
	// Build the chain once, not per request.
	h.handler = middleware.Chain(o.middlewares...)(h.businessHandler)

	if err := ch.SetHandler(h); err != nil {
		return nil, err
	}
	ch.Start()
	h.log.Debugw("interface exposed", "methods", methods.Names())
	return h, nil
}

// Channel returns the channel the interface is served on.
func (h *Handle) Channel() *channel.Channel {
	return h.ch
}

// HandleRequest implements channel.RequestHandler.
func (h *Handle) HandleRequest(ctx context.Context, req *envelope.Envelope) {
	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		go h.reply(ctx, envelope.Fail(req.ID, "interface is shutting down", string(rpcerr.KindChannelClosed)))
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		h.reply(ctx, h.dispatch(ctx, req))
	}()
}

func (h *Handle) dispatch(ctx context.Context, req *envelope.Envelope) (resp *envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorw("panic in dispatch chain", "method", req.Method, "panic", r)
			resp = envelope.Fail(req.ID, fmt.Sprint(r), KindPanic)
		}
	}()
	resp = h.handler(ctx, req)
	if resp == nil {
		return envelope.Fail(req.ID, "no response produced", rpcerr.DefaultRemoteKind)
	}
	resp.Kind = envelope.KindResponse
	resp.ID = req.ID
	return resp
}

func (h *Handle) reply(ctx context.Context, resp *envelope.Envelope) {
	if err := h.ch.Reply(ctx, resp); err != nil {
		h.log.Debugw("failed to send response", "id", resp.ID, "error", err)
	}
}

// businessHandler looks up and invokes the method. It has the HandlerFunc
// signature so middlewares can wrap it.
func (h *Handle) businessHandler(ctx context.Context, req *envelope.Envelope) *envelope.Envelope {
	m, ok := h.methods[req.Method]
	if !ok {
		return envelope.Fail(req.ID, fmt.Sprintf("unknown method %q", req.Method), string(rpcerr.KindUnknownMethod))
	}

	v, err := invoke(ctx, m, req.Args)
	if err != nil {
		return envelope.Fail(req.ID, err.Error(), rpcerr.KindOf(err))
	}
	result, err := encodeResult(v)
	if err != nil {
		return envelope.Fail(req.ID, err.Error(), rpcerr.KindOf(err))
	}
	return envelope.Success(req.ID, result)
}

// invoke calls m, turning a panic into a *PanicError.
func invoke(ctx context.Context, m Method, args []json.RawMessage) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Value: r}
		}
	}()
	return m(ctx, args)
}

// encodeResult marshals a method result. A panicking MarshalJSON becomes a
// *PanicError, any other failure an EncodingError.
func encodeResult(v any) (result json.RawMessage, err error) {
	switch r := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return r, nil
	}
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &PanicError{Value: r}
		}
	}()
	b, err := json.Marshal(v)
	if err != nil {
		return nil, rpcerr.New(KindEncoding, fmt.Sprintf("encoding result: %v", err))
	}
	return b, nil
}

// Shutdown closes the channel gracefully and waits for in-flight dispatches,
// bounded by ctx.
func (h *Handle) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()

	closeErr := h.ch.Close(ctx)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return closeErr
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for ongoing calls to finish: %w", ctx.Err())
	}
}
