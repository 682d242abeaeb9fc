// Package channel implements one endpoint of an RPC channel over a Transport.
//
// A Channel multiplexes any number of concurrent calls over a single
// transport. Each outbound call gets a correlation id and a result slot in
// the pending table; a single receive goroutine reads envelopes in order and
// routes them:
//
//	caller-1 ──Call(id=1)──┐
//	caller-2 ──Call(id=2)──┼──→ transport ──→ peer
//	caller-3 ──Call(id=3)──┘
//
//	recvLoop: ←── response(id=2) → pending[2] → caller-2 wakes up
//	          ←── request(id=7)  → RequestHandler (exposer)
//	          ←── close          → graceful shutdown
//
// Lifecycle:
//
//	Open ──close signal sent/received──→ Closing ──all settled / grace over──→ Closed
//	Open ──transport disconnect──────────→ Closing ──(immediately)─────────────→ Closed
//
// Once Closing, new calls fail with ChannelClosed. Calls still pending when
// the channel reaches Closed are settled with ChannelClosed; nothing is ever
// left waiting.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"worker-rpc/envelope"
	"worker-rpc/rpcerr"
	"worker-rpc/transport"
)

// DefaultCloseGrace is how long a closing channel waits for in-flight calls.
const DefaultCloseGrace = 2 * time.Second

// State is the lifecycle state of a channel.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// RequestHandler services inbound call requests. HandleRequest is called on
// the receive goroutine and must not block; it answers later through
// Channel.Reply, exactly once per request.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req *envelope.Envelope)
}

type result struct {
	value json.RawMessage
	err   error
}

// Channel is one endpoint of an RPC channel. Create it with New.
type Channel struct {
	t     transport.Transport
	log   *zap.SugaredLogger
	id    string
	grace time.Duration

	// ctx is handed to request handlers and cancelled once the channel is Closed.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	nextID  uint64
	pending map[uint64]chan result // outbound calls awaiting a response
	inbound map[uint64]bool        // inbound requests awaiting our response; true while replying
	drained chan struct{}          // closed once Closing and nothing is in flight
	reason  string
	handler RequestHandler
	err     error

	startOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Channel) {
		if log != nil {
			c.log = log
		}
	}
}

// WithCloseGrace sets how long a closing channel waits for in-flight calls
// before settling them with ChannelClosed.
func WithCloseGrace(d time.Duration) Option {
	return func(c *Channel) { c.grace = d }
}

// WithID overrides the random channel id used in logs.
func WithID(id string) Option {
	return func(c *Channel) { c.id = id }
}

// New creates an open channel over t. The receive loop starts with Start;
// the exposer and proxy constructors call it.
func New(t transport.Transport, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		t:       t,
		log:     zap.NewNop().Sugar(),
		id:      uuid.NewString(),
		grace:   DefaultCloseGrace,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint64]chan result),
		inbound: make(map[uint64]bool),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("channel").With("channel", c.id)
	return c
}

// ID returns the channel id.
func (c *Channel) ID() string {
	return c.id
}

// SetHandler installs the handler for inbound requests. A channel serves at
// most one exposed interface; a second handler is rejected.
func (c *Channel) SetHandler(h RequestHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return rpcerr.ChannelClosed(c.reason)
	}
	if c.handler != nil {
		return errors.New("channel: an interface is already exposed on this channel")
	}
	c.handler = h
	return nil
}

// Start launches the receive loop. It is safe to call more than once.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		c.log.Debug("channel started")
		go c.recvLoop()
	})
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of outbound calls awaiting a response.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Done is closed once the channel reaches StateClosed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Closing is closed once the channel leaves StateOpen.
func (c *Channel) Closing() <-chan struct{} {
	return c.closing
}

// Err returns the transport error that tore the channel down, or nil after
// an orderly close. Only meaningful once Done is closed.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Call sends a request and waits for its response. It returns the raw
// result (nil for "no value"), an *rpcerr.Error, or ctx.Err() if the caller
// gave up first; a response arriving after that is discarded.
func (c *Channel) Call(ctx context.Context, method string, args []json.RawMessage) (json.RawMessage, error) {
	c.Start()

	id, slot, err := c.register()
	if err != nil {
		return nil, err
	}

	if err := c.t.Send(ctx, envelope.Request(id, method, args)); err != nil {
		c.abandon(id)
		select {
		case r := <-slot: // torn down while sending
			return r.value, r.err
		default:
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, rpcerr.Transport(err)
	}

	select {
	case r := <-slot:
		return r.value, r.err
	case <-ctx.Done():
		c.abandon(id)
		select {
		case r := <-slot:
			return r.value, r.err
		default:
		}
		c.log.Debugw("caller abandoned call", "id", id, "method", method)
		return nil, ctx.Err()
	}
}

// register allocates a correlation id and its result slot.
func (c *Channel) register() (uint64, chan result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return 0, nil, rpcerr.ChannelClosed(c.reason)
	}
	for {
		c.nextID++
		if c.nextID == 0 {
			continue
		}
		if _, busy := c.pending[c.nextID]; !busy {
			break
		}
	}
	slot := make(chan result, 1)
	c.pending[c.nextID] = slot
	return c.nextID, slot, nil
}

// settle delivers r to the caller waiting on id. It reports false if no
// such call is pending (late response for an abandoned call, or a bogus id).
func (c *Channel) settle(id uint64, r result) bool {
	c.mu.Lock()
	slot, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		c.checkDrainedLocked()
	}
	c.mu.Unlock()
	if ok {
		slot <- r
	}
	return ok
}

func (c *Channel) abandon(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.checkDrainedLocked()
	c.mu.Unlock()
}

func (c *Channel) checkDrainedLocked() {
	if c.drained != nil && len(c.pending) == 0 && len(c.inbound) == 0 {
		close(c.drained)
		c.drained = nil
	}
}

// Reply sends the response for an inbound request. Each request is answered
// at most once; replies are accepted while Open or Closing.
func (c *Channel) Reply(ctx context.Context, resp *envelope.Envelope) error {
	c.mu.Lock()
	replying, ok := c.inbound[resp.ID]
	if !ok || replying {
		state := c.state
		c.mu.Unlock()
		if state == StateClosed {
			return rpcerr.ChannelClosed(c.closedReason())
		}
		return fmt.Errorf("channel: request %d is not awaiting a response", resp.ID)
	}
	c.inbound[resp.ID] = true
	c.mu.Unlock()

	err := c.t.Send(ctx, resp)

	c.mu.Lock()
	delete(c.inbound, resp.ID)
	c.checkDrainedLocked()
	c.mu.Unlock()

	if err != nil {
		return rpcerr.Transport(err)
	}
	return nil
}

func (c *Channel) closedReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Channel) recvLoop() {
	for {
		env, err := c.t.Recv(c.ctx)
		if err != nil {
			if transport.IsMalformed(err) {
				c.log.Warnw("dropping malformed message", "error", err)
				continue
			}
			c.disconnected(err)
			return
		}
		if err := env.Validate(); err != nil {
			if env.Kind == envelope.KindResponse && env.ID != 0 {
				// Still settle the caller; the error field wins over the result.
				c.log.Warnw("settling call from invalid response", "envelope", env.String(), "error", err)
				c.handleResponse(env)
				continue
			}
			c.log.Warnw("dropping invalid envelope", "envelope", env.String(), "error", err)
			continue
		}

		switch env.Kind {
		case envelope.KindResponse:
			c.handleResponse(env)
		case envelope.KindRequest:
			c.handleRequest(env)
		case envelope.KindClose:
			c.log.Debugw("received close signal", "reason", env.Reason)
			go c.shutdown(context.Background(), env.Reason, false)
		default:
			c.log.Warnw("dropping envelope of unknown kind", "kind", string(env.Kind))
		}
	}
}

func (c *Channel) handleResponse(env *envelope.Envelope) {
	var r result
	if env.Error != nil {
		r.err = rpcerr.FromFailure(env.Error.Message, env.Error.Kind)
	} else if !envelope.IsNull(env.Result) {
		r.value = env.Result
	}
	if !c.settle(env.ID, r) {
		c.log.Debugw("dropping response for unknown or abandoned call", "id", env.ID)
	}
}

func (c *Channel) handleRequest(env *envelope.Envelope) {
	c.mu.Lock()
	if _, dup := c.inbound[env.ID]; dup {
		c.mu.Unlock()
		c.log.Warnw("dropping request with duplicate id", "id", env.ID, "method", env.Method)
		return
	}
	c.inbound[env.ID] = false
	state, h := c.state, c.handler
	c.mu.Unlock()

	switch {
	case state != StateOpen:
		go c.reject(env, "channel is closing", string(rpcerr.KindChannelClosed))
	case h == nil:
		go c.reject(env, "no interface is exposed on this channel", string(rpcerr.KindUnknownMethod))
	default:
		h.HandleRequest(c.ctx, env)
	}
}

func (c *Channel) reject(req *envelope.Envelope, msg, kind string) {
	if err := c.Reply(c.ctx, envelope.Fail(req.ID, msg, kind)); err != nil {
		c.log.Debugw("failed to reject request", "id", req.ID, "error", err)
	}
}

// Close closes the channel gracefully: it sends a close signal, stops new
// calls, waits up to the grace period (or until ctx is done) for in-flight
// calls, settles the rest with ChannelClosed and releases the transport.
// Close returns once the channel is Closed or ctx is done.
func (c *Channel) Close(ctx context.Context) error {
	return c.CloseWithReason(ctx, "channel closed")
}

// CloseWithReason is Close with a reason reported to the peer.
func (c *Channel) CloseWithReason(ctx context.Context, reason string) error {
	c.shutdown(ctx, reason, true)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) shutdown(ctx context.Context, reason string, signal bool) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.reason = reason
	close(c.closing)
	drained := make(chan struct{})
	if len(c.pending) == 0 && len(c.inbound) == 0 {
		close(drained)
	} else {
		c.drained = drained
	}
	c.mu.Unlock()

	c.log.Debugw("channel closing", "reason", reason, "local", signal)
	if signal {
		if err := c.t.Send(ctx, envelope.Close(reason)); err != nil {
			c.log.Debugw("failed to send close signal", "error", err)
		}
	}

	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		c.log.Debugw("close grace period expired", "pending", c.Pending())
	case <-ctx.Done():
	case <-c.done:
		return
	}
	c.finish(nil)
}

// disconnected handles a dead transport: nothing more can arrive, so every
// pending call is settled right away.
func (c *Channel) disconnected(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) {
		c.log.Debugw("transport closed", "error", err)
		err = nil
	} else {
		c.log.Warnw("transport failed", "error", err)
	}

	c.mu.Lock()
	if c.state == StateOpen {
		c.state = StateClosing
		c.reason = "transport disconnected"
		close(c.closing)
	}
	c.mu.Unlock()
	c.finish(err)
}

func (c *Channel) finish(cause error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	pending := c.pending
	c.pending = make(map[uint64]chan result)
	c.inbound = make(map[uint64]bool)
	c.drained = nil
	c.err = cause
	closeErr := rpcerr.ChannelClosed(c.reason)
	c.mu.Unlock()

	for id, slot := range pending {
		c.log.Debugw("settling pending call at close", "id", id)
		slot <- result{err: closeErr}
	}

	c.cancel()
	if err := c.t.Close(); err != nil {
		c.log.Debugw("error releasing transport", "error", err)
	}
	close(c.done)
	c.log.Debugw("channel closed", "settled", len(pending))
}
