// Package client implements the proxy side: calls on a Proxy become request
// envelopes on a channel and resolve with the peer's response.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"worker-rpc/channel"
	"worker-rpc/envelope"
)

// Proxy issues calls to the interface exposed by the channel peer.
type Proxy struct {
	ch      *channel.Channel
	log     *zap.SugaredLogger
	timeout time.Duration
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the proxy logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Proxy) {
		if log != nil {
			p.log = log
		}
	}
}

// WithCallTimeout bounds every call that has no earlier deadline. Zero
// means calls wait until the response or channel closure.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Proxy) { p.timeout = d }
}

// New returns a proxy over ch and starts the channel.
func New(ch *channel.Channel, opts ...Option) *Proxy {
	p := &Proxy{ch: ch, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.Named("proxy").With("channel", ch.ID())
	ch.Start()
	return p
}

// Channel returns the underlying channel.
func (p *Proxy) Channel() *channel.Channel {
	return p.ch
}

// Call invokes method on the peer with args and decodes the result into
// reply. A nil reply discards the result; a result of "no value" leaves
// reply untouched.
//
// Failures are *rpcerr.Error values (UnknownMethod, RemoteInvocationError,
// ChannelClosed, TransportError), or ctx.Err() if ctx ends first.
func (p *Proxy) Call(ctx context.Context, method string, reply any, args ...any) error {
	raw, err := envelope.EncodeArgs(args...)
	if err != nil {
		return fmt.Errorf("client: %s: %w", method, err)
	}

	if p.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
	}

	result, err := p.ch.Call(ctx, method, raw)
	if err != nil {
		p.log.Debugw("call failed", "method", method, "error", err)
		return err
	}
	if reply == nil || result == nil {
		return nil
	}
	if err := json.Unmarshal(result, reply); err != nil {
		return fmt.Errorf("client: decoding %s result: %w", method, err)
	}
	return nil
}

// Close closes the channel gracefully.
func (p *Proxy) Close(ctx context.Context) error {
	return p.ch.Close(ctx)
}

// Raw returns the undecoded result of a call, nil for "no value".
func (p *Proxy) Raw(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := p.Call(ctx, method, &out, args...); err != nil {
		return nil, err
	}
	return out, nil
}
