// Package transport adapts bidirectional message channels to the Transport
// interface used by channels.
//
// Implementations:
//
//   - Pipe:      in-memory connected pair (worker goroutines, tests)
//   - Stream:    protocol frames over an io.ReadWriteCloser (child-process
//     stdio, unix sockets, TCP)
//   - WebSocket: one JSON envelope per websocket message
//   - GRPC:      a bidirectional gRPC stream of JSON envelopes
//
// A Transport must allow one concurrent receiver and any number of
// concurrent senders.
package transport

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"worker-rpc/envelope"
)

// ErrClosed is returned by Send and Recv once the local side closed the transport.
var ErrClosed = errors.New("transport: closed")

// Transport is a bidirectional envelope channel between two processes.
type Transport interface {
	// Send delivers one envelope to the peer.
	Send(ctx context.Context, env *envelope.Envelope) error
	// Recv blocks until the next envelope arrives. A *MalformedError means
	// one message could not be decoded and was skipped; any other error
	// means the transport is gone (io.EOF on orderly peer shutdown).
	Recv(ctx context.Context) (*envelope.Envelope, error)
	// Close releases the transport. Blocked Recv calls return.
	Close() error
}

// MalformedError reports a single undecodable message. The transport is
// still usable.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("transport: malformed message: %v", e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err only concerns one dropped message.
func IsMalformed(err error) bool {
	var m *MalformedError
	return errors.As(err, &m)
}

// Option configures a transport.
type Option func(*options)

type options struct {
	log       *zap.SugaredLogger
	heartbeat heartbeatConfig
}

func newOptions(opts []Option) *options {
	o := &options{log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}
