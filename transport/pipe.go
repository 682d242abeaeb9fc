package transport

import (
	"context"
	"io"
	"sync"

	"worker-rpc/envelope"
)

const pipeBuffer = 64

// pipe is the shared state of a connected pair. Closing either end tears
// down both, the way a dying process takes its channel with it.
type pipe struct {
	done chan struct{}
	once sync.Once
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

type pipeEnd struct {
	p      *pipe
	in     chan *envelope.Envelope
	out    chan *envelope.Envelope
	closed chan struct{}
	once   sync.Once
}

// Pipe returns two connected in-memory transports. Envelopes sent on one are
// received on the other in order.
func Pipe() (Transport, Transport) {
	p := &pipe{done: make(chan struct{})}
	ab := make(chan *envelope.Envelope, pipeBuffer)
	ba := make(chan *envelope.Envelope, pipeBuffer)
	a := &pipeEnd{p: p, in: ba, out: ab, closed: make(chan struct{})}
	b := &pipeEnd{p: p, in: ab, out: ba, closed: make(chan struct{})}
	return a, b
}

func (e *pipeEnd) Send(ctx context.Context, env *envelope.Envelope) error {
	select {
	case <-e.closed:
		return ErrClosed
	case <-e.p.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case e.out <- env:
		return nil
	case <-e.closed:
		return ErrClosed
	case <-e.p.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *pipeEnd) Recv(ctx context.Context) (*envelope.Envelope, error) {
	select {
	case <-e.closed:
		return nil, ErrClosed
	default:
	}
	// Deliver what the peer sent before it went away.
	select {
	case env := <-e.in:
		return env, nil
	default:
	}
	select {
	case env := <-e.in:
		return env, nil
	case <-e.closed:
		return nil, ErrClosed
	case <-e.p.done:
		select {
		case env := <-e.in:
			return env, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *pipeEnd) Close() error {
	e.once.Do(func() { close(e.closed) })
	e.p.close()
	return nil
}
