package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"worker-rpc/codec"
	"worker-rpc/envelope"
	"worker-rpc/protocol"
)

type heartbeatConfig struct {
	interval time.Duration
}

// WithHeartbeat makes a Stream send an empty heartbeat frame every interval.
// Heartbeats keep idle connections through proxies alive and surface a dead
// peer as a write error. Zero disables them.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.heartbeat.interval = interval }
}

// Stream carries protocol frames over a byte stream.
//
//	caller goroutines ──Send──┐
//	heartbeat loop ───────────┼──(writeMu)──→ rwc ──→ peer
//	                          │
//	Recv ←── protocol.Decode ←── rwc ←── peer
type Stream struct {
	rwc   io.ReadWriteCloser
	codec codec.Codec
	log   *zap.SugaredLogger

	writeMu sync.Mutex // frames from concurrent senders must not interleave

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStream wraps rwc. Outgoing envelopes use the given codec; incoming frames
// are decoded with whatever codec their header names.
func NewStream(rwc io.ReadWriteCloser, codecType codec.CodecType, opts ...Option) (*Stream, error) {
	c, err := codec.GetCodec(codecType)
	if err != nil {
		return nil, err
	}
	o := newOptions(opts)
	s := &Stream{
		rwc:    rwc,
		codec:  c,
		log:    o.log.Named("stream"),
		closed: make(chan struct{}),
	}
	if o.heartbeat.interval > 0 {
		go s.heartbeatLoop(o.heartbeat.interval)
	}
	return s, nil
}

// NewStdio is the child side of a stdio channel: frames are read from stdin
// and written to stdout. Anything else the child prints must go to stderr.
func NewStdio(codecType codec.CodecType, opts ...Option) (*Stream, error) {
	return NewStream(JoinPipes(os.Stdin, os.Stdout), codecType, opts...)
}

var msgTypes = map[envelope.Kind]protocol.MsgType{
	envelope.KindRequest:  protocol.MsgTypeRequest,
	envelope.KindResponse: protocol.MsgTypeResponse,
	envelope.KindClose:    protocol.MsgTypeClose,
}

func (s *Stream) Send(ctx context.Context, env *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	msgType, ok := msgTypes[env.Kind]
	if !ok {
		return fmt.Errorf("stream: cannot frame envelope of kind %q", env.Kind)
	}
	body, err := s.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("stream: encoding %s: %w", env, err)
	}
	header := protocol.Header{
		CodecType: byte(s.codec.Type()),
		MsgType:   msgType,
		Seq:       env.ID,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.Encode(s.rwc, &header, body)
}

// Recv reads the next envelope. It cannot be interrupted by ctx once a read
// is in progress; Close unblocks it.
func (s *Stream) Recv(ctx context.Context) (*envelope.Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, body, err := protocol.Decode(s.rwc)
		if err != nil {
			select {
			case <-s.closed:
				return nil, ErrClosed
			default:
			}
			return nil, err
		}

		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		c, err := codec.GetCodec(codec.CodecType(header.CodecType))
		if err != nil {
			return nil, &MalformedError{Err: err}
		}
		env := &envelope.Envelope{}
		if err := c.Decode(body, env); err != nil {
			return nil, &MalformedError{Err: fmt.Errorf("frame seq=%d type=%d: %w", header.Seq, header.MsgType, err)}
		}
		return env, nil
	}
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.rwc.Close()
	})
	return err
}

func (s *Stream) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
		}
		s.writeMu.Lock()
		err := protocol.Encode(s.rwc, &protocol.Header{
			CodecType: byte(s.codec.Type()),
			MsgType:   protocol.MsgTypeHeartbeat,
		}, nil)
		s.writeMu.Unlock()
		if err != nil {
			s.log.Debugw("heartbeat failed, stopping", "error", err)
			return
		}
	}
}

type joined struct {
	io.ReadCloser
	w io.WriteCloser
}

// JoinPipes combines a read side and a write side into one
// io.ReadWriteCloser, e.g. the StdoutPipe and StdinPipe of an exec.Cmd.
// Close closes both.
func JoinPipes(r io.ReadCloser, w io.WriteCloser) io.ReadWriteCloser {
	return &joined{ReadCloser: r, w: w}
}

func (j *joined) Write(p []byte) (int, error) {
	return j.w.Write(p)
}

func (j *joined) Close() error {
	werr := j.w.Close()
	rerr := j.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
