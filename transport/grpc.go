package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"worker-rpc/envelope"
)

// The bridge service has a single bidirectional streaming method; each
// stream is one channel. There is no .proto file: envelopes travel as JSON
// through a registered codec selected by content-subtype.
const (
	grpcServiceName = "workerrpc.Bridge"
	grpcMethod      = "/" + grpcServiceName + "/Channel"
	grpcCodecName   = "wrpjson"
)

func init() {
	encoding.RegisterCodec(envelopeCodec{})
}

// envelopeCodec implements encoding.Codec for *envelope.Envelope.
type envelopeCodec struct{}

func (envelopeCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (envelopeCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (envelopeCodec) Name() string {
	return grpcCodecName
}

type bridgeServer interface {
	acceptStream(stream grpc.ServerStream) error
}

var bridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*bridgeServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       channelStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "worker-rpc/transport/grpc.go",
}

func channelStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(bridgeServer).acceptStream(stream)
}

type acceptFunc struct {
	accept func(*GRPC)
	opts   *options
}

func (a *acceptFunc) acceptStream(stream grpc.ServerStream) error {
	t := newGRPC(stream, a.opts, nil)
	a.accept(t)
	select {
	case <-t.closed:
	case <-stream.Context().Done():
		t.Close()
	}
	return nil
}

// RegisterGRPC registers the bridge service on s. Every stream opened by a
// DialGRPC client is handed to accept; the stream lives until the transport
// is closed or the client goes away.
func RegisterGRPC(s *grpc.Server, accept func(*GRPC), opts ...Option) {
	s.RegisterService(&bridgeServiceDesc, &acceptFunc{accept: accept, opts: newOptions(opts)})
}

// grpcStream is the common part of grpc.ClientStream and grpc.ServerStream.
type grpcStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// GRPC carries envelopes over one bidirectional gRPC stream.
type GRPC struct {
	stream grpcStream
	log    *zap.SugaredLogger

	sendMu sync.Mutex // SendMsg is not safe for concurrent use

	release   func() error
	closeOnce sync.Once
	closed    chan struct{}
}

func newGRPC(stream grpcStream, o *options, release func() error) *GRPC {
	return &GRPC{
		stream:  stream,
		log:     o.log.Named("grpc"),
		release: release,
		closed:  make(chan struct{}),
	}
}

// DialGRPC opens a bridge stream to target. Extra dial options are applied
// after the default insecure credentials.
func DialGRPC(ctx context.Context, target string, dialOpts []grpc.DialOption, opts ...Option) (*GRPC, error) {
	o := newOptions(opts)
	dialOpts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, dialOpts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}

	// The stream outlives ctx; ctx only bounds stream setup.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	stream, err := conn.NewStream(streamCtx, &bridgeServiceDesc.Streams[0], grpcMethod,
		grpc.CallContentSubtype(grpcCodecName))
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("grpc open stream: %w", err)
	}

	o.log.Debugw("opened grpc bridge stream", "target", target)
	return newGRPC(stream, o, func() error {
		stream.CloseSend()
		cancel()
		return conn.Close()
	}), nil
}

func (t *GRPC) Send(ctx context.Context, env *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.stream.SendMsg(env)
}

// Recv reads the next envelope. io.EOF means the peer ended the stream.
func (t *GRPC) Recv(ctx context.Context) (*envelope.Envelope, error) {
	env := &envelope.Envelope{}
	if err := t.stream.RecvMsg(env); err != nil {
		select {
		case <-t.closed:
			return nil, ErrClosed
		default:
		}
		return nil, err
	}
	return env, nil
}

func (t *GRPC) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.release != nil {
			err = t.release()
		}
	})
	return err
}
