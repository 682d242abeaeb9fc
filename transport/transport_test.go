package transport

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"worker-rpc/codec"
	"worker-rpc/envelope"
	"worker-rpc/protocol"
)

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// exchange checks that both directions deliver envelopes in order.
func exchange(t *testing.T, a, b Transport) {
	ctx := testCtx(t)

	args, err := envelope.EncodeArgs("héllo wörld ✓", []byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, a.Send(ctx, envelope.Request(1, "onPrint", args)))
	require.NoError(t, a.Send(ctx, envelope.Request(2, "onClearCommand", nil)))

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, envelope.KindRequest, got.Kind)
	require.Equal(t, uint64(1), got.ID)
	require.Equal(t, "onPrint", got.Method)
	var s string
	require.NoError(t, json.Unmarshal(got.Args[0], &s))
	require.Equal(t, "héllo wörld ✓", s)
	var raw []byte
	require.NoError(t, json.Unmarshal(got.Args[1], &raw))
	require.Equal(t, []byte{1, 2, 3}, raw)

	got, err = b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.ID)

	require.NoError(t, b.Send(ctx, envelope.Fail(1, "nope", "TypeError")))
	got, err = a.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, envelope.KindResponse, got.Kind)
	require.Equal(t, &envelope.Failure{Message: "nope", Kind: "TypeError"}, got.Error)

	require.NoError(t, b.Send(ctx, envelope.Close("done")))
	got, err = a.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, envelope.KindClose, got.Kind)
	require.Equal(t, "done", got.Reason)
}

func TestPipe(t *testing.T) {
	a, b := Pipe()
	exchange(t, a, b)
}

func TestPipeCloseDisconnectsPeer(t *testing.T) {
	ctx := testCtx(t)
	a, b := Pipe()

	require.NoError(t, a.Send(ctx, envelope.Close("bye")))
	require.NoError(t, a.Close())

	// buffered envelopes are still delivered, then EOF
	env, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, envelope.KindClose, env.Kind)
	_, err = b.Recv(ctx)
	require.ErrorIs(t, err, io.EOF)

	require.Error(t, b.Send(ctx, envelope.Close("")))
	_, err = a.Recv(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestPipeRecvHonoursContext(t *testing.T) {
	_, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func streamPair(t *testing.T, ct codec.CodecType, opts ...Option) (*Stream, *Stream) {
	c1, c2 := net.Pipe()
	a, err := NewStream(c1, ct, opts...)
	require.NoError(t, err)
	b, err := NewStream(c2, ct, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// net.Pipe writes block until read, so the exchange runs the reader side
// concurrently through buffered helper transports.
func TestStream(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			a, b := streamPair(t, ct)
			exchange(t, buffered(a), buffered(b))
		})
	}
}

func TestStreamSkipsHeartbeats(t *testing.T) {
	a, b := streamPair(t, codec.CodecTypeJSON, WithHeartbeat(5*time.Millisecond))
	ctx := testCtx(t)

	go func() {
		time.Sleep(30 * time.Millisecond)
		a.Send(ctx, envelope.Request(9, "onExit", nil))
	}()

	env, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(9), env.ID)
}

func TestStreamMalformedBodyIsNotFatal(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	s, err := NewStream(c2, codec.CodecTypeJSON)
	require.NoError(t, err)
	defer s.Close()

	go func() {
		protocol.Encode(c1, &protocol.Header{MsgType: protocol.MsgTypeRequest, Seq: 1}, []byte("{not json"))
		body, _ := json.Marshal(envelope.Request(2, "onPrint", nil))
		protocol.Encode(c1, &protocol.Header{MsgType: protocol.MsgTypeRequest, Seq: 2}, body)
	}()

	ctx := testCtx(t)
	_, err = s.Recv(ctx)
	require.True(t, IsMalformed(err), "got %v", err)

	env, err := s.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), env.ID)
}

func TestStreamPeerCloseIsEOF(t *testing.T) {
	a, b := streamPair(t, codec.CodecTypeJSON)
	require.NoError(t, a.Close())
	_, err := b.Recv(testCtx(t))
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamRejectsUnknownKind(t *testing.T) {
	a, _ := streamPair(t, codec.CodecTypeJSON)
	err := a.Send(testCtx(t), &envelope.Envelope{Kind: "telemetry"})
	require.Error(t, err)
}

func TestWebSocket(t *testing.T) {
	accepted := make(chan *WebSocket, 1)
	srv := httptest.NewServer(WebSocketHandler(func(ws *WebSocket) {
		accepted <- ws
	}))
	defer srv.Close()

	ctx := testCtx(t)
	client, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer client.Close()

	var server *WebSocket
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatal("server never accepted")
	}
	defer server.Close()

	exchange(t, client, server)

	require.NoError(t, client.Close())
	_, err = server.Recv(ctx)
	require.Error(t, err)
}

func TestGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	accepted := make(chan *GRPC, 1)
	s := grpc.NewServer()
	RegisterGRPC(s, func(g *GRPC) { accepted <- g })
	go s.Serve(lis)
	defer s.Stop()

	ctx := testCtx(t)
	client, err := DialGRPC(ctx, "passthrough:///bufnet", []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	})
	require.NoError(t, err)
	defer client.Close()

	// the server sees the stream once the first message arrives
	require.NoError(t, client.Send(ctx, envelope.Request(100, "toggleTelemetry", nil)))
	var server *GRPC
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatal("server never accepted")
	}
	env, err := server.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), env.ID)

	exchange(t, client, server)

	require.NoError(t, server.Close())
	_, err = client.Recv(ctx)
	require.ErrorIs(t, err, io.EOF)
}

// bufferedTransport decouples Send from the synchronous net.Pipe reader.
type bufferedTransport struct {
	Transport
	in chan recvResult
}

type recvResult struct {
	env *envelope.Envelope
	err error
}

func buffered(t Transport) *bufferedTransport {
	b := &bufferedTransport{Transport: t, in: make(chan recvResult, 16)}
	go func() {
		for {
			env, err := t.Recv(context.Background())
			b.in <- recvResult{env, err}
			if err != nil {
				return
			}
		}
	}()
	return b
}

func (b *bufferedTransport) Recv(ctx context.Context) (*envelope.Envelope, error) {
	select {
	case r := <-b.in:
		return r.env, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
