package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"worker-rpc/envelope"
	"worker-rpc/protocol"
)

// WebSocket carries one JSON envelope per text message.
type WebSocket struct {
	conn *websocket.Conn
	log  *zap.SugaredLogger

	closeOnce sync.Once
	closed    chan struct{}
}

func newWebSocket(conn *websocket.Conn, o *options) *WebSocket {
	conn.SetReadLimit(int64(protocol.MaxBodyLen))
	return &WebSocket{
		conn:   conn,
		log:    o.log.Named("websocket"),
		closed: make(chan struct{}),
	}
}

// DialWebSocket connects to a websocket endpoint served by WebSocketHandler.
func DialWebSocket(ctx context.Context, url string, opts ...Option) (*WebSocket, error) {
	o := newOptions(opts)
	o.log.Debugw("dialing websocket", "URL", url)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing websocket conn: %w", err)
	}
	return newWebSocket(conn, o), nil
}

// WebSocketHandler upgrades each request and passes the transport to accept.
// The handler returns once the transport is closed.
func WebSocketHandler(accept func(*WebSocket), opts ...Option) http.Handler {
	o := newOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			CompressionMode: websocket.CompressionContextTakeover,
		})
		if err != nil {
			o.log.Debugf("error accepting websocket conn: %s", err)
			return
		}
		t := newWebSocket(conn, o)
		accept(t)
		<-t.closed
	})
}

func (t *WebSocket) Send(ctx context.Context, env *envelope.Envelope) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	return wsjson.Write(ctx, t.conn, env)
}

// Recv reads the next message. Cancelling ctx closes the connection.
func (t *WebSocket) Recv(ctx context.Context) (*envelope.Envelope, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		select {
		case <-t.closed:
			return nil, ErrClosed
		default:
		}
		if websocket.CloseStatus(err) != -1 {
			return nil, io.EOF
		}
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, &MalformedError{Err: errors.New("unexpected binary message")}
	}
	env := &envelope.Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, &MalformedError{Err: err}
	}
	return env, nil
}

func (t *WebSocket) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close(websocket.StatusNormalClosure, "")
		if err != nil {
			t.log.Debugf("error closing conn: %s", err)
		}
	})
	return err
}
