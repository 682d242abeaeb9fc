package evaluation

import (
	"context"
	"encoding/json"

	"worker-rpc/channel"
	"worker-rpc/client"
	"worker-rpc/server"
)

// Interface returns the exposable method table for l.
func Interface(l Listener) server.Interface {
	return server.Interface{
		MethodOnPrompt: func(ctx context.Context, args []json.RawMessage) (any, error) {
			var question, promptType string
			if err := arg(args, 0, &question); err != nil {
				return nil, err
			}
			if err := arg(args, 1, &promptType); err != nil {
				return nil, err
			}
			return l.OnPrompt(ctx, question, promptType)
		},
		MethodOnPrint: func(ctx context.Context, args []json.RawMessage) (any, error) {
			var values []any
			if err := arg(args, 0, &values); err != nil {
				return nil, err
			}
			return nil, l.OnPrint(ctx, values)
		},
		MethodToggleTelemetry: func(ctx context.Context, args []json.RawMessage) (any, error) {
			var enabled bool
			if err := arg(args, 0, &enabled); err != nil {
				return nil, err
			}
			return nil, l.ToggleTelemetry(ctx, enabled)
		},
		MethodOnClearCommand: func(ctx context.Context, args []json.RawMessage) (any, error) {
			return nil, l.OnClearCommand(ctx)
		},
		MethodOnExit: func(ctx context.Context, args []json.RawMessage) (any, error) {
			return nil, l.OnExit(ctx)
		},
	}
}

// arg decodes args[i] into v, leaving v untouched when the argument is absent.
func arg(args []json.RawMessage, i int, v any) error {
	if i >= len(args) || len(args[i]) == 0 {
		return nil
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return &server.ArgumentError{Index: i, Err: err}
	}
	return nil
}

// Expose serves the listener held by h on ch.
func Expose(h *Holder, ch *channel.Channel, opts ...server.Option) (*server.Handle, error) {
	return server.Expose(Interface(h), ch, opts...)
}

// NewProxy returns a Listener whose methods are calls through p.
func NewProxy(p *client.Proxy) Listener {
	return &proxy{p: p}
}

type proxy struct {
	p *client.Proxy
}

func (x *proxy) OnPrompt(ctx context.Context, question, promptType string) (string, error) {
	var answer string
	if err := x.p.Call(ctx, MethodOnPrompt, &answer, question, promptType); err != nil {
		return "", err
	}
	return answer, nil
}

func (x *proxy) OnPrint(ctx context.Context, values []any) error {
	return x.p.Call(ctx, MethodOnPrint, nil, values)
}

func (x *proxy) ToggleTelemetry(ctx context.Context, enabled bool) error {
	return x.p.Call(ctx, MethodToggleTelemetry, nil, enabled)
}

func (x *proxy) OnClearCommand(ctx context.Context) error {
	return x.p.Call(ctx, MethodOnClearCommand, nil)
}

// OnExit asks the remote side to exit. The usual outcome is an error for
// which IsExitSuperseded reports true.
func (x *proxy) OnExit(ctx context.Context) error {
	return x.p.Call(ctx, MethodOnExit, nil)
}
