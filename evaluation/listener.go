// Package evaluation bridges an evaluation listener between a worker runtime
// and the process that owns the terminal.
//
// The worker calls the listener through a proxy; the owning process exposes
// its current listener, held in a Holder, on the same channel.
package evaluation

import (
	"context"
	"errors"
	"sync/atomic"

	"worker-rpc/rpcerr"
)

// Wire names of the listener methods.
const (
	MethodOnPrompt        = "onPrompt"
	MethodOnPrint         = "onPrint"
	MethodToggleTelemetry = "toggleTelemetry"
	MethodOnClearCommand  = "onClearCommand"
	MethodOnExit          = "onExit"
)

type Prompter interface {
	OnPrompt(ctx context.Context, question, promptType string) (string, error)
}

type Printer interface {
	OnPrint(ctx context.Context, values []any) error
}

type TelemetryToggler interface {
	ToggleTelemetry(ctx context.Context, enabled bool) error
}

type ClearHandler interface {
	OnClearCommand(ctx context.Context) error
}

// ExitHandler is called when the evaluated code asks to exit. Implementations
// normally end the process and never return.
type ExitHandler interface {
	OnExit(ctx context.Context) error
}

// Listener receives the side effects of an evaluation.
type Listener interface {
	Prompter
	Printer
	TelemetryToggler
	ClearHandler
	ExitHandler
}

// Holder holds the current listener of a runtime. The listener may be unset
// or replaced at any time, and may implement only some of the listener
// methods. Missing methods fall back to defaults: prompts answer "" and
// everything else completes with no value.
type Holder struct {
	v atomic.Value // box
}

type box struct{ l any }

// Set installs l, which should implement at least one of the listener
// interfaces. Set(nil) clears the listener.
func (h *Holder) Set(l any) {
	h.v.Store(box{l})
}

// Get returns the current listener, or nil.
func (h *Holder) Get() any {
	b, _ := h.v.Load().(box)
	return b.l
}

func (h *Holder) OnPrompt(ctx context.Context, question, promptType string) (string, error) {
	if p, ok := h.Get().(Prompter); ok {
		return p.OnPrompt(ctx, question, promptType)
	}
	return "", nil
}

func (h *Holder) OnPrint(ctx context.Context, values []any) error {
	if p, ok := h.Get().(Printer); ok {
		return p.OnPrint(ctx, values)
	}
	return nil
}

func (h *Holder) ToggleTelemetry(ctx context.Context, enabled bool) error {
	if t, ok := h.Get().(TelemetryToggler); ok {
		return t.ToggleTelemetry(ctx, enabled)
	}
	return nil
}

func (h *Holder) OnClearCommand(ctx context.Context) error {
	if c, ok := h.Get().(ClearHandler); ok {
		return c.OnClearCommand(ctx)
	}
	return nil
}

func (h *Holder) OnExit(ctx context.Context) error {
	if e, ok := h.Get().(ExitHandler); ok {
		return e.OnExit(ctx)
	}
	return nil
}

var _ Listener = (*Holder)(nil)

// IsExitSuperseded reports whether err from a proxied OnExit only means the
// exit won: the remote side tore the channel down before it could answer.
func IsExitSuperseded(err error) bool {
	return errors.Is(err, rpcerr.ErrChannelClosed)
}
