// Package envelope defines the message unit exchanged over a channel.
//
// An Envelope is exactly one of:
//
//   - request:  {kind, id, method, args}     caller → callee
//   - response: {kind, id, result | error}  callee → caller
//   - close:    {kind, reason}               either direction
//
// The "kind" field is the discriminator. Values travel as raw JSON; byte
// slices are encoded as base64 strings, the encoding/json rule for []byte,
// so binary buffers survive every codec and transport unchanged.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the envelope discriminator.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindClose    Kind = "close"
)

// Known reports whether k is one of the defined kinds. Envelopes of unknown
// kinds are dropped by the receiver.
func (k Kind) Known() bool {
	switch k {
	case KindRequest, KindResponse, KindClose:
		return true
	}
	return false
}

// Failure is the error outcome of a call.
type Failure struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// Envelope is a single message on a channel.
type Envelope struct {
	Kind   Kind              `json:"kind"`
	ID     uint64            `json:"id,omitempty"`
	Method string            `json:"method,omitempty"`
	Args   []json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  *Failure          `json:"error,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

var (
	ErrMissingMethod   = errors.New("envelope: request without method")
	ErrMissingID       = errors.New("envelope: missing correlation id")
	ErrAmbiguousResult = errors.New("envelope: response carries both result and error")
)

// Request builds a call request.
func Request(id uint64, method string, args []json.RawMessage) *Envelope {
	return &Envelope{Kind: KindRequest, ID: id, Method: method, Args: args}
}

// Success builds a success response. A nil result means "no value".
func Success(id uint64, result json.RawMessage) *Envelope {
	return &Envelope{Kind: KindResponse, ID: id, Result: result}
}

// Fail builds a failure response.
func Fail(id uint64, message, kind string) *Envelope {
	return &Envelope{Kind: KindResponse, ID: id, Error: &Failure{Message: message, Kind: kind}}
}

// Close builds a close signal.
func Close(reason string) *Envelope {
	return &Envelope{Kind: KindClose, Reason: reason}
}

// Validate checks the structural invariants of a known envelope kind.
// Unknown kinds are not an error here; the receiver decides to drop them.
func (e *Envelope) Validate() error {
	switch e.Kind {
	case KindRequest:
		if e.ID == 0 {
			return ErrMissingID
		}
		if e.Method == "" {
			return ErrMissingMethod
		}
	case KindResponse:
		if e.ID == 0 {
			return ErrMissingID
		}
		if e.Error != nil && len(e.Result) > 0 {
			return ErrAmbiguousResult
		}
	}
	return nil
}

func (e *Envelope) String() string {
	switch e.Kind {
	case KindRequest:
		return fmt.Sprintf("request#%d %s(%d args)", e.ID, e.Method, len(e.Args))
	case KindResponse:
		if e.Error != nil {
			return fmt.Sprintf("response#%d failure %s", e.ID, e.Error.Kind)
		}
		return fmt.Sprintf("response#%d success", e.ID)
	case KindClose:
		return fmt.Sprintf("close %q", e.Reason)
	default:
		return fmt.Sprintf("unknown kind %q", string(e.Kind))
	}
}

// EncodeArgs marshals call arguments into raw JSON values.
func EncodeArgs(args ...any) ([]json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encoding argument %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// IsNull reports whether raw is absent or the JSON null literal.
func IsNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
