package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"worker-rpc/middleware"
)

// KindPanic is reported when an exposed method panics.
const KindPanic = middleware.KindPanic

// PanicError carries the value a method panicked with.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string     { return fmt.Sprintf("method panicked: %v", e.Value) }
func (e *PanicError) ErrorKind() string { return KindPanic }

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Methods builds an Interface from the exported methods of rcvr. A method
// qualifies when its first parameter is a context.Context and it returns
// either error or (T, error):
//
//	func (l *Listener) OnPrompt(ctx context.Context, question, kind string) (string, error)
//
// The wire name is the Go name with its first letter lowered ("onPrompt").
// Missing trailing arguments decode as zero values; extra ones are ignored.
func Methods(rcvr any) (Interface, error) {
	if rcvr == nil {
		return nil, errors.New("server: nil receiver")
	}
	val := reflect.ValueOf(rcvr)
	typ := val.Type()

	out := make(Interface)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() || !suitable(method.Type) {
			continue
		}
		out[wireName(method.Name)] = adapt(val.Method(i))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("server: %s has no exposable methods", typ)
	}
	return out, nil
}

// suitable checks the signature of a bound method type, receiver included
// at In(0).
func suitable(mt reflect.Type) bool {
	if mt.IsVariadic() || mt.NumIn() < 2 || mt.In(1) != contextType {
		return false
	}
	switch mt.NumOut() {
	case 1:
		return mt.Out(0) == errorType
	case 2:
		return mt.Out(1) == errorType
	}
	return false
}

func wireName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[size:]
}

func adapt(fn reflect.Value) Method {
	ft := fn.Type()
	return func(ctx context.Context, args []json.RawMessage) (any, error) {
		in := make([]reflect.Value, ft.NumIn())
		in[0] = reflect.ValueOf(ctx)
		for i := 1; i < ft.NumIn(); i++ {
			argv := reflect.New(ft.In(i))
			if j := i - 1; j < len(args) && len(args[j]) > 0 {
				if err := json.Unmarshal(args[j], argv.Interface()); err != nil {
					return nil, &ArgumentError{Index: j, Err: err}
				}
			}
			in[i] = argv.Elem()
		}

		results := fn.Call(in)
		errv := results[len(results)-1]
		if !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
		if len(results) == 2 {
			return results[0].Interface(), nil
		}
		return nil, nil
	}
}

// ArgumentError reports an argument that could not be decoded.
type ArgumentError struct {
	Index int
	Err   error
}

func (e *ArgumentError) Error() string     { return fmt.Sprintf("argument %d: %v", e.Index, e.Err) }
func (e *ArgumentError) Unwrap() error     { return e.Err }
func (e *ArgumentError) ErrorKind() string { return "TypeError" }
