package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	args, err := EncodeArgs("¿qué tal? 你好 👋", []byte{0x00, 0xff, 0x10}, 42)
	require.NoError(t, err)

	req := Request(7, "onPrompt", args)
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.Contains(t, string(data), `"kind":"request"`)

	var got Envelope
	require.NoError(t, json.Unmarshal(data, &got))
	require.NoError(t, got.Validate())
	require.Equal(t, KindRequest, got.Kind)
	require.Equal(t, uint64(7), got.ID)
	require.Len(t, got.Args, 3)

	var s string
	require.NoError(t, json.Unmarshal(got.Args[0], &s))
	require.Equal(t, "¿qué tal? 你好 👋", s)

	// []byte travels as base64
	require.Equal(t, `"AP8Q"`, string(got.Args[1]))
	var b []byte
	require.NoError(t, json.Unmarshal(got.Args[1], &b))
	require.Equal(t, []byte{0x00, 0xff, 0x10}, b)
}

func TestUnknownKindDecodes(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"telemetry","id":3}`), &env))
	require.False(t, env.Kind.Known())
	require.NoError(t, env.Validate())
	require.Equal(t, `unknown kind "telemetry"`, env.String())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		env  *Envelope
		err  error
	}{
		{"request ok", Request(1, "onPrint", nil), nil},
		{"request no method", Request(1, "", nil), ErrMissingMethod},
		{"request no id", Request(0, "onPrint", nil), ErrMissingID},
		{"success ok", Success(2, json.RawMessage(`"x"`)), nil},
		{"success no value", Success(2, nil), nil},
		{"failure ok", Fail(3, "boom", "TypeError"), nil},
		{"response no id", Success(0, nil), ErrMissingID},
		{"both outcomes", &Envelope{Kind: KindResponse, ID: 4, Result: json.RawMessage(`1`), Error: &Failure{Message: "x"}}, ErrAmbiguousResult},
		{"close", Close("bye"), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.env.Validate(), tc.err)
		})
	}
}

func TestIsNull(t *testing.T) {
	require.True(t, IsNull(nil))
	require.True(t, IsNull(json.RawMessage("null")))
	require.False(t, IsNull(json.RawMessage(`""`)))
}
