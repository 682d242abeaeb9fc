package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"worker-rpc/envelope"
)

func sampleEnvelopes() []*envelope.Envelope {
	return []*envelope.Envelope{
		envelope.Request(1, "onPrompt", []json.RawMessage{json.RawMessage(`"Enter password: ¿ñ? 密码"`), json.RawMessage(`"password"`)}),
		envelope.Request(2, "onClearCommand", nil),
		envelope.Success(1, json.RawMessage(`"hunter2"`)),
		envelope.Success(2, nil),
		envelope.Fail(3, "boom", "TypeError"),
		envelope.Close("parent exiting"),
		{Kind: "future-kind", ID: 9},
	}
}

func TestJSONCodec(t *testing.T) {
	testCodec(t, &JSONCodec{})
}

func TestBinaryCodec(t *testing.T) {
	testCodec(t, &BinaryCodec{})
}

func testCodec(t *testing.T, c Codec) {
	t.Helper()
	for _, want := range sampleEnvelopes() {
		data, err := c.Encode(want)
		require.NoError(t, err, "%T Encode %s", c, want)

		var decoded envelope.Envelope
		require.NoError(t, c.Decode(data, &decoded), "%T Decode %s", c, want)
		assert.Equal(t, *want, decoded, "%T", c)
	}
}

func TestBinaryCodecTruncated(t *testing.T) {
	c := &BinaryCodec{}
	data, err := c.Encode(envelope.Request(5, "onPrint", []json.RawMessage{json.RawMessage(`["hi"]`)}))
	require.NoError(t, err)
	for _, n := range []int{0, 1, 5, len(data) - 1} {
		var env envelope.Envelope
		assert.Error(t, c.Decode(data[:n], &env), "decoding %d of %d bytes", n, len(data))
	}
}

func TestGetCodec(t *testing.T) {
	for _, typ := range []CodecType{CodecTypeJSON, CodecTypeBinary} {
		c, err := GetCodec(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, c.Type())
	}
	_, err := GetCodec(7)
	assert.Error(t, err)
}

func TestParseType(t *testing.T) {
	cases := map[string]CodecType{"": CodecTypeJSON, "json": CodecTypeJSON, "binary": CodecTypeBinary}
	for name, want := range cases {
		got, err := ParseType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseType("msgpack")
	assert.Error(t, err)
}
