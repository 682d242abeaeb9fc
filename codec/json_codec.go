package codec

import (
	"encoding/json"

	"worker-rpc/envelope"
)

// JSONCodec encodes envelopes as JSON objects with a "kind" discriminator.
// Human-readable and what non-Go peers speak; larger than BinaryCodec.
type JSONCodec struct{}

func (c *JSONCodec) Encode(env *envelope.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (c *JSONCodec) Decode(data []byte, env *envelope.Envelope) error {
	return json.Unmarshal(data, env)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
