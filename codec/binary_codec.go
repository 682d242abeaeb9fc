package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"

	"worker-rpc/envelope"
)

var errShortBuffer = errors.New("BinaryCodec: truncated envelope")

// BinaryCodec writes envelope fields length-prefixed, big-endian:
//
//	kind    u8 len   + bytes
//	id      u64
//	method  u16 len  + bytes
//	args    u16 count, then per arg u32 len + raw JSON
//	result  u32 len  + raw JSON
//	error   u8 flag, then message (u32 len + bytes) and kind (u16 len + bytes)
//	reason  u16 len  + bytes
//
// Argument and result values stay raw JSON, so the value encoding rules
// (base64 for bytes) are the same as with JSONCodec.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(env *envelope.Envelope) ([]byte, error) {
	if len(env.Kind) > math.MaxUint8 || len(env.Method) > math.MaxUint16 ||
		len(env.Args) > math.MaxUint16 || len(env.Reason) > math.MaxUint16 {
		return nil, errors.New("BinaryCodec: field too long")
	}
	if env.Error != nil && len(env.Error.Kind) > math.MaxUint16 {
		return nil, errors.New("BinaryCodec: error kind too long")
	}

	total := 1 + len(env.Kind) + 8 + 2 + len(env.Method) + 2 + 4 + len(env.Result) + 1 + 2 + len(env.Reason)
	for _, a := range env.Args {
		total += 4 + len(a)
	}
	if env.Error != nil {
		total += 4 + len(env.Error.Message) + 2 + len(env.Error.Kind)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, byte(len(env.Kind)))
	buf = append(buf, env.Kind...)
	buf = binary.BigEndian.AppendUint64(buf, env.ID)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Method)))
	buf = append(buf, env.Method...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Args)))
	for _, a := range env.Args {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(a)))
		buf = append(buf, a...)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.Result)))
	buf = append(buf, env.Result...)
	if env.Error != nil {
		buf = append(buf, 1)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.Error.Message)))
		buf = append(buf, env.Error.Message...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Error.Kind)))
		buf = append(buf, env.Error.Kind...)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Reason)))
	buf = append(buf, env.Reason...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, env *envelope.Envelope) error {
	r := &reader{data: data}

	env.Kind = envelope.Kind(r.bytes(int(r.u8())))
	env.ID = r.u64()
	env.Method = string(r.bytes(int(r.u16())))

	argc := int(r.u16())
	env.Args = nil
	if argc > 0 && r.err == nil {
		env.Args = make([]json.RawMessage, 0, argc)
		for i := 0; i < argc && r.err == nil; i++ {
			env.Args = append(env.Args, json.RawMessage(r.bytes(int(r.u32()))))
		}
	}

	env.Result = nil
	if n := int(r.u32()); n > 0 {
		env.Result = json.RawMessage(r.bytes(n))
	}

	env.Error = nil
	if r.u8() == 1 {
		msg := string(r.bytes(int(r.u32())))
		kind := string(r.bytes(int(r.u16())))
		env.Error = &envelope.Failure{Message: msg, Kind: kind}
	}
	env.Reason = string(r.bytes(int(r.u16())))
	return r.err
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader consumes big-endian fields and remembers the first short read.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = errShortBuffer
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// bytes returns a copy so decoded envelopes do not alias the frame buffer.
func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
