package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeRequest,
		Seq:       1<<40 + 12345,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))

	decoded, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, header.CodecType, decoded.CodecType)
	assert.Equal(t, header.MsgType, decoded.MsgType)
	assert.Equal(t, header.Seq, decoded.Seq)
	assert.Equal(t, uint32(len(body)), decoded.BodyLen)
	assert.Equal(t, body, decodedBody)
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalid := make([]byte, HeaderSize)
	invalid[3] = Version

	_, _, err := Decode(bytes.NewReader(invalid))
	assert.ErrorContains(t, err, "invalid magic number")
}

func TestDecodeInvalidVersion(t *testing.T) {
	frame := make([]byte, HeaderSize)
	copy(frame, []byte{MagicNumber, MagicByte2, MagicByte3, 0xFF, CodecTypeJSON, byte(MsgTypeRequest)})

	_, _, err := Decode(bytes.NewReader(frame))
	assert.ErrorContains(t, err, "unsupported version")
}

func TestDecodeHeartbeatEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeHeartbeat}, nil))
	require.Equal(t, HeaderSize, buf.Len())

	h, body, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeHeartbeat, h.MsgType)
	assert.Empty(t, body)
}

func TestDecodeUnknownMsgTypeKeepsStreamAligned(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgType(0x42)}, []byte("future")))
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeClose}, []byte("next")))

	h, body, err := Decode(&buf)
	require.NoError(t, err, "unknown message type must not be fatal")
	assert.False(t, h.MsgType.Known())
	assert.Equal(t, "future", string(body))

	h, body, err = Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeClose, h.MsgType)
	assert.Equal(t, "next", string(body))
}

func TestDecodeOversizedBody(t *testing.T) {
	frame := make([]byte, HeaderSize)
	copy(frame, []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeJSON, byte(MsgTypeRequest)})
	binary.BigEndian.PutUint32(frame[14:18], MaxBodyLen+1)

	_, _, err := Decode(bytes.NewReader(frame))
	assert.Error(t, err)
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeResponse, Seq: 1}, []byte("0123456789")))
	truncated := buf.Bytes()[:buf.Len()-3]

	_, _, err := Decode(bytes.NewReader(truncated))
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	header := &Header{CodecType: CodecTypeBinary, MsgType: MsgTypeRequest, Seq: 999}
	require.NoError(t, Encode(&buf, header, largeBody))

	_, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(largeBody, decodedBody), "large body mismatch")
}
