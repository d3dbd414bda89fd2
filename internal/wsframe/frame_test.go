package wsframe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoundTrip checks decode(encode(f)) == f across
// the extended-length boundary cases, for every data opcode.
func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 125, 126, 127, 65535, 65536, 70000}
	ops := []Opcode{OpText, OpBinary}

	for _, op := range ops {
		for _, n := range sizes {
			payload := bytes.Repeat([]byte{0xAB}, n)
			encoded := Encode(op, payload, true)

			f, consumed, needMore, err := Decode(encoded)
			require.NoError(t, err, "op=%x n=%d", op, n)
			require.False(t, needMore)
			assert.Equal(t, len(encoded), consumed)
			assert.True(t, f.Fin)
			assert.Equal(t, op, f.Opcode)
			assert.Equal(t, payload, f.Payload)
		}
	}
}

func TestRoundTripControlFrames(t *testing.T) {
	for _, op := range []Opcode{OpClose, OpPing, OpPong} {
		payload := bytes.Repeat([]byte{0x01}, 125)
		f, _, needMore, err := Decode(Encode(op, payload, true))
		require.NoError(t, err)
		require.False(t, needMore)
		assert.Equal(t, op, f.Opcode)
		assert.Equal(t, payload, f.Payload)
	}
}

func maskFrame(op Opcode, payload []byte, fin bool, key [4]byte) []byte {
	frame := Encode(op, payload, fin)
	// Flip the mask bit, splice in the key, and XOR the payload.
	headerLen := len(frame) - len(payload)
	out := make([]byte, 0, len(frame)+4)
	out = append(out, frame[0], frame[1]|0x80)
	out = append(out, frame[2:headerLen]...)
	out = append(out, key[:]...)
	for i, b := range payload {
		out = append(out, b^key[i%4])
	}
	return out
}

func TestDecodeMaskedPayload(t *testing.T) {
	payload := []byte(`{"x":1}`)
	key := [4]byte{0x37, 0xFA, 0x21, 0x3D}

	f, consumed, needMore, err := Decode(maskFrame(OpText, payload, true, key))
	require.NoError(t, err)
	require.False(t, needMore)
	assert.Equal(t, OpText, f.Opcode)
	assert.Equal(t, payload, f.Payload)
	assert.Equal(t, 2+4+len(payload), consumed)
}

func TestDecodeNeedsMoreBytes(t *testing.T) {
	full := Encode(OpText, bytes.Repeat([]byte{'x'}, 300), true)
	for _, cut := range []int{0, 1, 2, 3, len(full) - 1} {
		_, _, needMore, err := Decode(full[:cut])
		require.NoError(t, err, "cut=%d", cut)
		assert.True(t, needMore, "cut=%d", cut)
	}
}

func TestDecodeMultipleFramesConsumesOne(t *testing.T) {
	first := Encode(OpText, []byte("one"), true)
	second := Encode(OpText, []byte("two"), true)
	buf := append(append([]byte(nil), first...), second...)

	f, consumed, needMore, err := Decode(buf)
	require.NoError(t, err)
	require.False(t, needMore)
	assert.Equal(t, []byte("one"), f.Payload)
	assert.Equal(t, len(first), consumed)

	f, _, _, err = Decode(buf[consumed:])
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), f.Payload)
}

func TestDecodeRejectsUnknownOpcode(t *testing.T) {
	frame := Encode(OpText, []byte("x"), true)
	frame[0] = (frame[0] &^ 0x0F) | 0x3
	_, _, _, err := Decode(frame)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDecodeRejectsFragmentedControlFrame(t *testing.T) {
	frame := Encode(OpPing, []byte("x"), false)
	_, _, _, err := Decode(frame)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDecodeRejectsOversizedControlFrame(t *testing.T) {
	// Hand-build: ping with a 16-bit extended length of 126.
	frame := []byte{0x80 | byte(OpPing), 126, 0x00, 126}
	frame = append(frame, bytes.Repeat([]byte{0}, 126)...)
	_, _, _, err := Decode(frame)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestCloseCodeRoundTrip(t *testing.T) {
	frame := EncodeClose(1002, "protocol error")
	f, _, needMore, err := Decode(frame)
	require.NoError(t, err)
	require.False(t, needMore)
	assert.Equal(t, OpClose, f.Opcode)

	code, reason := DecodeCloseCode(f.Payload)
	assert.Equal(t, uint16(1002), code)
	assert.Equal(t, "protocol error", reason)
}

func TestCloseCodeDefaultsTo1000(t *testing.T) {
	code, reason := DecodeCloseCode(nil)
	assert.Equal(t, uint16(1000), code)
	assert.Empty(t, reason)

	code, _ = DecodeCloseCode([]byte{0x03})
	assert.Equal(t, uint16(1000), code)
}
