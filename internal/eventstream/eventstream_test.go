package eventstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{
		Headers: []Header{
			Int32Header(":message-type", int32(MessageTypeConnectAck)),
			Int32Header(":message-flags", int32(FlagConnectionAccepted)),
			Int32Header(":stream-id", 0),
			StringHeader("svcuid", "AbCdEfGhIjKlMnOp"),
		},
		Payload: []byte(`{"ok":true}`),
	}

	encoded, err := Encode(msg)
	require.NoError(t, err)

	decoded, rest, err := Decode(encoded, 0)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, msg.Payload, decoded.Payload)
	require.Len(t, decoded.Headers, len(msg.Headers))

	h, ok := decoded.Header("svcuid")
	require.True(t, ok)
	require.Equal(t, "AbCdEfGhIjKlMnOp", h.StrValue)

	mt, ok := decoded.Header(":message-type")
	require.True(t, ok)
	require.Equal(t, int32(MessageTypeConnectAck), mt.IntValue)
}

func TestDecodeMultipleMessagesFromOneBuffer(t *testing.T) {
	msg1, err := Encode(Message{Headers: []Header{Int32Header(":stream-id", 1)}, Payload: []byte("a")})
	require.NoError(t, err)
	msg2, err := Encode(Message{Headers: []Header{Int32Header(":stream-id", 2)}, Payload: []byte("b")})
	require.NoError(t, err)

	buf := append(append([]byte{}, msg1...), msg2...)

	first, rest, err := Decode(buf, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), first.Payload)
	require.NotEmpty(t, rest)

	second, rest, err := Decode(rest, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), second.Payload)
	require.Empty(t, rest)
}

func TestDecodeRejectsCorruptPreludeCRC(t *testing.T) {
	encoded, err := Encode(Message{Payload: []byte("hello")})
	require.NoError(t, err)
	encoded[0] ^= 0xFF // corrupt total_length within the prelude's CRC'd span

	_, _, err = Decode(encoded, 0)
	require.Error(t, err)
}

func TestDecodeRejectsCorruptMessageCRC(t *testing.T) {
	encoded, err := Encode(Message{Payload: []byte("hello")})
	require.NoError(t, err)
	encoded[len(encoded)-1] ^= 0xFF // corrupt trailing CRC

	_, _, err = Decode(encoded, 0)
	require.Error(t, err)
}

func TestDecodeRejectsOversizedMessage(t *testing.T) {
	encoded, err := Encode(Message{Payload: make([]byte, 1000)})
	require.NoError(t, err)

	_, _, err = Decode(encoded, 100)
	require.Error(t, err)
}

func TestDecodeTruncatedPrelude(t *testing.T) {
	_, _, err := Decode([]byte{1, 2, 3}, 0)
	require.Error(t, err)
}
