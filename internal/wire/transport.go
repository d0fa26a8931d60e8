package wire

import (
	"encoding/binary"
	"io"

	"github.com/gglite/corebus"
)

// maxTransportMessage bounds a single length-prefixed message read off a
// core-bus socket. It is generous relative to MaxEventStreamMessage since
// core-bus Call/Notify/Subscribe payloads (unlike GG-IPC's event-stream
// frames) carry no protocol-level cap of their own.
const maxTransportMessage = 1 << 20

// WriteMessage writes payload to w prefixed with its length as a
// little-endian u32, the transport-level length-prefixing spec §4.2 refers
// to ("Each message is length-prefixed") — AF_UNIX SOCK_STREAM carries no
// message boundaries of its own, so every Frame/Response the codec
// produces is wrapped in this outer prefix when it crosses the wire.
func WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) > maxTransportMessage {
		return corebus.NewError("wire.write_message", corebus.Invalid, "message exceeds max transport size")
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return corebus.WrapError("wire.write_message", err)
	}
	if _, err := w.Write(payload); err != nil {
		return corebus.WrapError("wire.write_message", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed payload from r.
func ReadMessage(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, corebus.WrapError("wire.read_message", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxTransportMessage {
		return nil, corebus.NewError("wire.read_message", corebus.Invalid, "message exceeds max transport size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, corebus.WrapError("wire.read_message", err)
	}
	return buf, nil
}

// TryReadMessage attempts to split one length-prefixed message off the
// front of buf without blocking. ok is false if buf does not yet hold a
// complete message; the caller should read more bytes and retry.
func TryReadMessage(buf []byte) (payload []byte, rest []byte, ok bool) {
	if len(buf) < 4 {
		return nil, buf, false
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	if uint32(len(buf)-4) < n {
		return nil, buf, false
	}
	return buf[4 : 4+n], buf[4+n:], true
}
