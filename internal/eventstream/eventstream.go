// Package eventstream implements the GG-IPC framing used by the gateway
// (spec §4.3 "Framing: event-stream", §6.3), ported in the teacher
// corpus's manual fixed-layout binary marshaling idiom
// (binary.BigEndian field-by-field access, no reflection).
package eventstream

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/gglite/corebus"
)

// preludeLen is the fixed 12-byte prelude: total_length, headers_length,
// prelude_crc32 (all big-endian, spec §4.3).
const preludeLen = 12

// trailerLen is the trailing message_crc32.
const trailerLen = 4

// HeaderValueType is the wire tag for one recognized header value type
// (spec §4.3 "Recognized header types").
type HeaderValueType byte

const (
	ValueInt32  HeaderValueType = 4
	ValueString HeaderValueType = 7
)

// MessageType is the `:message-type` header's well-known value (spec §4.3).
type MessageType int32

const (
	MessageTypeConnect            MessageType = 0
	MessageTypeConnectAck         MessageType = 1
	MessageTypeApplicationMessage MessageType = 0 // shares 0 with Connect; distinguished by stream-id 0 vs non-zero
	MessageTypeApplicationError   MessageType = 2
)

// MessageFlags are the `:message-flags` header bits (spec §4.3, §4.3 "Stream-id discipline").
type MessageFlags int32

const (
	FlagConnectionAccepted MessageFlags = 1 << 0
	FlagTerminateStream    MessageFlags = 1 << 1
	FlagConnectionFailure  MessageFlags = 1 << 2
)

// Header is one event-stream header (spec §4.3: `{name_len, name_bytes,
// value_type, value_bytes_by_type}`).
type Header struct {
	Name      string
	ValueType HeaderValueType
	IntValue  int32
	StrValue  string
}

// Int32Header constructs a HeaderValueType=int32 Header.
func Int32Header(name string, v int32) Header {
	return Header{Name: name, ValueType: ValueInt32, IntValue: v}
}

// StringHeader constructs a HeaderValueType=string Header.
func StringHeader(name string, v string) Header {
	return Header{Name: name, ValueType: ValueString, StrValue: v}
}

// Message is one decoded event-stream frame.
type Message struct {
	Headers []Header
	Payload []byte
}

// Header looks up the first header named name, if present.
func (m Message) Header(name string) (Header, bool) {
	for _, h := range m.Headers {
		if h.Name == name {
			return h, true
		}
	}
	return Header{}, false
}

const maxHeaderNameLen = 255

// Encode serializes msg per the §4.3/§6.3 grammar:
// prelude(12) + headers + payload + trailing CRC32.
func Encode(msg Message) ([]byte, error) {
	var headerBytes []byte
	for _, h := range msg.Headers {
		if len(h.Name) > maxHeaderNameLen {
			return nil, corebus.NewError("eventstream.encode", corebus.Invalid, "header name too long")
		}
		headerBytes = append(headerBytes, byte(len(h.Name)))
		headerBytes = append(headerBytes, h.Name...)
		headerBytes = append(headerBytes, byte(h.ValueType))
		switch h.ValueType {
		case ValueInt32:
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], uint32(h.IntValue))
			headerBytes = append(headerBytes, buf[:]...)
		case ValueString:
			var lenBuf [2]byte
			binary.BigEndian.PutUint16(lenBuf[:], uint16(len(h.StrValue)))
			headerBytes = append(headerBytes, lenBuf[:]...)
			headerBytes = append(headerBytes, h.StrValue...)
		default:
			return nil, corebus.NewError("eventstream.encode", corebus.Unsupported, "unsupported header value type")
		}
	}

	totalLen := preludeLen + len(headerBytes) + len(msg.Payload) + trailerLen

	out := make([]byte, 0, totalLen)
	var prelude [preludeLen]byte
	binary.BigEndian.PutUint32(prelude[0:4], uint32(totalLen))
	binary.BigEndian.PutUint32(prelude[4:8], uint32(len(headerBytes)))
	preludeCRC := crc32.ChecksumIEEE(prelude[0:8])
	binary.BigEndian.PutUint32(prelude[8:12], preludeCRC)

	out = append(out, prelude[:]...)
	out = append(out, headerBytes...)
	out = append(out, msg.Payload...)

	messageCRC := crc32.ChecksumIEEE(out)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], messageCRC)
	out = append(out, crcBuf[:]...)

	return out, nil
}

// Decode parses one message from the front of src, validating both CRCs,
// and returns the unconsumed remainder (so callers can feed it a
// read-buffer spanning multiple messages).
func Decode(src []byte, maxMessageLen uint32) (Message, []byte, error) {
	if len(src) < preludeLen {
		return Message{}, nil, corebus.NewError("eventstream.decode", corebus.Parse, "truncated prelude")
	}

	totalLen := binary.BigEndian.Uint32(src[0:4])
	headersLen := binary.BigEndian.Uint32(src[4:8])
	preludeCRC := binary.BigEndian.Uint32(src[8:12])

	if maxMessageLen != 0 && totalLen > maxMessageLen {
		return Message{}, nil, corebus.NewError("eventstream.decode", corebus.Range, "message exceeds max length")
	}
	if crc32.ChecksumIEEE(src[0:8]) != preludeCRC {
		return Message{}, nil, corebus.NewError("eventstream.decode", corebus.Parse, "prelude CRC mismatch")
	}
	if totalLen < preludeLen+trailerLen || uint32(len(src)) < totalLen {
		return Message{}, nil, corebus.NewError("eventstream.decode", corebus.Parse, "truncated message")
	}

	body := src[preludeLen : totalLen-trailerLen]
	trailerCRC := binary.BigEndian.Uint32(src[totalLen-trailerLen : totalLen])
	if crc32.ChecksumIEEE(src[:totalLen-trailerLen]) != trailerCRC {
		return Message{}, nil, corebus.NewError("eventstream.decode", corebus.Parse, "message CRC mismatch")
	}

	if uint32(len(body)) < headersLen {
		return Message{}, nil, corebus.NewError("eventstream.decode", corebus.Parse, "truncated header block")
	}
	headerBytes := body[:headersLen]
	payload := body[headersLen:]

	headers, err := decodeHeaders(headerBytes)
	if err != nil {
		return Message{}, nil, err
	}

	return Message{Headers: headers, Payload: payload}, src[totalLen:], nil
}

func decodeHeaders(src []byte) ([]Header, error) {
	var headers []Header
	for len(src) > 0 {
		nameLen := int(src[0])
		src = src[1:]
		if len(src) < nameLen+1 {
			return nil, corebus.NewError("eventstream.decode_headers", corebus.Parse, "truncated header name")
		}
		name := string(src[:nameLen])
		src = src[nameLen:]
		valueType := HeaderValueType(src[0])
		src = src[1:]

		switch valueType {
		case ValueInt32:
			if len(src) < 4 {
				return nil, corebus.NewError("eventstream.decode_headers", corebus.Parse, "truncated int32 header value")
			}
			v := int32(binary.BigEndian.Uint32(src[:4]))
			headers = append(headers, Header{Name: name, ValueType: ValueInt32, IntValue: v})
			src = src[4:]
		case ValueString:
			if len(src) < 2 {
				return nil, corebus.NewError("eventstream.decode_headers", corebus.Parse, "truncated string header length")
			}
			strLen := int(binary.BigEndian.Uint16(src[:2]))
			src = src[2:]
			if len(src) < strLen {
				return nil, corebus.NewError("eventstream.decode_headers", corebus.Parse, "truncated string header value")
			}
			headers = append(headers, Header{Name: name, ValueType: ValueString, StrValue: string(src[:strLen])})
			src = src[strLen:]
		default:
			return nil, corebus.NewError("eventstream.decode_headers", corebus.Unsupported, "unsupported header value type")
		}
	}
	return headers, nil
}
