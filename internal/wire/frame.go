package wire

import (
	"encoding/binary"

	"github.com/gglite/corebus"
)

// Kind is the core-bus request kind, the wire's `kind` byte (spec §6.2).
type Kind byte

const (
	KindNotify    Kind = 1
	KindCall      Kind = 2
	KindSubscribe Kind = 3
	KindSubClose  Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindNotify:
		return "notify"
	case KindCall:
		return "call"
	case KindSubscribe:
		return "subscribe"
	case KindSubClose:
		return "sub_close"
	default:
		return "unknown"
	}
}

// maxMethodLen bounds Method to one byte of length per the §6.2 grammar
// (`method_len:u8`).
const maxMethodLen = 255

// EncodeFrame serializes a request per the §6.2 grammar:
// Frame := Prelude Method Params; Prelude := kind:u8 method_len:u8 params_len:u32.
func EncodeFrame(kind Kind, method string, params corebus.Map) ([]byte, error) {
	if len(method) > maxMethodLen {
		return nil, corebus.NewError("wire.encode_frame", corebus.Invalid, "method name too long")
	}

	encodedParams, err := EncodeObject(nil, corebus.NewMap(params))
	if err != nil {
		return nil, corebus.WrapError("wire.encode_frame", err)
	}
	// encodedParams carries its own leading map tag byte; the frame's
	// params_len covers that whole encoding.
	frame := make([]byte, 0, 6+len(method)+len(encodedParams))
	frame = append(frame, byte(kind), byte(len(method)))
	frame = appendU32(frame, uint32(len(encodedParams)))
	frame = append(frame, method...)
	frame = append(frame, encodedParams...)
	return frame, nil
}

// DecodeFrame parses a request frame, cloning Params into arena.
func DecodeFrame(src []byte, arena *corebus.Arena) (kind Kind, method string, params corebus.Map, rest []byte, err error) {
	if len(src) < 6 {
		err = corebus.NewError("wire.decode_frame", corebus.Parse, "truncated prelude")
		return
	}
	kind = Kind(src[0])
	methodLen := int(src[1])
	paramsLen := binary.LittleEndian.Uint32(src[2:6])
	rest = src[6:]

	if len(rest) < methodLen {
		err = corebus.NewError("wire.decode_frame", corebus.Parse, "truncated method")
		return
	}
	method = string(rest[:methodLen])
	rest = rest[methodLen:]

	if uint32(len(rest)) < paramsLen {
		err = corebus.NewError("wire.decode_frame", corebus.Parse, "truncated params")
		return
	}
	paramsBytes := rest[:paramsLen]
	rest = rest[paramsLen:]

	obj, leftover, decErr := DecodeObject(paramsBytes, arena)
	if decErr != nil {
		err = decErr
		return
	}
	if len(leftover) != 0 {
		err = corebus.NewError("wire.decode_frame", corebus.Parse, "trailing bytes after params")
		return
	}
	if corebus.ObjType(obj) != corebus.TypeMap {
		err = corebus.NewError("wire.decode_frame", corebus.Parse, "params is not a map")
		return
	}
	params = corebus.AsMap(obj)
	return
}

// ResponseType is the wire's `Response.type` byte (spec §6.2).
type ResponseType byte

const (
	RespOK     ResponseType = 0
	RespErr    ResponseType = 1
	RespAccept ResponseType = 2
	RespClose  ResponseType = 3
)

// EncodeResponse serializes a Response per §6.2:
// Response := type:u8 { OK: encoded Object | ERR: error_code:u32 | ACCEPT: 0 bytes | CLOSE: 0 bytes }.
func EncodeResponse(rt ResponseType, obj corebus.Object, code corebus.Code) ([]byte, error) {
	switch rt {
	case RespOK:
		dst := []byte{byte(RespOK)}
		return EncodeObject(dst, obj)
	case RespErr:
		dst := []byte{byte(RespErr)}
		return appendU32(dst, uint32(code)), nil
	case RespAccept:
		return []byte{byte(RespAccept)}, nil
	case RespClose:
		return []byte{byte(RespClose)}, nil
	default:
		return nil, corebus.NewError("wire.encode_response", corebus.Invalid, "unknown response type")
	}
}

// DecodeResponse parses a Response, cloning an OK payload into arena.
func DecodeResponse(src []byte, arena *corebus.Arena) (rt ResponseType, obj corebus.Object, code corebus.Code, err error) {
	if len(src) < 1 {
		err = corebus.NewError("wire.decode_response", corebus.Parse, "truncated response type")
		return
	}
	rt = ResponseType(src[0])
	rest := src[1:]
	switch rt {
	case RespOK:
		var leftover []byte
		obj, leftover, err = DecodeObject(rest, arena)
		if err == nil && len(leftover) != 0 {
			err = corebus.NewError("wire.decode_response", corebus.Parse, "trailing bytes after OK payload")
		}
		return
	case RespErr:
		var c uint32
		c, _, err = takeU32(rest)
		code = corebus.Code(c)
		return
	case RespAccept, RespClose:
		return
	default:
		err = corebus.NewError("wire.decode_response", corebus.Parse, "unknown response type byte")
		return
	}
}
