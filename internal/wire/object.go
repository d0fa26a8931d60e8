// Package wire implements the core-bus TLV binary codec (spec §4.2 "Wire
// format", §6.2 "Core-bus frame format"), ported from the teacher corpus's
// manual little-endian marshal/unmarshal idiom (hand-written
// binary.LittleEndian field access, no reflection on the hot path).
package wire

import (
	"encoding/binary"

	"github.com/gglite/corebus"
)

// tag values mirror corebus.Type's ordinals; re-declared here as the wire
// constants so a change to the in-memory Type enum can't silently change
// the byte-on-the-wire contract.
const (
	tagNull   byte = 0
	tagBool   byte = 1
	tagI64    byte = 2
	tagF64    byte = 3
	tagBuffer byte = 4
	tagList   byte = 5
	tagMap    byte = 6
)

// maxObjectDepth mirrors corebus.MaxObjectDepth (spec §4.1 "Depth cap");
// the decoder must reject wire input nested deeper than this even if the
// encoder that produced it was buggy or hostile.
const maxObjectDepth = corebus.MaxObjectDepth

// EncodeObject appends obj's TLV encoding to dst and returns the result.
func EncodeObject(dst []byte, obj corebus.Object) ([]byte, error) {
	switch corebus.ObjType(obj) {
	case corebus.TypeNull:
		return append(dst, tagNull), nil
	case corebus.TypeBool:
		b := byte(0)
		if corebus.AsBool(obj) {
			b = 1
		}
		return append(dst, tagBool, b), nil
	case corebus.TypeI64:
		dst = append(dst, tagI64)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(corebus.AsI64(obj)))
		return append(dst, buf[:]...), nil
	case corebus.TypeF64:
		dst = append(dst, tagF64)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], f64bits(corebus.AsF64(obj)))
		return append(dst, buf[:]...), nil
	case corebus.TypeBuffer:
		b := corebus.AsBuffer(obj)
		dst = append(dst, tagBuffer)
		dst = appendU32(dst, uint32(b.Len()))
		return append(dst, b.Data...), nil
	case corebus.TypeList:
		list := corebus.AsList(obj)
		dst = append(dst, tagList)
		dst = appendU32(dst, uint32(len(list.Items)))
		var err error
		for _, item := range list.Items {
			dst, err = EncodeObject(dst, item)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	case corebus.TypeMap:
		m := corebus.AsMap(obj)
		dst = append(dst, tagMap)
		dst = appendU32(dst, uint32(len(m.Pairs)))
		var err error
		for _, kv := range m.Pairs {
			dst = appendU32(dst, uint32(kv.Key.Len()))
			dst = append(dst, kv.Key.Data...)
			dst, err = EncodeObject(dst, kv.Val)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	default:
		return nil, corebus.NewError("wire.encode_object", corebus.Invalid, "unknown object type")
	}
}

// DecodeObject decodes one TLV Object from the front of src, cloning any
// Buffer/List/Map contents into arena, and returns the object and the
// unconsumed remainder of src.
func DecodeObject(src []byte, arena *corebus.Arena) (corebus.Object, []byte, error) {
	return decodeObjectDepth(src, arena, 0)
}

func decodeObjectDepth(src []byte, arena *corebus.Arena, depth int) (corebus.Object, []byte, error) {
	if depth > maxObjectDepth {
		return corebus.Object{}, nil, corebus.NewError("wire.decode_object", corebus.Range, "object nesting exceeds max depth")
	}
	if len(src) < 1 {
		return corebus.Object{}, nil, corebus.NewError("wire.decode_object", corebus.Parse, "truncated tag byte")
	}

	tag, rest := src[0], src[1:]
	switch tag {
	case tagNull:
		return corebus.Null, rest, nil
	case tagBool:
		if len(rest) < 1 {
			return corebus.Object{}, nil, corebus.NewError("wire.decode_object", corebus.Parse, "truncated bool")
		}
		return corebus.NewBool(rest[0] != 0), rest[1:], nil
	case tagI64:
		if len(rest) < 8 {
			return corebus.Object{}, nil, corebus.NewError("wire.decode_object", corebus.Parse, "truncated i64")
		}
		v := int64(binary.LittleEndian.Uint64(rest[:8]))
		return corebus.NewI64(v), rest[8:], nil
	case tagF64:
		if len(rest) < 8 {
			return corebus.Object{}, nil, corebus.NewError("wire.decode_object", corebus.Parse, "truncated f64")
		}
		v := f64frombits(binary.LittleEndian.Uint64(rest[:8]))
		return corebus.NewF64(v), rest[8:], nil
	case tagBuffer:
		n, rest, err := takeU32(rest)
		if err != nil {
			return corebus.Object{}, nil, corebus.WrapError("wire.decode_object", err)
		}
		if uint32(len(rest)) < n {
			return corebus.Object{}, nil, corebus.NewError("wire.decode_object", corebus.Parse, "truncated buffer")
		}
		data := rest[:n]
		buf := corebus.Buffer{Data: data}
		if arena != nil {
			if err := arena.ClaimBuffer(&buf); err != nil {
				return corebus.Object{}, nil, corebus.WrapError("wire.decode_object", err)
			}
		}
		return corebus.NewBuffer(buf), rest[n:], nil
	case tagList:
		n, rest, err := takeU32(rest)
		if err != nil {
			return corebus.Object{}, nil, corebus.WrapError("wire.decode_object", err)
		}
		if uint32(len(rest)) < n {
			return corebus.Object{}, nil, corebus.NewError("wire.decode_object", corebus.Parse, "list count exceeds remaining bytes")
		}
		items := make([]corebus.Object, n)
		for i := range items {
			var item corebus.Object
			item, rest, err = decodeObjectDepth(rest, arena, depth+1)
			if err != nil {
				return corebus.Object{}, nil, err
			}
			items[i] = item
		}
		list := corebus.NewList(corebus.List{Items: items})
		if arena != nil {
			obj := list
			if err := arena.ClaimObject(&obj); err != nil {
				return corebus.Object{}, nil, corebus.WrapError("wire.decode_object", err)
			}
			return obj, rest, nil
		}
		return list, rest, nil
	case tagMap:
		n, rest, err := takeU32(rest)
		if err != nil {
			return corebus.Object{}, nil, corebus.WrapError("wire.decode_object", err)
		}
		if uint32(len(rest)) < n {
			return corebus.Object{}, nil, corebus.NewError("wire.decode_object", corebus.Parse, "map count exceeds remaining bytes")
		}
		pairs := make([]corebus.KV, n)
		for i := range pairs {
			var keyLen uint32
			keyLen, rest, err = takeU32(rest)
			if err != nil {
				return corebus.Object{}, nil, corebus.WrapError("wire.decode_object", err)
			}
			if uint32(len(rest)) < keyLen {
				return corebus.Object{}, nil, corebus.NewError("wire.decode_object", corebus.Parse, "truncated map key")
			}
			key := corebus.Buffer{Data: rest[:keyLen]}
			rest = rest[keyLen:]

			var val corebus.Object
			val, rest, err = decodeObjectDepth(rest, arena, depth+1)
			if err != nil {
				return corebus.Object{}, nil, err
			}
			pairs[i] = corebus.KV{Key: key, Val: val}
		}
		m := corebus.NewMap(corebus.Map{Pairs: pairs})
		if arena != nil {
			obj := m
			if err := arena.ClaimObject(&obj); err != nil {
				return corebus.Object{}, nil, corebus.WrapError("wire.decode_object", err)
			}
			return obj, rest, nil
		}
		return m, rest, nil
	default:
		return corebus.Object{}, nil, corebus.NewError("wire.decode_object", corebus.Parse, "unknown tag byte")
	}
}

func appendU32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func takeU32(src []byte) (uint32, []byte, error) {
	if len(src) < 4 {
		return 0, nil, corebus.NewError("wire.take_u32", corebus.Parse, "truncated u32")
	}
	return binary.LittleEndian.Uint32(src[:4]), src[4:], nil
}
