package corebus

// Type is the one-byte tag distinguishing an Object's variant (spec §3.1,
// §4.2 TLV encoding). Values are wire-stable: they appear as the leading
// TLV tag byte on every core-bus frame.
type Type uint8

const (
	TypeNull Type = iota
	TypeBool
	TypeI64
	TypeF64
	TypeBuffer
	TypeList
	TypeMap
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeI64:
		return "i64"
	case TypeF64:
		return "f64"
	case TypeBuffer:
		return "buffer"
	case TypeList:
		return "list"
	case TypeMap:
		return "map"
	default:
		return "unknown"
	}
}

// Object is a tagged dynamic value: the universal RPC payload type
// (spec §3.1, §4.1). It is a recursive tree through List and Map.
//
// Only one of the typed fields is meaningful at a time, selected by tag;
// this mirrors the C original's "private struct + accessor" pattern
// for GglObject (aws-greengrass-lite modules/ggl-sdk/src/object.c) without
// the union-aliasing trick C needs and Go doesn't.
type Object struct {
	tag  Type
	b    bool
	i    int64
	f    float64
	buf  Buffer
	list List
	m    Map
}

// Null is the zero-value Object.
var Null = Object{tag: TypeNull}

// ObjType returns the Object's type tag.
func ObjType(o Object) Type { return o.tag }

// NewBool constructs a bool Object.
func NewBool(v bool) Object { return Object{tag: TypeBool, b: v} }

// AsBool returns the bool value. Panics if o is not TypeBool (programmer
// error per spec §4.1 "Type-mismatched accessors panic").
func AsBool(o Object) bool {
	mustType(o, TypeBool)
	return o.b
}

// NewI64 constructs a signed-integer Object.
func NewI64(v int64) Object { return Object{tag: TypeI64, i: v} }

// AsI64 returns the int64 value. Panics if o is not TypeI64.
func AsI64(o Object) int64 {
	mustType(o, TypeI64)
	return o.i
}

// NewF64 constructs a floating-point Object.
func NewF64(v float64) Object { return Object{tag: TypeF64, f: v} }

// AsF64 returns the float64 value. Panics if o is not TypeF64.
func AsF64(o Object) float64 {
	mustType(o, TypeF64)
	return o.f
}

// NewBuffer constructs a Buffer-backed Object.
func NewBuffer(v Buffer) Object { return Object{tag: TypeBuffer, buf: v} }

// AsBuffer returns the Buffer value. Panics if o is not TypeBuffer.
func AsBuffer(o Object) Buffer {
	mustType(o, TypeBuffer)
	return o.buf
}

// NewList constructs a List-backed Object.
func NewList(v List) Object { return Object{tag: TypeList, list: v} }

// AsList returns the List value. Panics if o is not TypeList.
func AsList(o Object) List {
	mustType(o, TypeList)
	return o.list
}

// NewMap constructs a Map-backed Object.
func NewMap(v Map) Object { return Object{tag: TypeMap, m: v} }

// AsMap returns the Map value. Panics if o is not TypeMap.
func AsMap(o Object) Map {
	mustType(o, TypeMap)
	return o.m
}

func mustType(o Object, want Type) {
	if o.tag != want {
		panic("corebus: object type mismatch: want " + want.String() + " got " + o.tag.String())
	}
}

// Depth returns the maximum nesting depth of o, used to enforce
// MaxObjectDepth (spec §4.1 "Depth cap").
func Depth(o Object) int {
	switch o.tag {
	case TypeList:
		max := 0
		for _, elem := range o.list.Items {
			if d := Depth(elem); d > max {
				max = d
			}
		}
		return 1 + max
	case TypeMap:
		max := 0
		for _, kv := range o.m.Pairs {
			if d := Depth(kv.Val); d > max {
				max = d
			}
		}
		return 1 + max
	default:
		return 1
	}
}
