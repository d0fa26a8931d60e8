package corebus

import (
	"strconv"
)

// Buffer is an ordered sequence of bytes, possibly referencing UTF-8
// (spec §3.1). The zero Buffer (nil data, len 0) is valid.
type Buffer struct {
	Data []byte
}

// Len returns the buffer's length.
func (b Buffer) Len() int { return len(b.Data) }

// BufferFrom wraps a byte slice as a Buffer without copying.
func BufferFrom(b []byte) Buffer { return Buffer{Data: b} }

// BufferFromString wraps a string's bytes as a Buffer without copying.
func BufferFromString(s string) Buffer { return Buffer{Data: []byte(s)} }

// String returns the buffer's contents as a string (copies).
func (b Buffer) String() string { return string(b.Data) }

// BufferEq reports whether a and b have identical contents.
func BufferEq(a, b Buffer) bool {
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

// BufferHasPrefix reports whether b starts with prefix.
func BufferHasPrefix(b, prefix Buffer) bool {
	if len(prefix.Data) > len(b.Data) {
		return false
	}
	return BufferEq(BufferSubstr(b, 0, len(prefix.Data)), prefix)
}

// BufferHasSuffix reports whether b ends with suffix.
func BufferHasSuffix(b, suffix Buffer) bool {
	if len(suffix.Data) > len(b.Data) {
		return false
	}
	start := len(b.Data) - len(suffix.Data)
	return BufferEq(BufferSubstr(b, start, len(b.Data)), suffix)
}

// BufferRemovePrefix mutates *b in place, stripping prefix if present, and
// reports whether it did so.
func BufferRemovePrefix(b *Buffer, prefix Buffer) bool {
	if !BufferHasPrefix(*b, prefix) {
		return false
	}
	b.Data = b.Data[len(prefix.Data):]
	return true
}

// BufferRemoveSuffix mutates *b in place, stripping suffix if present, and
// reports whether it did so.
func BufferRemoveSuffix(b *Buffer, suffix Buffer) bool {
	if !BufferHasSuffix(*b, suffix) {
		return false
	}
	b.Data = b.Data[:len(b.Data)-len(suffix.Data)]
	return true
}

// BufferContains reports whether sub occurs within b, and if outStart is
// non-nil, stores the index of the first match.
func BufferContains(b, sub Buffer, outStart *int) bool {
	n, m := len(b.Data), len(sub.Data)
	if m == 0 {
		if outStart != nil {
			*outStart = 0
		}
		return true
	}
	for i := 0; i+m <= n; i++ {
		if BufferEq(Buffer{Data: b.Data[i : i+m]}, sub) {
			if outStart != nil {
				*outStart = i
			}
			return true
		}
	}
	return false
}

// BufferSubstr returns the clamped slice [start, end) of b. Out-of-range
// bounds are clamped rather than erroring (spec §8.1 "Buffer utilities").
func BufferSubstr(b Buffer, start, end int) Buffer {
	n := len(b.Data)
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	if end < start {
		end = start
	}
	if end > n {
		end = n
	}
	return Buffer{Data: b.Data[start:end]}
}

// BufferFromNullTerm returns the Buffer up to (excluding) the first NUL
// byte in cstr, or all of cstr if none is found.
func BufferFromNullTerm(cstr []byte) Buffer {
	for i, c := range cstr {
		if c == 0 {
			return Buffer{Data: cstr[:i]}
		}
	}
	return Buffer{Data: cstr}
}

// StrToInt64 parses b as a base-10 signed integer.
func StrToInt64(b Buffer) (int64, error) {
	v, err := strconv.ParseInt(string(b.Data), 10, 64)
	if err != nil {
		return 0, NewError("str_to_int64", Parse, err.Error())
	}
	return v, nil
}
