package corebus

import (
	"math/rand"
	"net"
)

// NewTestArena returns an Arena backed by a fresh size-byte buffer, for use
// in unit tests that need a scratch allocation region.
func NewTestArena(size int) *Arena {
	return NewArena(make([]byte, size))
}

// LoopbackConn returns a pair of connected in-memory net.Conn, standing in
// for an AF_UNIX socketpair in tests that exercise the wire codec or
// event-stream framing without touching the filesystem (spec §4.5's
// socket-server utility is exercised against a real AF_UNIX listener in
// integration tests; unit tests use this instead).
func LoopbackConn() (client, server net.Conn) {
	return net.Pipe()
}

// RandomObjectGen produces bounded-depth random Object graphs for
// property-based tests of the arena's claim/alloc behavior (spec §8.1).
type RandomObjectGen struct {
	rng      *rand.Rand
	maxDepth int
}

// NewRandomObjectGen creates a generator seeded by seed, capping generated
// graphs at maxDepth (which should not exceed MaxObjectDepth).
func NewRandomObjectGen(seed int64, maxDepth int) *RandomObjectGen {
	return &RandomObjectGen{rng: rand.New(rand.NewSource(seed)), maxDepth: maxDepth}
}

// Object returns one randomly-shaped Object.
func (g *RandomObjectGen) Object() Object {
	return g.objectAt(0)
}

func (g *RandomObjectGen) objectAt(depth int) Object {
	kinds := 4
	if depth < g.maxDepth {
		kinds = 6
	}
	switch g.rng.Intn(kinds) {
	case 0:
		return Null
	case 1:
		return NewBool(g.rng.Intn(2) == 0)
	case 2:
		return NewI64(g.rng.Int63())
	case 3:
		return NewBuffer(g.randomBuffer())
	case 4:
		n := g.rng.Intn(4)
		items := make([]Object, n)
		for i := range items {
			items[i] = g.objectAt(depth + 1)
		}
		return NewList(List{Items: items})
	default:
		n := g.rng.Intn(4)
		pairs := make([]KV, n)
		for i := range pairs {
			pairs[i] = KV{Key: g.randomBuffer(), Val: g.objectAt(depth + 1)}
		}
		return NewMap(Map{Pairs: pairs})
	}
}

func (g *RandomObjectGen) randomBuffer() Buffer {
	n := g.rng.Intn(16)
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + g.rng.Intn(26))
	}
	return Buffer{Data: b}
}

// RecordingObserver appends every Observe* call it receives, for
// assertions in tests that exercise core-bus/GG-IPC instrumentation.
type RecordingObserver struct {
	Calls []RecordedCall
}

// RecordedCall is one call made against a RecordingObserver.
type RecordedCall struct {
	Kind      string // "call", "notify", "subscribe", "subscribe_drop"
	LatencyNs uint64
	Success   bool
}

func (o *RecordingObserver) ObserveCall(latencyNs uint64, success bool) {
	o.Calls = append(o.Calls, RecordedCall{Kind: "call", LatencyNs: latencyNs, Success: success})
}

func (o *RecordingObserver) ObserveNotify() {
	o.Calls = append(o.Calls, RecordedCall{Kind: "notify", Success: true})
}

func (o *RecordingObserver) ObserveSubscribe() {
	o.Calls = append(o.Calls, RecordedCall{Kind: "subscribe", Success: true})
}

func (o *RecordingObserver) ObserveSubscribeDrop() {
	o.Calls = append(o.Calls, RecordedCall{Kind: "subscribe_drop", Success: false})
}

// ObjectsEqual reports whether a and b are structurally identical Object
// graphs, for round-trip property tests (spec §8.1 "decode(encode(o)) ==
// o"). Buffer/List/Map are compared by value, not by backing-array
// identity, since a decode may land in a different arena than the
// original.
func ObjectsEqual(a, b Object) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TypeNull:
		return true
	case TypeBool:
		return a.b == b.b
	case TypeI64:
		return a.i == b.i
	case TypeF64:
		return a.f == b.f
	case TypeBuffer:
		return BufferEq(a.buf, b.buf)
	case TypeList:
		if len(a.list.Items) != len(b.list.Items) {
			return false
		}
		for i := range a.list.Items {
			if !ObjectsEqual(a.list.Items[i], b.list.Items[i]) {
				return false
			}
		}
		return true
	case TypeMap:
		if len(a.m.Pairs) != len(b.m.Pairs) {
			return false
		}
		for i := range a.m.Pairs {
			if !BufferEq(a.m.Pairs[i].Key, b.m.Pairs[i].Key) {
				return false
			}
			if !ObjectsEqual(a.m.Pairs[i].Val, b.m.Pairs[i].Val) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
