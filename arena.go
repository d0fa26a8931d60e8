package corebus

import "unsafe"

// Arena is a monotonic bump-pointer region over a caller-supplied backing
// buffer (spec §3.1, §4.1). It cannot free individual allocations; only
// the most recent allocation can be resized via ResizeLast. Not
// thread-safe by design (spec §5): callers own their arenas.
//
// Allocations are returned as three-index []byte slices into the arena's
// own backing slice (length and capacity equal to the requested size)
// rather than as the C original's raw pointers
// (modules/ggl-sdk/src/arena.c); the bump-index discipline and failure
// semantics are otherwise identical.
type Arena struct {
	mem      []byte
	capacity uint32
	index    uint32
}

// NewArena wraps backing as a fresh Arena. The arena's capacity is
// len(backing); backing's existing contents are ignored.
func NewArena(backing []byte) *Arena {
	return &Arena{mem: backing, capacity: uint32(len(backing))}
}

// Mark is a saved arena index, used to reset after a partial
// claim/allocation failure (spec §4.1 "Recursive claim").
type Mark uint32

// Mark returns the arena's current index.
func (a *Arena) Mark() Mark { return Mark(a.index) }

// Reset rewinds the arena to a previously-saved Mark.
func (a *Arena) Reset(m Mark) { a.index = uint32(m) }

// Capacity returns the arena's total backing size.
func (a *Arena) Capacity() uint32 { return a.capacity }

// Used returns the number of bytes currently allocated.
func (a *Arena) Used() uint32 { return a.index }

// Alloc reserves size bytes aligned to align (which must be a power of
// two), returning the allocated slice or nil if the arena lacks room
// (spec §4.1 "Alignment-correct bump").
func (a *Arena) Alloc(size, align uint32) []byte {
	if a == nil {
		return nil
	}
	if align == 0 {
		align = 1
	}

	pad := (align - (a.index % align)) % align
	if pad > a.capacity-a.index {
		return nil
	}
	idx := a.index + pad
	if size > a.capacity-idx {
		return nil
	}

	a.index = idx + size
	return a.mem[idx:a.index:a.index]
}

// AllocRest claims every remaining byte of the arena as a Buffer.
func (a *Arena) AllocRest() Buffer {
	if a == nil {
		return Buffer{}
	}
	remaining := a.capacity - a.index
	return Buffer{Data: a.Alloc(remaining, 1)}
}

// Owns reports whether ptr's backing array falls within this arena's own
// memory, the Go-safe analogue (via unsafe.Pointer address arithmetic, not
// raw C pointers) of ggl_arena_owns's range check.
func (a *Arena) Owns(ptr []byte) bool {
	if a == nil || len(a.mem) == 0 || len(ptr) == 0 {
		return false
	}
	memStart := uintptr(unsafe.Pointer(&a.mem[0]))
	memEnd := memStart + uintptr(len(a.mem))
	ptrStart := uintptr(unsafe.Pointer(&ptr[0]))
	ptrEnd := ptrStart + uintptr(len(ptr))
	return ptrStart >= memStart && ptrEnd <= memEnd
}

// ResizeLast grows or shrinks the most recent allocation in place. ptr
// must be the slice most recently returned by Alloc/AllocRest with length
// oldSize; any other input returns Invalid (spec §4.1 "resize_last
// verifies ptr+old_size == index+base").
func (a *Arena) ResizeLast(ptr []byte, oldSize, newSize uint32) ([]byte, error) {
	if a == nil || len(ptr) == 0 {
		return nil, NewError("arena.resize_last", Invalid, "nil arena or ptr")
	}
	if !a.Owns(ptr) {
		return nil, NewError("arena.resize_last", Invalid, "ptr not owned by arena")
	}

	idx := a.offsetOf(ptr)
	if idx > a.index {
		return nil, NewError("arena.resize_last", Invalid, "ptr out of allocated range")
	}
	if a.index-idx != oldSize {
		return nil, NewError("arena.resize_last", Invalid, "old_size does not match allocation index")
	}
	if newSize > a.capacity-idx {
		return nil, NewError("arena.resize_last", Nomem, "insufficient memory to resize")
	}

	a.index = idx + newSize
	return a.mem[idx:a.index:a.index], nil
}

func (a *Arena) offsetOf(ptr []byte) uint32 {
	if len(a.mem) == 0 || len(ptr) == 0 {
		return a.capacity + 1
	}
	memStart := uintptr(unsafe.Pointer(&a.mem[0]))
	ptrStart := uintptr(unsafe.Pointer(&ptr[0]))
	return uint32(ptrStart - memStart)
}

// ClaimBuffer copies buf's contents into the arena if buf is not already
// arena-owned, mirroring ggl_arena_claim_buf.
func (a *Arena) ClaimBuffer(buf *Buffer) error {
	if a.Owns(buf.Data) {
		return nil
	}
	if len(buf.Data) == 0 {
		buf.Data = nil
		return nil
	}
	dst := a.Alloc(uint32(len(buf.Data)), 1)
	if dst == nil {
		return NewError("arena.claim_buf", Nomem, "insufficient memory cloning buffer")
	}
	copy(dst, buf.Data)
	buf.Data = dst
	return nil
}

// ClaimObject recursively copies any buffers/containers in obj's graph
// that are not already arena-owned into the arena, mirroring
// ggl_arena_claim_obj. Cycles are impossible since Object graphs are
// tree-only by construction.
func (a *Arena) ClaimObject(obj *Object) error {
	switch obj.tag {
	case TypeNull, TypeBool, TypeI64, TypeF64:
		return nil
	case TypeBuffer:
		return a.ClaimBuffer(&obj.buf)
	case TypeList:
		return a.claimList(&obj.list)
	case TypeMap:
		return a.claimMap(&obj.m)
	default:
		return NewError("arena.claim_obj", Invalid, "unknown object type")
	}
}

func (a *Arena) ownsObjects(items []Object) bool {
	if len(items) == 0 {
		return false
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&items[0])), int(unsafe.Sizeof(Object{}))*len(items))
	return a.Owns(b)
}

func (a *Arena) allocObjects(n int) []Object {
	sz := uint32(int(unsafe.Sizeof(Object{})) * n)
	buf := a.Alloc(sz, uint32(unsafe.Alignof(Object{})))
	if buf == nil {
		return nil
	}
	return unsafe.Slice((*Object)(unsafe.Pointer(&buf[0])), n)
}

func (a *Arena) ownsPairs(pairs []KV) bool {
	if len(pairs) == 0 {
		return false
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&pairs[0])), int(unsafe.Sizeof(KV{}))*len(pairs))
	return a.Owns(b)
}

func (a *Arena) allocPairs(n int) []KV {
	sz := uint32(int(unsafe.Sizeof(KV{})) * n)
	buf := a.Alloc(sz, uint32(unsafe.Alignof(KV{})))
	if buf == nil {
		return nil
	}
	return unsafe.Slice((*KV)(unsafe.Pointer(&buf[0])), n)
}

// claimList reallocates-and-copies the item array into the arena if it is
// not already arena-owned, then recursively claims each element, mirroring
// claim_list in modules/ggl-sdk/src/arena.c. A second claim of an
// already-claimed list is a no-op on the array itself (spec §8.1 "Claim
// idempotence").
func (a *Arena) claimList(list *List) error {
	if len(list.Items) > 0 && !a.ownsObjects(list.Items) {
		newItems := a.allocObjects(len(list.Items))
		if newItems == nil {
			return NewError("arena.claim_obj", Nomem, "insufficient memory cloning list")
		}
		copy(newItems, list.Items)
		list.Items = newItems
	}
	for i := range list.Items {
		if err := a.ClaimObject(&list.Items[i]); err != nil {
			return err
		}
	}
	return nil
}

// claimMap mirrors claim_map in modules/ggl-sdk/src/arena.c.
func (a *Arena) claimMap(m *Map) error {
	if len(m.Pairs) > 0 && !a.ownsPairs(m.Pairs) {
		newPairs := a.allocPairs(len(m.Pairs))
		if newPairs == nil {
			return NewError("arena.claim_obj", Nomem, "insufficient memory cloning map")
		}
		copy(newPairs, m.Pairs)
		m.Pairs = newPairs
	}
	for i := range m.Pairs {
		if err := a.ClaimBuffer(&m.Pairs[i].Key); err != nil {
			return err
		}
		if err := a.ClaimObject(&m.Pairs[i].Val); err != nil {
			return err
		}
	}
	return nil
}
