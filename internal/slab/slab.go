// Package slab implements the self-describing slab allocator: a slab is
// a chunk of backing memory whose own header, placed at its own offset
// 0, tracks a free-list of same-sized chunks through an in-place
// chunk-link array. A List groups slabs of one chunk size into a
// free/used pair and sources new backing memory either from a parent
// List or from a raw page source. Grounded on original_source/slab.c.
package slab

import (
	"unsafe"

	"github.com/bsekura/smor/internal/spinlock"
)

// Source supplies and reclaims whole backing chunks for a root slab
// list (one with no parent). internal/pagedb.DB implements this for the
// 2 MiB big-page case.
type Source interface {
	AllocPage(size uint32) uintptr
	FreePage(addr uintptr, size uint32)
}

const reservedFlag = 0x1

// slabHeader sits at offset 0 of its own backing memory. ChunkList is a
// conceptually-flexible trailing array; since Go structs can't end in a
// flexible array, it is carried as a slice built with unsafe.Slice over
// the same backing memory immediately following the fixed header.
type slabHeader struct {
	next        *slabHeader
	prev        **slabHeader
	chunkShift  uint32
	numChunks   uint16
	numFree     uint16
	numReserved uint16
	flags       uint16
	freeList    uint16
}

const headerSize = unsafe.Sizeof(slabHeader{})

func slabAt(addr uintptr) *slabHeader {
	return (*slabHeader)(unsafe.Pointer(addr))
}

func (s *slabHeader) chunkList() []uint16 {
	base := uintptr(unsafe.Pointer(s)) + headerSize
	return unsafe.Slice((*uint16)(unsafe.Pointer(base)), s.numChunks)
}

func ceilPow2(x uint32) uint32 {
	shift := uint32(0)
	v := uint32(1)
	for v < x {
		v <<= 1
		shift++
	}
	return shift
}

func initSlab(addr uintptr, size, chunkSize uint32) *slabHeader {
	chunkShift := ceilPow2(chunkSize)
	chunkSizePow2 := uint32(1) << chunkShift
	numChunks := size >> chunkShift
	cacheSize := uint32(headerSize) + numChunks*2
	numReserved := ((cacheSize + (chunkSizePow2 - 1)) &^ (chunkSizePow2 - 1)) >> chunkShift

	s := slabAt(addr)
	*s = slabHeader{
		chunkShift:  chunkShift,
		numChunks:   uint16(numChunks),
		numFree:     uint16(numChunks - numReserved),
		numReserved: uint16(numReserved),
	}

	links := s.chunkList()
	var i uint32
	for i = 0; i < numReserved; i++ {
		links[i] = 0
	}
	for i = numReserved; i < numChunks-1; i++ {
		links[i] = uint16(i + 1)
	}
	links[i] = 0
	s.freeList = uint16(numReserved)
	return s
}

func (s *slabHeader) alloc() uintptr {
	index := s.freeList
	if index == 0 {
		return 0
	}
	links := s.chunkList()
	s.freeList = links[index]
	s.numFree--
	base := uintptr(unsafe.Pointer(s))
	return base + (uintptr(index) << s.chunkShift)
}

func (s *slabHeader) free(addr uintptr) {
	base := uintptr(unsafe.Pointer(s))
	index := uint32(addr-base) >> s.chunkShift
	links := s.chunkList()
	links[index] = s.freeList
	s.freeList = uint16(index)
	s.numFree++
}

func (s *slabHeader) isEmpty() bool    { return s.numFree == s.numChunks-s.numReserved }
func (s *slabHeader) isFull() bool     { return s.numFree == 0 }
func (s *slabHeader) isReserved() bool { return s.flags&reservedFlag != 0 }

func listInsert(head **slabHeader, s *slabHeader) {
	if *head != nil {
		(*head).prev = &s.next
	}
	s.next = *head
	s.prev = head
	*head = s
}

func listRemove(s *slabHeader) {
	if s.next != nil {
		s.next.prev = s.prev
	}
	if s.prev != nil {
		*s.prev = s.next
	}
	s.next = nil
	s.prev = nil
}

// List is a size-classed free pool: every slab it owns serves chunks of
// the same size. When Owner is non-nil, new backing slabs come from the
// parent List's own allocator instead of Src.
type List struct {
	Owner      *List
	Src        Source
	freeSlabs  *slabHeader
	usedSlabs  *slabHeader
	sizeShift  uint32
	chunkShift uint32
	flags      uint32
	lock       spinlock.Lock
}

// Init sets up sl as a slab list of the given total slab size and chunk
// size. When owner is non-nil its chunk size must equal size (the child
// draws whole backing slabs from the parent's own chunk pool).
func Init(sl *List, owner *List, src Source, size, chunkSize uint32) bool {
	sizeShift := ceilPow2(size)
	if owner != nil && owner.chunkShift != sizeShift {
		return false
	}
	*sl = List{
		Owner:      owner,
		Src:        src,
		sizeShift:  sizeShift,
		chunkShift: ceilPow2(chunkSize),
	}
	return true
}

func (sl *List) size() uint32 { return 1 << sl.sizeShift }

// ReserveOnSlack seeds sl with one slab sourced from Src (or the owner),
// marked reserved so it is never returned to the backing store. It takes
// that slab from the same source as any other slab; it does not use a
// kernel-image slack region.
func (sl *List) ReserveOnSlack() bool {
	size := sl.size()
	var p uintptr
	if sl.Owner != nil {
		p = sl.Owner.Alloc()
	} else {
		p = sl.Src.AllocPage(size)
	}
	if p == 0 {
		return false
	}
	s := initSlab(p, size, 1<<sl.chunkShift)
	s.flags |= reservedFlag
	listInsert(&sl.freeSlabs, s)
	return true
}

// Alloc returns a new chunk, or 0 if no backing memory could be obtained.
func (sl *List) Alloc() uintptr {
	sl.lock.Acquire()
	defer sl.lock.Release()

	if s := sl.freeSlabs; s != nil {
		addr := s.alloc()
		if s.isFull() {
			listRemove(s)
			listInsert(&sl.usedSlabs, s)
		}
		return addr
	}

	size := sl.size()
	var p uintptr
	if sl.Owner != nil {
		p = sl.Owner.Alloc()
	} else {
		p = sl.Src.AllocPage(size)
	}
	if p == 0 {
		return 0
	}

	s := initSlab(p, size, 1<<sl.chunkShift)
	listInsert(&sl.freeSlabs, s)
	return s.alloc()
}

// Free returns a chunk to its owning slab, releasing the slab's whole
// backing memory if it becomes entirely free and is not reserved.
func (sl *List) Free(addr uintptr) {
	slabAddr := addr &^ (uintptr(sl.size()) - 1)
	s := slabAt(slabAddr)

	sl.lock.Acquire()
	defer sl.lock.Release()

	wasFull := s.isFull()
	s.free(addr)
	if wasFull {
		listRemove(s)
		listInsert(&sl.freeSlabs, s)
	} else if s.isEmpty() && !s.isReserved() {
		listRemove(s)
		if sl.Owner != nil {
			sl.Owner.Free(slabAddr)
		} else {
			sl.Src.FreePage(slabAddr, sl.size())
		}
	}
}
