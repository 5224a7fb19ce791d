package slab

import "github.com/bsekura/smor/internal/spinlock"

// Heap is the size-classed general allocator built on top of List: a
// root list sourcing whole 2 MiB slabs from the page database, and a
// lazily-populated table of child lists for chunk sizes {16, 32, 64,
// 128, 256, 512} bytes, each itself sourced from the root's 16 KiB
// chunks. Grounded on original_source/kmalloc.c.
const (
	bigPageSize    = 1 << 21
	kmallocChunk   = 0x4000
	minSLShift     = 4 // 16 bytes
	maxSLShift     = 9 // 512 bytes
	numSizeClasses = maxSLShift - minSLShift + 1
)

// Heap owns the root slab list and the per-size-class table GetSlab
// lazily populates.
type Heap struct {
	root  List
	table [numSizeClasses]List
	lock  spinlock.Lock
}

// NewHeap constructs a Heap whose root list draws its 2 MiB slabs from
// src. There is no separate slack bump arena: in cmd/kernel src is the
// page database, so the heap exists only after the page database does.
// Callers call ReserveOnSlack once before anything else allocates from
// the heap.
func NewHeap(src Source) *Heap {
	h := &Heap{}
	Init(&h.root, nil, src, bigPageSize, kmallocChunk)
	return h
}

// ReserveOnSlack seeds the root list with one reserved 2 MiB slab.
func (h *Heap) ReserveOnSlack() bool {
	return h.root.ReserveOnSlack()
}

// Alloc allocates one kmallocChunk-sized object directly from the root
// list, matching kmalloc_alloc's use for slab-list bootstrap chunks.
func (h *Heap) Alloc() uintptr { return h.root.Alloc() }

// Free returns a chunk allocated by Alloc to the root list.
func (h *Heap) Free(addr uintptr) { h.root.Free(addr) }

// GetSlab returns (lazily creating) the child List whose chunk size is
// the next power of two >= elemSize, or nil if that chunk size falls
// outside the supported {16..512} byte classes.
func (h *Heap) GetSlab(elemSize uint32) *List {
	shift := ceilPow2(elemSize)
	if shift < minSLShift || shift > maxSLShift {
		return nil
	}
	index := shift - minSLShift

	h.lock.Acquire()
	defer h.lock.Release()

	sl := &h.table[index]
	if sl.Owner == nil {
		Init(sl, &h.root, nil, kmallocChunk, 1<<shift)
	}
	return sl
}
