// Package pagedb implements the two-tier physical page allocator:
// one process-wide big-page database indexing 2 MiB frames of physical
// memory, and an optional small-page database nested inside a single big
// page, re-describing it as 512 × 4 KiB slots. Both are grounded on
// original_source/vm_page.c's page_db_t / page_desc_t pair; the free list
// is singly linked through an index field in the descriptor array rather
// than through raw pointers, the same indices-over-pointers choice the
// source's own free_list/next_free fields already make.
package pagedb

import (
	"unsafe"

	"github.com/bsekura/smor/internal/spinlock"
)

const (
	Page4KShift = 12
	Page4KSize  = 1 << Page4KShift
	Page2MShift = 21
	Page2MSize  = 1 << Page2MShift
)

// State is the tri-state a page descriptor is always in exactly one of.
type State uint32

const (
	Free State = iota
	Used
	Reserved
)

// Desc is one page descriptor. NextCache/PrevCache/NextHash are indices
// into the owning page cache's own bookkeeping rather than pointers; the
// page cache itself is unwired scaffolding (see internal/pagecache), so
// these fields are carried for layout fidelity but never populated by any
// operation in this tree.
type Desc struct {
	NextCache   uint32
	PrevCache   uint32
	NextHash    uint32
	CacheOffset uint64
	NextFree    uint32
	Flags       State
	Vaddr       uint64
}

// DB is a page database. PageIndex is 0 for the root big-page database;
// for a small-page database it is the big-page index of the 2 MiB frame
// it re-describes, exactly as page_db_t.page_index distinguishes the two
// in the source.
type DB struct {
	PageIndex   uint32
	NumPages    uint32
	NumFree     uint32
	NumReserved uint32
	FreeList    uint32
	Lock        spinlock.Lock
	Pages       []Desc
}

// IsSmall reports whether db re-describes a single big page as 4 KiB
// slots, the source's "page_index != 0" test.
func (db *DB) IsSmall() bool { return db.PageIndex != 0 }

func initPages(db *DB, numPages, numReserved uint32) {
	db.Pages = make([]Desc, numPages)
	var i uint32
	for i = 0; i < numReserved; i++ {
		db.Pages[i] = Desc{Flags: Reserved}
	}
	for i = numReserved; i < numPages-1; i++ {
		db.Pages[i] = Desc{Flags: Free, NextFree: i + 1}
	}
	db.Pages[i] = Desc{Flags: Free}
	db.FreeList = numReserved
}

// Init builds the root big-page database for a machine with the given
// total memory size, reserving enough leading 2 MiB frames to cover
// reservedSize (the kernel image plus anything already consumed before
// the database existed).
func Init(memorySize, reservedSize uint64) *DB {
	numReserved := uint32(page2MNum(reservedSize))
	numPages := uint32(memorySize >> Page2MShift)

	db := &DB{NumPages: numPages, NumFree: numPages - numReserved, NumReserved: numReserved}
	initPages(db, numPages, numReserved)
	return db
}

// InitSmall builds a small-page database that re-describes the big page
// at pageIndex as 512 4 KiB slots, reserving however many leading slots
// its own header and descriptor array occupy.
func InitSmall(pageIndex uint32) *DB {
	const numPages = Page2MSize >> Page4KShift // 512
	descBytes := uint64(numPages) * descSize
	dbSize := page4KRound(dbHeaderSize + descBytes)
	numReserved := uint32(dbSize >> Page4KShift)

	db := &DB{PageIndex: pageIndex, NumPages: numPages, NumFree: numPages - numReserved, NumReserved: numReserved}
	initPages(db, numPages, numReserved)
	return db
}

// Alloc pops the free-list head and marks it Used, returning its index or
// 0 (the sentinel "empty") if the free list is exhausted. Index 0 is
// never itself allocatable: it always falls within the leading reserved
// run, so it is safe as a dedicated empty sentinel.
func (db *DB) Alloc() uint32 {
	index := db.FreeList
	if index == 0 {
		return 0
	}
	db.FreeList = db.Pages[index].NextFree
	db.Pages[index].Flags = Used
	db.NumFree--
	return index
}

// Free pushes index back onto the free list.
func (db *DB) Free(index uint32) {
	db.Pages[index].Flags = Free
	db.Pages[index].NextFree = db.FreeList
	db.FreeList = index
	db.NumFree++
}

// Desc2Addr returns the physical address backing a descriptor, by first
// recovering its index.
func (db *DB) Desc2Addr(page *Desc) uintptr {
	offset := uintptr(unsafe.Pointer(page)) - uintptr(unsafe.Pointer(&db.Pages[0]))
	index := uint32(offset / unsafe.Sizeof(Desc{}))
	return db.Index2Addr(index)
}

// Index2Addr translates a page index to a physical address: for the root
// database, index << 21; for a small database, the backing big page's
// base plus index << 12.
func (db *DB) Index2Addr(index uint32) uintptr {
	if db.IsSmall() {
		base := uintptr(db.PageIndex) << Page2MShift
		return base + uintptr(index)<<Page4KShift
	}
	return uintptr(index) << Page2MShift
}

// Addr2Index is the inverse of Index2Addr.
func (db *DB) Addr2Index(addr uintptr) uint32 {
	if db.IsSmall() {
		return uint32((addr >> Page4KShift) & 0x1FF)
	}
	return uint32(addr >> Page2MShift)
}

// AllocAddr allocates a page and returns its physical address, or 0 if
// exhausted.
func (db *DB) AllocAddr() uintptr {
	index := db.Alloc()
	if index == 0 {
		return 0
	}
	return db.Index2Addr(index)
}

// FreeAddr frees the page backing addr. A translated index of 0 is a
// no-op, matching the source's guard against freeing the sentinel.
func (db *DB) FreeAddr(addr uintptr) {
	index := db.Addr2Index(addr)
	if index != 0 {
		db.Free(index)
	}
}

// ReservePage removes pageIndex from the free list and marks it Reserved.
// It is idempotent when the page is already Reserved and a no-op when
// pageIndex is out of range, matching the source's "reserve after init"
// contract used to fix up pages the boot page-table editor already
// consumed.
func (db *DB) ReservePage(pageIndex uint32) {
	if pageIndex >= db.NumPages {
		return
	}
	if db.Pages[pageIndex].Flags == Reserved {
		return
	}

	if pageIndex == db.NumReserved {
		db.Pages[pageIndex].Flags = Reserved
		db.Pages[pageIndex].NextFree = 0
		db.NumReserved++
		db.FreeList = db.NumReserved
		db.NumFree--
		return
	}

	for i := db.NumReserved; i < db.NumPages; i++ {
		if db.Pages[i].NextFree == pageIndex {
			db.Pages[i].NextFree = db.Pages[pageIndex].NextFree
			db.Pages[pageIndex].Flags = Reserved
			db.NumFree--
			break
		}
	}
}

// ReserveRegion reserves every 2 MiB frame (for the root DB) covering
// [addr, addr+size).
func (db *DB) ReserveRegion(addr uintptr, size uint64) {
	pageIndex := uint32(addr >> Page2MShift)
	numPages := uint32(page2MNum(size + uint64(addr&(Page2MSize-1))))
	for i := uint32(0); i < numPages; i++ {
		db.ReservePage(pageIndex)
		pageIndex++
	}
}

// AllocPage implements slab.Source for the root big-page database: it
// serves exactly one 2 MiB frame per call, the only size a root slab
// list ever asks a page database for.
func (db *DB) AllocPage(size uint32) uintptr {
	if size != Page2MSize {
		return 0
	}
	return db.AllocAddr()
}

// FreePage implements slab.Source, returning a 2 MiB frame.
func (db *DB) FreePage(addr uintptr, size uint32) {
	if size != Page2MSize {
		return
	}
	db.FreeAddr(addr)
}

// Totals returns the {free, used, reserved} census used by the page-DB
// conservation property: their sum must always equal NumPages.
func (db *DB) Totals() (free, used, reserved uint32) {
	for i := range db.Pages {
		switch db.Pages[i].Flags {
		case Free:
			free++
		case Used:
			used++
		case Reserved:
			reserved++
		}
	}
	return
}

const (
	dbHeaderSize = 48 // approximate page_db_t header size, rounded generously
	descSize     = 40 // page_desc_t field width
)

func page2MNum(size uint64) uint64 {
	return (size + Page2MSize - 1) >> Page2MShift
}

func page4KRound(size uint64) uint64 {
	return (size + Page4KSize - 1) &^ (Page4KSize - 1)
}
