// Package bootpage implements the fixed-location four-level page-table
// editor used before the page database exists: map_range/unmap_range
// install or remove 2 MiB identity mappings, and Sync walks the live
// hierarchy afterward to tell the page database which frames early boot
// already consumed. Grounded on original_source/vm_boot.c.
//
// Real memory access goes through the Mem interface rather than direct
// unsafe.Pointer dereferences so the editor can be driven by an
// in-memory fake during tests; production wiring supplies DirectMem.
package bootpage

import (
	"unsafe"

	"github.com/bsekura/smor/internal/cpuasm"
	"github.com/bsekura/smor/internal/spinlock"
)

const (
	page4KShift = 12
	page4KSize  = 1 << page4KShift
	page2MShift = 21
	page2MSize  = 1 << page2MShift
	page2MMask  = ^uintptr(page2MSize - 1)

	pmlShift = 39
	pdpShift = 30

	pdirNumEntries = 0x200
	pdirEntryMask  = ^uint64(pdirNumEntries - 1)

	pagePresent = 0x01
	pageWrite   = 0x02
	page2MB     = 0x80
)

// Fixed physical addresses of the boot hierarchy's root and its bump
// arena, matching the source's BOOT_PML4/BOOT_PAGE_NEXT/BOOT_PAGES_TOP.
const (
	bootPML4      = 0x10000
	bootPageNext  = 0x14000
	bootPagesTop  = 0x30000
)

// Mem abstracts 64-bit physical-memory word access so the editor is
// testable without real page tables.
type Mem interface {
	Read(addr uintptr) uint64
	Write(addr uintptr, val uint64)
}

// DirectMem accesses physical memory directly through unsafe.Pointer,
// assuming the identity-mapped single kernel address space this system
// runs in (no per-process address spaces exist).
type DirectMem struct{}

//go:nosplit
func (DirectMem) Read(addr uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(addr))
}

//go:nosplit
func (DirectMem) Write(addr uintptr, val uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = val
}

// Table is the boot page-table editor. The zero value is not usable;
// construct with New.
type Table struct {
	mem      Mem
	lock     spinlock.Lock
	bootPage uintptr
}

// New creates a Table backed by mem, with its bump arena reset to the
// start of the boot hierarchy's spare pages.
func New(mem Mem) *Table {
	return &Table{mem: mem, bootPage: bootPageNext}
}

func pml4Index(v uintptr) uint32 { return uint32((v >> pmlShift) & 0x1FF) }
func pdpIndex(v uintptr) uint32  { return uint32((v >> pdpShift) & 0x1FF) }
func pdIndex(v uintptr) uint32   { return uint32((v >> page2MShift) & 0x1FF) }

func (t *Table) allocPage() uintptr {
	page := t.bootPage
	if page >= bootPagesTop {
		panic("bootpage: bump arena exhausted")
	}
	t.bootPage += page4KSize

	for i := 0; i < pdirNumEntries; i++ {
		t.mem.Write(page+uintptr(i)*8, 0)
	}
	return page
}

func (t *Table) mapPage(vaddr, paddr uintptr) {
	pml4Base := uintptr(bootPML4)
	pml4Slot := pml4Base + uintptr(pml4Index(vaddr))*8

	pdpEntry := t.mem.Read(pml4Slot)
	if pdpEntry&pagePresent == 0 {
		pdpEntry = uint64(t.allocPage()) | pagePresent | pageWrite
		t.mem.Write(pml4Slot, pdpEntry)
	}
	pdpBase := uintptr(pdpEntry) &^ (pdirNumEntries - 1)
	pdpSlot := pdpBase + uintptr(pdpIndex(vaddr))*8

	pdEntry := t.mem.Read(pdpSlot)
	if pdEntry&pagePresent == 0 {
		pdEntry = uint64(t.allocPage()) | pagePresent | pageWrite
		t.mem.Write(pdpSlot, pdEntry)
	}
	pdBase := uintptr(pdEntry) &^ (pdirNumEntries - 1)
	pdSlot := pdBase + uintptr(pdIndex(vaddr))*8

	cur := t.mem.Read(pdSlot)
	curAddr := uintptr(cur) &^ (pdirNumEntries - 1)
	if cur&pagePresent == 0 || curAddr != paddr {
		t.mem.Write(pdSlot, uint64(paddr)|pagePresent|pageWrite|page2MB)
		t.flushTLB(vaddr)
	}
}

// flushTLB invalidates vaddr's TLB entry. Only DirectMem edits the live
// page tables; any other Mem has no TLB entry to invalidate.
func (t *Table) flushTLB(vaddr uintptr) {
	if _, ok := t.mem.(DirectMem); ok {
		cpuasm.Invlpg(vaddr)
	}
}

func (t *Table) unmapPage(vaddr uintptr) {
	pml4Slot := uintptr(bootPML4) + uintptr(pml4Index(vaddr))*8
	pdpEntry := t.mem.Read(pml4Slot)
	if pdpEntry&pagePresent == 0 {
		return
	}
	pdpBase := uintptr(pdpEntry) &^ (pdirNumEntries - 1)
	pdpSlot := pdpBase + uintptr(pdpIndex(vaddr))*8

	pdEntry := t.mem.Read(pdpSlot)
	if pdEntry&pagePresent == 0 {
		return
	}
	pdBase := uintptr(pdEntry) &^ (pdirNumEntries - 1)
	pdSlot := pdBase + uintptr(pdIndex(vaddr))*8

	t.mem.Write(pdSlot, 0)
	t.flushTLB(vaddr)
}

func page2MNum(size uint64) uint64 {
	return (size + page2MSize - 1) >> page2MShift
}

// MapRange installs present+write+large-page mappings for every 2 MiB
// frame covering [vaddr, vaddr+size), rounded outward to 2 MiB
// boundaries. Idempotent: mapping the same range twice is a no-op past
// the first call; remapping to a different physical address flushes the
// stale TLB entry.
func (t *Table) MapRange(vaddr, paddr uintptr, size uint64) {
	numPages := page2MNum(size + uint64(vaddr&(page2MSize-1)))
	vaddr &= page2MMask
	paddr &= page2MMask

	t.lock.Acquire()
	defer t.lock.Release()
	for ; numPages > 0; numPages-- {
		t.mapPage(vaddr, paddr)
		vaddr += page2MSize
		paddr += page2MSize
	}
}

// UnmapRange clears the mappings covering [vaddr, vaddr+size).
func (t *Table) UnmapRange(vaddr uintptr, size uint64) {
	numPages := page2MNum(size + uint64(vaddr&(page2MSize-1)))
	vaddr &= page2MMask

	t.lock.Acquire()
	defer t.lock.Release()
	for ; numPages > 0; numPages-- {
		t.unmapPage(vaddr)
		vaddr += page2MSize
	}
}

// Sync walks the live hierarchy and calls reserve for the page index of
// every 2 MiB frame it finds mapped, so the page database's free list
// excludes frames early boot already consumed.
func (t *Table) Sync(reserve func(pageIndex uint32)) {
	pml4Base := uintptr(bootPML4)
	for i := 0; i < pdirNumEntries; i++ {
		pdpEntry := t.mem.Read(pml4Base + uintptr(i)*8)
		if pdpEntry == 0 {
			continue
		}
		pdpBase := uintptr(pdpEntry) &^ (pdirNumEntries - 1)
		for j := 0; j < pdirNumEntries; j++ {
			pdEntry := t.mem.Read(pdpBase + uintptr(j)*8)
			if pdEntry == 0 {
				continue
			}
			pdBase := uintptr(pdEntry) &^ (pdirNumEntries - 1)
			for k := 0; k < pdirNumEntries; k++ {
				ptEntry := t.mem.Read(pdBase + uintptr(k)*8)
				if ptEntry == 0 {
					continue
				}
				ptAddr := uintptr(ptEntry) &^ (pdirNumEntries - 1)
				reserve(uint32(ptAddr >> page2MShift))
			}
		}
	}
}
