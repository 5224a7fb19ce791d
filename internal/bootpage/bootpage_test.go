package bootpage

import "testing"

// fakeMem is a sparse in-memory stand-in for physical memory, letting the
// editor's page-walk logic run under test without a real page table.
type fakeMem struct {
	words map[uintptr]uint64
}

func newFakeMem() *fakeMem { return &fakeMem{words: make(map[uintptr]uint64)} }

func (m *fakeMem) Read(addr uintptr) uint64  { return m.words[addr] }
func (m *fakeMem) Write(addr uintptr, v uint64) { m.words[addr] = v }

func TestMapRangeIdempotent(t *testing.T) {
	mem := newFakeMem()
	tbl := New(mem)

	const vaddr = 0x400000
	const paddr = 0x400000
	const size = page2MSize

	tbl.MapRange(vaddr, paddr, size)
	snapshot := make(map[uintptr]uint64, len(mem.words))
	for k, v := range mem.words {
		snapshot[k] = v
	}

	tbl.MapRange(vaddr, paddr, size)
	if len(mem.words) != len(snapshot) {
		t.Fatalf("second MapRange changed word count: %d vs %d", len(mem.words), len(snapshot))
	}
	for k, v := range snapshot {
		if mem.words[k] != v {
			t.Fatalf("second MapRange changed word at %#x: %#x vs %#x", k, mem.words[k], v)
		}
	}
}

func TestUnmapThenMapRestores(t *testing.T) {
	mem := newFakeMem()
	tbl := New(mem)

	const vaddr = 0x800000
	const paddr = 0x800000
	const size = page2MSize

	tbl.MapRange(vaddr, paddr, size)
	tbl.UnmapRange(vaddr, size)
	tbl.MapRange(vaddr, paddr, size)

	pml4Slot := uintptr(bootPML4) + uintptr(pml4Index(vaddr))*8
	pdpEntry := mem.Read(pml4Slot)
	if pdpEntry&pagePresent == 0 {
		t.Fatal("pml4 entry not present after remap")
	}
	pdpBase := uintptr(pdpEntry) &^ (pdirNumEntries - 1)
	pdSlot := pdpBase + uintptr(pdpIndex(vaddr))*8
	pdEntry := mem.Read(pdSlot)
	if pdEntry&pagePresent == 0 {
		t.Fatal("pdp entry not present after remap")
	}
	pdBase := uintptr(pdEntry) &^ (pdirNumEntries - 1)
	leafSlot := pdBase + uintptr(pdIndex(vaddr))*8
	leaf := mem.Read(leafSlot)
	if leaf&pagePresent == 0 || uintptr(leaf)&^(pdirNumEntries-1) != paddr {
		t.Fatalf("leaf entry %#x does not map back to %#x", leaf, paddr)
	}
}

func TestSyncReservesMappedFrames(t *testing.T) {
	mem := newFakeMem()
	tbl := New(mem)

	tbl.MapRange(0x400000, 0x400000, page2MSize)
	tbl.MapRange(0x600000, 0x600000, page2MSize)

	var reserved []uint32
	tbl.Sync(func(pageIndex uint32) {
		reserved = append(reserved, pageIndex)
	})

	want := map[uint32]bool{2: true, 3: true} // 0x400000>>21=2, 0x600000>>21=3
	if len(reserved) != len(want) {
		t.Fatalf("reserved %v, want 2 entries matching %v", reserved, want)
	}
	for _, idx := range reserved {
		if !want[idx] {
			t.Errorf("unexpected reserved index %d", idx)
		}
	}
}
