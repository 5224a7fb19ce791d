package pagedb

import "testing"

func checkTotals(t *testing.T, db *DB) {
	t.Helper()
	free, used, reserved := db.Totals()
	if free+used+reserved != db.NumPages {
		t.Fatalf("totals %d+%d+%d != NumPages %d", free, used, reserved, db.NumPages)
	}

	// free list length must equal the FREE census; walk it explicitly to
	// also catch accidental cycles.
	var listLen uint32
	for i := db.FreeList; i != 0; i = db.Pages[i].NextFree {
		listLen++
		if listLen > db.NumPages {
			t.Fatalf("free list longer than NumPages, cycle?")
		}
	}
	if listLen != free {
		t.Fatalf("free list length %d != FREE census %d", listLen, free)
	}
}

func TestPageDBTotalsAfterAllocFree(t *testing.T) {
	db := Init(0x7FE0000-0x100000+0x100000, 0x400000) // covers E1-scale memory

	checkTotals(t, db)

	var allocated []uint32
	for i := 0; i < 4; i++ {
		idx := db.Alloc()
		if idx == 0 {
			t.Fatalf("alloc %d returned sentinel", i)
		}
		allocated = append(allocated, idx)
	}
	checkTotals(t, db)

	for _, idx := range allocated {
		db.Free(idx)
	}
	checkTotals(t, db)
}

func TestPageDBReservePageIdempotent(t *testing.T) {
	db := Init(0x8000000, 0x400000)
	idx := db.Alloc()
	if idx == 0 {
		t.Fatal("alloc returned sentinel")
	}
	db.Free(idx)

	db.ReservePage(idx)
	if db.Pages[idx].Flags != Reserved {
		t.Fatalf("page %d not reserved", idx)
	}
	checkTotals(t, db)

	// idempotent: reserving again must not panic or double count.
	db.ReservePage(idx)
	checkTotals(t, db)

	// out of range is a silent no-op.
	db.ReservePage(db.NumPages + 100)
	checkTotals(t, db)
}

func TestPageDBAllocExhaustion(t *testing.T) {
	db := Init(Page2MSize*4, Page2MSize*2) // 2 frames reserved, 2 free
	first := db.Alloc()
	second := db.Alloc()
	if first == 0 || second == 0 {
		t.Fatalf("expected two allocations to succeed, got %d %d", first, second)
	}
	if third := db.Alloc(); third != 0 {
		t.Fatalf("expected sentinel 0 once exhausted, got %d", third)
	}
}

// TestE1BootScenario mirrors spec scenario E1: after init with a kernel
// top of 0x400000 (2 reserved 2 MiB frames), alloc returns index 2, and
// free-then-alloc returns the same index.
func TestE1BootScenario(t *testing.T) {
	const memTop = 0x7FE0000
	const kernelTop = 0x400000

	db := Init(memTop, kernelTop)
	if db.NumReserved != 2 {
		t.Fatalf("NumReserved = %d, want 2", db.NumReserved)
	}
	if db.Pages[0].Flags != Reserved || db.Pages[1].Flags != Reserved {
		t.Fatalf("expected indices 0,1 reserved")
	}

	idx := db.Alloc()
	if idx != 2 {
		t.Fatalf("first alloc = %d, want 2", idx)
	}
	if addr := db.Index2Addr(idx); addr != kernelTop {
		t.Fatalf("Index2Addr(2) = %#x, want %#x", addr, kernelTop)
	}

	db.Free(idx)
	again := db.Alloc()
	if again != 2 {
		t.Fatalf("alloc after free = %d, want 2", again)
	}
}

func TestSmallPageDBTranslation(t *testing.T) {
	const backingBig = 5
	small := InitSmall(backingBig)
	if !small.IsSmall() {
		t.Fatal("expected IsSmall true")
	}

	idx := small.Alloc()
	if idx == 0 {
		t.Fatal("expected a free 4K slot")
	}
	addr := small.Index2Addr(idx)
	wantBase := uintptr(backingBig) << Page2MShift
	if addr < wantBase || addr >= wantBase+Page2MSize {
		t.Fatalf("address %#x outside backing big page %#x", addr, wantBase)
	}
	if back := small.Addr2Index(addr); back != idx {
		t.Fatalf("Addr2Index(%#x) = %d, want %d", addr, back, idx)
	}
}
