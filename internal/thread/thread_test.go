package thread

import (
	"testing"
	"unsafe"

	"github.com/bsekura/smor/internal/cpuasm"
	"github.com/bsekura/smor/internal/slab"
)

// fakeSource hands out fixed-size pages from a bump arena, the same
// stand-in slab's own tests use in place of a real page database.
type fakeSource struct {
	arena []byte
	next  uintptr
}

func newFakeSource(totalSize int) *fakeSource {
	return &fakeSource{arena: make([]byte, totalSize)}
}

func (f *fakeSource) AllocPage(size uint32) uintptr {
	raw := uintptr(unsafe.Pointer(&f.arena[0])) + f.next
	aligned := (raw + uintptr(size) - 1) &^ (uintptr(size) - 1)
	end := (aligned - uintptr(unsafe.Pointer(&f.arena[0]))) + uintptr(size)
	if end > uintptr(len(f.arena)) {
		return 0
	}
	f.next = end
	return aligned
}

func (f *fakeSource) FreePage(addr uintptr, size uint32) {}

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	src := newFakeSource(4 << 20)
	heap := slab.NewHeap(src)
	if !heap.ReserveOnSlack() {
		t.Fatal("ReserveOnSlack failed")
	}
	threads := heap.GetSlab(uint32(unsafe.Sizeof(Thread{})))
	if threads == nil {
		t.Fatal("GetSlab returned nil")
	}
	return &Allocator{Threads: threads, Heap: heap}
}

// TestCreatePopulatesFrameAndDefaults checks that Create writes a
// complete isr frame with the entry RIP, the flat kernel selectors, and
// interrupts enabled, and that the new thread starts with the default
// static priority and a matching credit counter (4.7, 4.8).
func TestCreatePopulatesFrameAndDefaults(t *testing.T) {
	a := newTestAllocator(t)
	const entry = 0xdeadbeef

	th := Create(a, entry)
	if th == nil {
		t.Fatal("Create returned nil")
	}
	if th.State != Running {
		t.Fatalf("State = %v, want Running", th.State)
	}
	if th.Pri != DefaultPri || th.Cnt != DefaultPri {
		t.Fatalf("Pri/Cnt = %d/%d, want %d/%d", th.Pri, th.Cnt, DefaultPri, DefaultPri)
	}

	frameSp := th.Stack - frameSize
	frame := (*cpuasm.IsrFrame)(unsafe.Pointer(frameSp))
	if frame.Rip != entry {
		t.Fatalf("frame.Rip = %#x, want %#x", frame.Rip, entry)
	}
	if frame.Cs != cpuasm.KernelCS || frame.Ss != cpuasm.KernelSS {
		t.Fatalf("frame.Cs/Ss = %#x/%#x, want flat kernel selectors", frame.Cs, frame.Ss)
	}
	if frame.Rflags&cpuasm.RflagsIF == 0 {
		t.Fatal("frame.Rflags must have interrupts enabled")
	}
	if frame.Rsp != uint64(th.Stack) {
		t.Fatalf("frame.Rsp = %#x, want %#x", frame.Rsp, th.Stack)
	}

	trampolineSp := frameSp - ptrSize
	if got := *(*uintptr)(unsafe.Pointer(trampolineSp)); got != cpuasm.IsrReturnTrampoline() {
		t.Fatalf("isr-return trampoline pointer = %#x, want %#x", got, cpuasm.IsrReturnTrampoline())
	}

	if th.Ctx.RIP != uint64(cpuasm.ThreadStartTrampoline()) {
		t.Fatalf("Ctx.RIP = %#x, want thread-start trampoline", th.Ctx.RIP)
	}
}

// TestCreateDistinctThreads checks that two successive Create calls hand
// back distinct thread records and distinct stacks.
func TestCreateDistinctThreads(t *testing.T) {
	a := newTestAllocator(t)
	t1 := Create(a, 0x1000)
	t2 := Create(a, 0x2000)
	if t1 == nil || t2 == nil {
		t.Fatal("Create returned nil")
	}
	if t1 == t2 {
		t.Fatal("Create returned the same thread record twice")
	}
	if t1.Stack == t2.Stack {
		t.Fatal("Create returned the same stack twice")
	}
}

// TestPushBackAndRemove exercises the circular run-queue linkage: a
// single-element ring, appends preserving order, and removal relinking
// neighbors (or clearing the anchor when the ring empties).
func TestPushBackAndRemove(t *testing.T) {
	var anchor *Thread
	a, b, c := &Thread{}, &Thread{}, &Thread{}

	PushBack(&anchor, a)
	if anchor != a || a.Next != a || a.Prev != a {
		t.Fatal("single-element ring not self-linked")
	}

	PushBack(&anchor, b)
	PushBack(&anchor, c)
	// Order should be a -> b -> c -> a.
	if anchor.Next != b || b.Next != c || c.Next != a {
		t.Fatal("PushBack did not preserve insertion order")
	}
	if a.Prev != c || b.Prev != a || c.Prev != b {
		t.Fatal("back-links inconsistent with forward-links")
	}

	Remove(&anchor, b)
	if anchor.Next != c || c.Next != a || c.Prev != anchor {
		t.Fatal("Remove did not relink neighbors correctly")
	}

	Remove(&anchor, c)
	Remove(&anchor, a)
	if anchor != nil {
		t.Fatal("anchor should be nil once the ring empties")
	}
}

// TestWaitQueueFIFO checks the condition/semaphore wait queue is a
// strict FIFO: push order is pop order, and Len/Empty track the queue
// depth the semaphore-safety invariant needs.
func TestWaitQueueFIFO(t *testing.T) {
	var q WaitQueue
	if !q.Empty() {
		t.Fatal("new queue should be empty")
	}

	a, b, c := &Thread{}, &Thread{}, &Thread{}
	q.Push(a)
	q.Push(b)
	q.Push(c)
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	if got := q.Pop(); got != a {
		t.Fatalf("first Pop = %v, want a", got)
	}
	if got := q.Pop(); got != b {
		t.Fatalf("second Pop = %v, want b", got)
	}
	if got := q.Pop(); got != c {
		t.Fatalf("third Pop = %v, want c", got)
	}
	if !q.Empty() {
		t.Fatal("queue should be empty after draining all pushes")
	}
	if q.Pop() != nil {
		t.Fatal("Pop on empty queue must return nil")
	}
}

// TestWakeupTransitionsToRunning exercises thread_wakeup's contract: a
// sleeping thread becomes RUNNING.
func TestWakeupTransitionsToRunning(t *testing.T) {
	th := &Thread{State: Sleeping}
	Wakeup(th)
	if th.State != Running {
		t.Fatalf("State = %v, want Running", th.State)
	}
}
