// Package thread implements the thread control block, its run-queue and
// wait-queue linkage, and the low-level stack/frame construction that
// gives a freshly created thread something to resume into. Grounded on
// original_source/thread.c and thread.h.
package thread

import (
	"unsafe"

	"github.com/bsekura/smor/internal/cpuasm"
	"github.com/bsekura/smor/internal/slab"
)

// State is the thread's run state; SLEEPING covers both timed sleep and
// blocking on a wait queue.
type State uint32

const (
	Running State = iota
	Sleeping
)

const (
	FlagSleepTimer = 1 << 0
	DefaultPri     = 8
	// stackSize is fixed at the slab's kmalloc chunk size, matching the
	// source's thread_create FIXME that rounds every request up to it.
	stackSize = 0x4000
)

// Thread is one schedulable context. Next/Prev form the circular
// doubly-linked run queue of the CPU it lives on; NextWait is a separate
// single link used only while queued on a wait queue, since a thread can
// be on at most one blocking primitive at a time. CPUID names the owning
// CPU by value rather than by pointer, per the design note against
// borrowed CPU references.
type Thread struct {
	Next, Prev *Thread
	NextWait   *Thread
	Ctx        *cpuasm.SwitchContext
	Stack      uintptr
	Ticks      uint64
	ID         uint32
	CPUID      uint32
	State      State
	SleepTime  uint32
	Flags      uint32
	Pri        int32
	Cnt        int32
}

// PushBack appends t to the circular doubly-linked list anchored at
// *anchor, creating a single-element ring if the list was empty.
func PushBack(anchor **Thread, t *Thread) {
	if *anchor == nil {
		t.Next, t.Prev = t, t
		*anchor = t
		return
	}
	head := *anchor
	tail := head.Prev
	t.Next, t.Prev = head, tail
	tail.Next = t
	head.Prev = t
}

// Remove unlinks t from the circular list anchored at *anchor. It is the
// caller's responsibility to never remove the idle thread, which must
// always remain on the queue.
func Remove(anchor **Thread, t *Thread) {
	if t.Next == t {
		*anchor = nil
	} else {
		t.Next.Prev = t.Prev
		t.Prev.Next = t.Next
		if *anchor == t {
			*anchor = t.Next
		}
	}
	t.Next, t.Prev = nil, nil
}

// WaitQueue is a singly-linked FIFO of blocked threads used by
// condition variables and semaphores: push at the tail, pop from the
// head.
type WaitQueue struct {
	head, tail *Thread
}

// Push enqueues t at the tail.
func (q *WaitQueue) Push(t *Thread) {
	t.NextWait = nil
	if q.head == nil {
		q.head, q.tail = t, t
		return
	}
	q.tail.NextWait = t
	q.tail = t
}

// Pop dequeues and returns the head, or nil if empty.
func (q *WaitQueue) Pop() *Thread {
	t := q.head
	if t != nil {
		q.head = t.NextWait
		if q.head == nil {
			q.tail = nil
		}
	}
	return t
}

// Empty reports whether the queue has no waiters.
func (q *WaitQueue) Empty() bool { return q.head == nil }

// Len counts the queue by walking it; used only by tests asserting the
// semaphore safety invariant, never on a hot path.
func (q *WaitQueue) Len() int {
	n := 0
	for t := q.head; t != nil; t = t.NextWait {
		n++
	}
	return n
}

// Allocator is the pair of backing stores thread creation needs: a
// fixed-size slab for Thread records themselves, and the general heap
// for stack chunks. internal/slab.Heap and a dedicated slab.List satisfy
// this.
type Allocator struct {
	Threads *slab.List // sized for sizeof(Thread), via Heap.GetSlab
	Heap    *slab.Heap
}

const (
	ptrSize       = unsafe.Sizeof(uintptr(0))
	frameSize     = unsafe.Sizeof(cpuasm.IsrFrame{})
	switchCtxSize = unsafe.Sizeof(cpuasm.SwitchContext{})
)

// Create builds a new thread: a record from Threads, a stack chunk from
// Heap, a complete interrupt-return frame at the top of that stack, the
// isr-return trampoline address below it, and below that a
// switch-context frame whose RIP is ThreadStartTrampoline — releasing
// the creator's CPU lock on first entry before falling through to the
// isr frame. It does not enqueue the thread on any run queue; callers
// own that, under the target CPU's lock, per thread_create's contract.
func Create(a *Allocator, entry uintptr) *Thread {
	addr := a.Threads.Alloc()
	if addr == 0 {
		return nil
	}
	t := (*Thread)(unsafe.Pointer(addr))

	stack := a.Heap.Alloc()
	if stack == 0 {
		a.Threads.Free(addr)
		return nil
	}
	stackTop := stack + stackSize

	sp := stackTop - frameSize
	frame := (*cpuasm.IsrFrame)(unsafe.Pointer(sp))
	*frame = cpuasm.IsrFrame{
		Rip:    uint64(entry),
		Cs:     cpuasm.KernelCS,
		Rflags: cpuasm.RflagsIF,
		Rsp:    uint64(stackTop),
		Ss:     cpuasm.KernelSS,
	}

	sp -= ptrSize
	*(*uintptr)(unsafe.Pointer(sp)) = cpuasm.IsrReturnTrampoline()

	sp -= switchCtxSize
	ctx := (*cpuasm.SwitchContext)(unsafe.Pointer(sp))
	*ctx = cpuasm.SwitchContext{RIP: uint64(cpuasm.ThreadStartTrampoline())}

	*t = Thread{
		Ctx:   ctx,
		Stack: stackTop,
		State: Running,
		Pri:   DefaultPri,
		Cnt:   DefaultPri,
	}
	return t
}

// Wakeup transitions a sleeping thread back to RUNNING. Callers must
// already hold the owning CPU's lock (local or cross-CPU per
// kcpu.LockID/LockSplHi), matching thread_wakeup's contract.
func Wakeup(t *Thread) {
	t.State = Running
}
