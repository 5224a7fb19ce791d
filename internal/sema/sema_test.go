package sema

import (
	"testing"

	"github.com/bsekura/smor/internal/kcpu"
	"github.com/bsekura/smor/internal/sched"
	"github.com/bsekura/smor/internal/thread"
)

func fakeSwitch(cur, next *thread.Thread) {}

func newTestCPU(t *testing.T) *kcpu.Desc {
	t.Helper()
	sched.Init(fakeSwitch)
	kcpu.CurrentID = func() uint32 { return 0 }
	kcpu.CPUs[0] = kcpu.Desc{ApicID: 0}
	sched.InitCPU(&kcpu.CPUs[0])
	return &kcpu.CPUs[0]
}

// TestSemaNonBlockingWait mirrors testable property 6: Wait never drives
// the count negative, and a positive count satisfies Wait without
// queuing any thread.
func TestSemaNonBlockingWait(t *testing.T) {
	newTestCPU(t)
	var s Sema
	s.Init(2)

	s.waitLocked()
	if s.count != 1 {
		t.Fatalf("count = %d, want 1", s.count)
	}
	s.waitLocked()
	if s.count != 0 {
		t.Fatalf("count = %d, want 0", s.count)
	}
	if !s.threads.Empty() {
		t.Fatalf("waiting queue should be empty while count covered every waiter")
	}
}

// TestSemaBlocksAtZero exercises scenario E4: once the count is
// exhausted, further waiters queue instead of driving the count
// negative, and a matching Signal wakes the oldest one first.
func TestSemaBlocksAtZero(t *testing.T) {
	cpu := newTestCPU(t)
	var s Sema
	s.Init(0)

	a := &thread.Thread{CPUID: cpu.ApicID, State: thread.Running}
	thread.PushBack(&cpu.Threads, a)
	cpu.CurThread = a

	s.waitLocked()
	if s.count != 0 {
		t.Fatalf("count went negative: %d", s.count)
	}
	if s.threads.Len() != 1 {
		t.Fatalf("expected one queued waiter, got %d", s.threads.Len())
	}

	s.signalLocked()
	if s.threads.Len() != 0 {
		t.Fatalf("signal should have drained the queued waiter")
	}
	if s.count != 0 {
		t.Fatalf("signal with a waiting thread must not also bump count, got %d", s.count)
	}
}

func TestSemaSignalWithNoWaitersIncrementsCount(t *testing.T) {
	newTestCPU(t)
	var s Sema
	s.Init(0)

	s.signalLocked()
	if s.count != 1 {
		t.Fatalf("count = %d, want 1", s.count)
	}
}
