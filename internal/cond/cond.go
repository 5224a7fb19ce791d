// Package cond implements condition variables over thread.WaitQueue,
// grounded on original_source/cond.c and cond.h.
package cond

import (
	"github.com/bsekura/smor/internal/kcpu"
	"github.com/bsekura/smor/internal/sched"
	"github.com/bsekura/smor/internal/spinlock"
	"github.com/bsekura/smor/internal/thread"
)

// Cond is a FIFO wait queue of threads blocked on some condition
// guarded by a caller-supplied lock.
type Cond struct {
	threads thread.WaitQueue
}

// Wait atomically releases lock and blocks the calling thread, resuming
// with lock held again once woken. The caller must already hold lock at
// high IPL, matching cond_wait's documented contract.
func (c *Cond) Wait(lock *spinlock.Lock) {
	cpu := kcpu.Lock()
	c.threads.Push(cpu.CurThread)
	lock.Release()
	sched.YieldLocked(cpu)
	kcpu.Unlock(cpu)
	lock.Acquire()
}

// Signal wakes the longest-waiting thread, if any.
func (c *Cond) Signal() {
	if c.threads.Empty() {
		return
	}
	t := c.threads.Pop()
	cpu := kcpu.LockID(t.CPUID)
	thread.Wakeup(t)
	kcpu.UnlockID(cpu)
}

// Broadcast wakes every waiting thread. The source leaves this as a
// stub; this tree implements it as the repeated Signal its own comment
// prescribes.
func (c *Cond) Broadcast() {
	for !c.threads.Empty() {
		t := c.threads.Pop()
		cpu := kcpu.LockID(t.CPUID)
		thread.Wakeup(t)
		kcpu.UnlockID(cpu)
	}
}
