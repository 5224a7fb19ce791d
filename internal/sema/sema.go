// Package sema implements a counting semaphore over thread.WaitQueue,
// grounded on original_source/semaphore.c and semaphore.h.
package sema

import (
	"github.com/bsekura/smor/internal/cpuasm"
	"github.com/bsekura/smor/internal/kcpu"
	"github.com/bsekura/smor/internal/sched"
	"github.com/bsekura/smor/internal/spinlock"
	"github.com/bsekura/smor/internal/thread"
)

// Sema is a classic counting semaphore: Wait blocks while Count is zero,
// Signal either wakes a waiter or increments Count.
type Sema struct {
	threads thread.WaitQueue
	lock    spinlock.Lock
	count   int32
}

// Init sets the semaphore's initial count.
func (s *Sema) Init(count int32) {
	s.threads = thread.WaitQueue{}
	s.count = count
}

// Wait decrements the semaphore, blocking the calling thread if the
// count is already zero.
func (s *Sema) Wait() {
	flags := cpuasm.IrqSave()
	s.waitLocked()
	cpuasm.IrqRestore(flags)
}

// Signal wakes a waiter if one exists, otherwise increments the count.
func (s *Sema) Signal() {
	flags := cpuasm.IrqSave()
	s.signalLocked()
	cpuasm.IrqRestore(flags)
}

// waitLocked is Wait's body for callers already at high IPL, split out
// so scheduler-decision tests can exercise it without a real CLI.
func (s *Sema) waitLocked() {
	s.lock.Acquire()
	if s.count > 0 {
		s.count--
		s.lock.Release()
		return
	}

	cpu := kcpu.Lock()
	s.threads.Push(cpu.CurThread)
	s.lock.Release()
	sched.YieldLocked(cpu)
	kcpu.Unlock(cpu)
}

// signalLocked is Signal's body for callers already at high IPL.
func (s *Sema) signalLocked() {
	s.lock.Acquire()
	if s.threads.Empty() {
		s.count++
		s.lock.Release()
		return
	}

	t := s.threads.Pop()
	cpu := kcpu.LockID(t.CPUID)
	thread.Wakeup(t)
	kcpu.UnlockID(cpu)
	s.lock.Release()
}
