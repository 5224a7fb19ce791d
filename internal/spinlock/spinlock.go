// Package spinlock implements the kernel's lowest-level mutual exclusion
// primitive: a CAS-based busy loop, plus the "raise IPL, then lock" variant
// every per-CPU structure uses, mirroring original_source/spinlock.h.
package spinlock

import (
	"sync/atomic"

	"github.com/bsekura/smor/internal/cpuasm"
)

// Lock is a 32-bit ticket-free spinlock. The zero value is unlocked,
// matching spinlock_init's all-zero counter.
type Lock struct {
	counter uint32
}

// Acquire spins until the lock is taken, via the same
// compare-and-swap-until-zero loop as spinlock_lock.
//
//go:nosplit
func (l *Lock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.counter, 0, 1) {
	}
}

// Release clears the lock, mirroring spinlock_unlock's CAS(1, 0). It does
// not record or check which CPU holds the lock, and releasing a lock that
// is not held is a no-op; every caller in this tree releases only locks
// it holds.
//
//go:nosplit
func (l *Lock) Release() {
	atomic.CompareAndSwapUint32(&l.counter, 1, 0)
}

// AcquireHighIPL disables interrupts before spinning for the lock and
// returns the saved RFLAGS so ReleaseRestore can put them back, the Go
// analogue of spinlock_lock_splhi/cpu_splhi.
//
//go:nosplit
func (l *Lock) AcquireHighIPL() uintptr {
	flags := cpuasm.IrqSave()
	l.Acquire()
	return flags
}

// ReleaseRestore releases the lock and restores the interrupt flag saved
// by AcquireHighIPL, mirroring spinlock_unlock_splx/cpu_splx.
//
//go:nosplit
func (l *Lock) ReleaseRestore(flags uintptr) {
	l.Release()
	cpuasm.IrqRestore(flags)
}
