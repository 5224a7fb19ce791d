// Package kcpu holds the per-CPU descriptor array keyed by local-APIC
// id, grounded on original_source/cpu.h's cpu_desc_t and the fixed
// MAX_CPUS array it lives in. Rather than the source's "read a
// self-pointer out of the gs segment base" trick, this tree follows the
// spec's documented portable replacement: a dense array indexed by APIC
// id, with CurrentID (installed once at bring-up) returning the calling
// CPU's APIC id.
package kcpu

import (
	"github.com/bsekura/smor/internal/spinlock"
	"github.com/bsekura/smor/internal/thread"
)

const MaxCPUs = 16

const (
	FlagsActive = 0x01
	FlagsBSP    = 0x80
)

// Desc is one CPU's descriptor. Threads is the anchor of its circular
// run queue; IdleThread is embedded directly since it must always exist
// and is never freed, matching the source's embedded idle_thread field.
type Desc struct {
	Threads    *thread.Thread
	CurThread  *thread.Thread
	IdleThread thread.Thread
	Ticks      uint64
	Lock       spinlock.Lock
	ApicID     uint32
	Flags      uint32
	IDCount    uint32
	Spl        uintptr
}

var (
	CPUs    [MaxCPUs]Desc
	NumCPUs uint32
)

// CurrentID returns the APIC id of the calling CPU. Production wiring
// installs apic.ID, which reads the local-APIC id register on every
// call; tests install a fixed stub.
var CurrentID func() uint32

// Current returns the descriptor of the calling CPU.
func Current() *Desc { return &CPUs[CurrentID()] }

// LockSplHi raises IPL (disabling interrupts) on the calling CPU,
// acquires its own descriptor lock, and stashes the saved flags for
// UnlockSplx, mirroring cpu_lock_splhi.
func LockSplHi() *Desc {
	cpu := Current()
	cpu.Spl = cpu.Lock.AcquireHighIPL()
	return cpu
}

// UnlockSplx releases cpu's lock and restores the flags LockSplHi saved.
func UnlockSplx(cpu *Desc) {
	cpu.Lock.ReleaseRestore(cpu.Spl)
}

// Lock acquires the calling CPU's descriptor lock without touching IPL,
// mirroring cpu_lock — used by callers that already raised IPL
// themselves, such as cond_wait and sema_wait.
func Lock() *Desc {
	cpu := Current()
	cpu.Lock.Acquire()
	return cpu
}

// Unlock releases a lock taken with Lock.
func Unlock(cpu *Desc) {
	cpu.Lock.Release()
}

// LockID acquires the descriptor lock of a (possibly remote) CPU without
// touching IPL, mirroring cpu_lock_id — used for cross-CPU wakeup.
func LockID(apicID uint32) *Desc {
	cpu := &CPUs[apicID]
	cpu.Lock.Acquire()
	return cpu
}

// UnlockID releases a lock taken with LockID.
func UnlockID(cpu *Desc) {
	cpu.Lock.Release()
}

// LockSMP locks apicID's descriptor, using the cheaper local path when
// apicID names the calling CPU, mirroring cpu_lock_smp.
func LockSMP(apicID uint32) *Desc {
	if CurrentID() == apicID {
		return LockSplHi()
	}
	return LockID(apicID)
}

// UnlockSMP is the inverse of LockSMP.
func UnlockSMP(cpu *Desc) {
	if CurrentID() == cpu.ApicID {
		UnlockSplx(cpu)
	} else {
		UnlockID(cpu)
	}
}
