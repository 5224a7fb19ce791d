// Package cpuasm holds the x86_64 primitives that cannot be expressed in
// portable Go: port I/O, MSR access, segment descriptor table loads, TLB
// control and the callee-saved context switch. Everything here is declared
// in Go and defined in cpuasm_amd64.s, the same split the teacher uses for
// linker-symbol and timer-register access (mazboot/golang/main/memory.go,
// nanotime.go calling into mazboot/asm).
package cpuasm

import "unsafe"

// Outb writes a byte to an x86 I/O port.
//
//go:nosplit
func Outb(port uint16, val uint8)

// Inb reads a byte from an x86 I/O port.
//
//go:nosplit
func Inb(port uint16) uint8

// Rdmsr reads a model-specific register.
//
//go:nosplit
func Rdmsr(msr uint32) uint64

// Wrmsr writes a model-specific register.
//
//go:nosplit
func Wrmsr(msr uint32, val uint64)

// IrqSave disables interrupts on the current CPU and returns the prior
// RFLAGS.IF state, for spinlock.AcquireHighIPL's save/restore discipline.
//
//go:nosplit
func IrqSave() uintptr

// IrqRestore restores the RFLAGS.IF state returned by a prior IrqSave.
//
//go:nosplit
func IrqRestore(flags uintptr)

// EnableInterrupts executes STI unconditionally.
//
//go:nosplit
func EnableInterrupts()

// DisableInterrupts executes CLI unconditionally.
//
//go:nosplit
func DisableInterrupts()

// Halt executes HLT.
//
//go:nosplit
func Halt()

// MmioRead32 reads a 32-bit value from a memory-mapped register.
//
//go:nosplit
func MmioRead32(addr uintptr) uint32

// MmioWrite32 writes a 32-bit value to a memory-mapped register.
//
//go:nosplit
func MmioWrite32(addr uintptr, val uint32)

// Invlpg invalidates a single TLB entry.
//
//go:nosplit
func Invlpg(vaddr uintptr)

// Lgdt loads the GDTR from a packed {limit, base} descriptor at addr.
//
//go:nosplit
func Lgdt(addr uintptr)

// Lidt loads the IDTR from a packed {limit, base} descriptor at addr.
//
//go:nosplit
func Lidt(addr uintptr)

// CR2 returns the faulting address recorded by the last page fault.
//
//go:nosplit
func CR2() uintptr

// ContextSwitch exchanges the callee-saved register set: it saves the
// current set to *oldCtx, loads *newCtx, and returns when some later
// ContextSwitch resumes this same oldCtx. Caller must hold the owning
// CPU's lock and be at high IPL, per spec.
//
//go:nosplit
func ContextSwitch(oldCtx **SwitchContext, newCtx *SwitchContext)

// SwitchContext is the callee-saved register block context_switch
// exchanges, laid out to match the push/pop sequence in cpuasm_amd64.s.
type SwitchContext struct {
	R15 uint64
	R14 uint64
	R13 uint64
	R12 uint64
	RSI uint64
	RDI uint64
	RBX uint64
	RBP uint64
	RIP uint64
}

// IsrReturnTrampoline is the address of the low-level stub that pops an
// isr frame off the stack and IRETs into it. thread_create pushes this
// address below a freshly built isr frame so the very first ContextSwitch
// into a new thread falls through to it.
//
//go:nosplit
func IsrReturnTrampoline() uintptr

// IsrFrame is the trap frame the interrupt entry stubs push and _isr_ret
// pops, laid out to match original_source/cpu.h's isr_frame_t. A freshly
// created thread's kernel stack starts with one of these, built by
// internal/thread.Create, with Rip pointing at the thread's entry
// function.
type IsrFrame struct {
	R11, R10, R9, R8       uint64
	Rdx, Rcx, Rax          uint64
	TrapNum, TrapErr       uint64
	Rip, Cs, Rflags, Rsp, Ss uint64
}

// RflagsIF is the interrupt-enable bit in RFLAGS, the flag value a newly
// created thread's frame carries so it starts with interrupts enabled.
const RflagsIF = 1 << 9

// Selector constants for the flat kernel code/data segments installed by
// GDT setup; thread_create's frame uses these for Cs/Ss.
const (
	KernelCS = 0x08
	KernelSS = 0x10
)

// ThreadStartHook is invoked once, the first time a freshly created
// thread's context is switched to, before execution falls through to
// IsrReturnTrampoline. internal/thread.Create points a new thread's
// SwitchContext.RIP at ThreadStartTrampoline, which calls this hook then
// RETs into the isr-return trampoline address Create pushed above the
// switch context — the same two-stage thread_start/_isr_ret entry the
// source uses.
var ThreadStartHook func()

//go:nosplit
func threadStartHookTrampoline() {
	if ThreadStartHook != nil {
		ThreadStartHook()
	}
}

// ThreadStartTrampoline returns the address a newly created thread's
// context should set as its initial RIP.
//
//go:nosplit
func ThreadStartTrampoline() uintptr

// Trap3Trampoline, Trap14Trampoline, Irq0Trampoline, Lint0Trampoline and
// SpuriousTrampoline return the addresses of the low-level vector stubs
// internal/intr installs into the IDT.
//
//go:nosplit
func Trap3Trampoline() uintptr

//go:nosplit
func Trap14Trampoline() uintptr

//go:nosplit
func Irq0Trampoline() uintptr

//go:nosplit
func Lint0Trampoline() uintptr

//go:nosplit
func SpuriousTrampoline() uintptr

// MaxCPUFrames bounds currentFrame below. Duplicated from kcpu.MaxCPUs
// rather than imported, since thread (which cpuasm depends on for
// nothing, but kcpu depends on) sits between this package and kcpu in
// the import graph.
const MaxCPUFrames = 16

// CPUIndex names the calling CPU for currentFrame's slot. Bring-up
// installs the same getter it gives kcpu.CurrentID; nil means "CPU 0",
// correct for single-CPU boot before that wiring happens.
var CPUIndex func() uint32

var currentFrame [MaxCPUFrames]*IsrFrame

func cpuIdx() uint32 {
	if CPUIndex != nil {
		return CPUIndex()
	}
	return 0
}

// stashFrame records the trap frame a low-level stub just built, so the
// zero-argument dispatch trampolines below can find it without needing
// Go's register-based call ABI from hand-written assembly. Called from
// assembly via the stack-based ABI0 entry point, one uintptr argument.
//
//go:nosplit
func stashFrame(sp uintptr) {
	currentFrame[cpuIdx()] = (*IsrFrame)(unsafe.Pointer(sp))
}

// ExceptionHandler, IRQHandler and LocalHandler are the three dispatch
// points original_source/cpu_exception.c, interrupt.c install: CPU
// exceptions (divide-by-zero, page fault, ...), I/O-APIC-routed IRQs,
// and local-APIC LVT/self-IPI vectors, respectively. internal/intr
// installs all three at boot.
var (
	ExceptionHandler func(frame *IsrFrame)
	IRQHandler       func(frame *IsrFrame)
	LocalHandler     func(frame *IsrFrame)
)

//go:nosplit
func exceptionDispatchTrampoline() {
	if ExceptionHandler != nil {
		ExceptionHandler(currentFrame[cpuIdx()])
	}
}

//go:nosplit
func irqDispatchTrampoline() {
	if IRQHandler != nil {
		IRQHandler(currentFrame[cpuIdx()])
	}
}

//go:nosplit
func localDispatchTrampoline() {
	if LocalHandler != nil {
		LocalHandler(currentFrame[cpuIdx()])
	}
}
