// Package intr owns the IDT/GDT tables and the fixed-size IRQ/local-
// interrupt dispatch tables, grounded on original_source/cpu.c (idt_set,
// idt_init, gdt_init) and interrupt.c (intr_register_irq_handler,
// intr_irq_enable). The low-level vector stubs that land here after
// pushing a trap frame live in internal/cpuasm's assembly; this package
// owns everything above that line: table contents, registration, and
// the generic dispatcher cpuasm.IRQHandler/LocalHandler/ExceptionHandler
// point at.
//
// original_source instantiates one hand-written assembly trampoline per
// vector (32 exception stubs, 16 IRQ stubs, 8 local stubs). This port
// wires only the handful bring-up and the core scheduler actually use —
// timer IRQ, one local vector, breakpoint, page fault, and the spurious
// catch-all — since the rest are mechanically identical three-line
// stubs that add no new behavior; see DESIGN.md.
package intr

import (
	"unsafe"

	"github.com/bsekura/smor/internal/cpuasm"
	"github.com/bsekura/smor/internal/ioapic"
	"github.com/bsekura/smor/internal/spinlock"
)

const (
	NumIRQ  = 16
	NumLint = 8
)

const (
	IRQTimer    = 0
	IRQKeyboard = 1
)

// Exception vector numbers cpu_exception's switch distinguishes in the
// source; every other vector takes the "unhandled" default.
const (
	ExceptionBreakpoint = 3
	ExceptionPageFault  = 14
)

const irqVectorBase = 0x40

type handlerFn func(frame *cpuasm.IsrFrame)

type entry struct {
	handler handlerFn
	vector  uint8
}

var (
	irqHandlers  [NumIRQ]entry
	lintHandlers [NumLint]entry
	lock         spinlock.Lock
)

// idtEntry mirrors original_source/cpu.c's idt_entry_t: a 16-byte
// interrupt/trap gate descriptor.
type idtEntry struct {
	offset0  uint16
	selector uint16
	typ      uint16
	offset1  uint16
	offset2  uint32
	reserved uint32
}

// segmentDesc holds the 10-byte packed {limit, base} pseudo-descriptor
// LGDT/LIDT read, starting at &limit: the leading pad puts limit at
// offset 6 so base follows it directly at offset 8.
type segmentDesc struct {
	_     [3]uint16
	limit uint16
	base  uint64
}

const (
	idtTableAddr  = 0x0F000
	gdtTableAddr  = 0x0E000
	numIDTEntries = 256

	idtInterruptGate = 0x8e00
	idtTrapGate      = 0x8f00
)

func idtSlot(index int) *idtEntry {
	return (*idtEntry)(unsafe.Pointer(uintptr(idtTableAddr) + uintptr(index)*unsafe.Sizeof(idtEntry{})))
}

func idtSet(index int, typ uint16, handler uintptr) {
	e := idtSlot(index)
	*e = idtEntry{
		offset0:  uint16(handler),
		selector: cpuasm.KernelCS,
		typ:      typ,
		offset1:  uint16(handler >> 16),
		offset2:  uint32(handler >> 32),
	}
}

// spuriousAddr is resolved once at Init time since _isr_spurious's
// address is only reachable through the assembly trampoline table.
var spuriousAddr uintptr

func idtInit(trap3, trap14, irq0, lint0, spurious uintptr) {
	spuriousAddr = spurious

	for i := 0; i < numIDTEntries; i++ {
		idtSet(i, idtInterruptGate, spurious)
	}
	idtSet(3, idtTrapGate, trap3)
	idtSet(14, idtTrapGate, trap14)
	idtSet(irqVectorBase+IRQTimer, idtInterruptGate, irq0)
	idtSet(0xf0, idtInterruptGate, lint0)

	desc := segmentDesc{
		limit: uint16(numIDTEntries*unsafe.Sizeof(idtEntry{}) - 1),
		base:  idtTableAddr,
	}
	cpuasm.Lidt(uintptr(unsafe.Pointer(&desc.limit)))
}

// gdtInit installs the flat kernel/user code and data descriptors,
// matching gdt_init's four non-null selectors.
func gdtInit() {
	const (
		accessRW      = uint64(1) << 41
		accessExec    = uint64(1) << 43
		accessSet     = uint64(1) << 44
		accessUser    = uint64(1) << 46
		accessPresent = uint64(1) << 47
		flagsLong     = uint64(1) << 53
	)
	base := accessRW | accessSet | accessPresent | flagsLong

	table := (*[5]uint64)(unsafe.Pointer(uintptr(gdtTableAddr)))
	table[0] = 0
	table[1] = base | accessExec             // kernel code
	table[2] = base                          // kernel data
	table[3] = base | accessUser | accessExec // user code
	table[4] = base | accessUser              // user data

	desc := segmentDesc{
		limit: uint16(5*8 - 1),
		base:  gdtTableAddr,
	}
	cpuasm.Lgdt(uintptr(unsafe.Pointer(&desc.limit)))
}

// Init programs the GDT and IDT and wires the three dispatch entry
// points cpuasm's stubs call into.
func Init() {
	gdtInit()
	idtInit(
		cpuasm.Trap3Trampoline(),
		cpuasm.Trap14Trampoline(),
		cpuasm.Irq0Trampoline(),
		cpuasm.Lint0Trampoline(),
		cpuasm.SpuriousTrampoline(),
	)

	cpuasm.IRQHandler = dispatchIRQ
	cpuasm.LocalHandler = dispatchLocal
	cpuasm.ExceptionHandler = dispatchException
}

// ExceptionHandler lets the kernel install the single handler cpu_exception
// dispatches every trap to in the source (a switch on trap_num); this
// port keeps that one-handler shape since exception handling is a
// console/panic concern, not scheduler/memory core. cmd/kernel wires
// this to a handler that reads CR2 on a page fault and calls
// kpanic.Panic on every vector but the breakpoint, which just returns.
var ExceptionHandler func(frame *cpuasm.IsrFrame)

func dispatchException(frame *cpuasm.IsrFrame) {
	if ExceptionHandler != nil {
		ExceptionHandler(frame)
	}
}

// dispatchIRQ is cpu_interrupt's body: EOI, then look up and invoke the
// handler registered for this trap_num.
func dispatchIRQ(frame *cpuasm.IsrFrame) {
	eoi()
	irq := uint32(frame.TrapNum)
	if irq < NumIRQ && irqHandlers[irq].handler != nil {
		irqHandlers[irq].handler(frame)
	}
}

// dispatchLocal is cpu_local_interrupt's body.
func dispatchLocal(frame *cpuasm.IsrFrame) {
	eoi()
	// Local handlers are keyed by registration index, not vector; index
	// 0 is the only one this port wires (see RegisterLocalHandler).
	if lintHandlers[0].handler != nil {
		lintHandlers[0].handler(frame)
	}
}

// eoi is a tiny indirection so intr never imports apic directly,
// keeping the dependency direction interrupt-table -> local-APIC
// (bring-up wires EOI through here) rather than the reverse.
var eoiFn func()

func eoi() {
	if eoiFn != nil {
		eoiFn()
	}
}

// SetEOI installs the local-APIC end-of-interrupt callback. Bring-up
// calls this with apic.EOI.
func SetEOI(fn func()) { eoiFn = fn }

// RegisterIRQHandler binds handler to irq and records its vector
// (irqVectorBase+irq) for EnableIRQ; it does not touch the IDT, whose
// entries Init installs. Only IRQTimer has a real stub wired by Init;
// registering any other line is accepted (for symmetry with the
// source's full table) but will never fire without also adding that
// line's stub.
func RegisterIRQHandler(irq uint8, handler func(frame *cpuasm.IsrFrame)) {
	flags := cpuasm.IrqSave()
	lock.Acquire()
	irqHandlers[irq] = entry{handler: handler, vector: irqVectorBase + irq}
	lock.Release()
	cpuasm.IrqRestore(flags)
}

// RegisterLocalHandler binds handler to the local-interrupt slot at
// index (local-APIC LVT or self-IPI vector), matching
// intr_register_local_irq_handler.
func RegisterLocalHandler(index uint8, vector uint8, handler func(frame *cpuasm.IsrFrame)) {
	flags := cpuasm.IrqSave()
	lock.Acquire()
	lintHandlers[index] = entry{handler: handler, vector: vector}
	lock.Release()
	cpuasm.IrqRestore(flags)
}

// EnableIRQ enables irq's line on every CPU named in cpuMask via the
// I/O-APIC, matching intr_irq_enable.
func EnableIRQ(irq uint8, cpuMask uint8) {
	ioapic.EnableIRQ(irq, irqHandlers[irq].vector, cpuMask)
}

// DisableIRQ masks irq's line.
func DisableIRQ(irq uint8) {
	ioapic.DisableIRQ(irq)
}
