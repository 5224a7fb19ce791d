// Command kernel is the freestanding entry point: it wires every
// subsystem in internal/ together in the boot sequence §2 of the design
// describes (firmware -> page DB -> slab -> ACPI/APIC -> AP wakeup ->
// timer-driven scheduling). The multiboot2 loader, the real-mode AP
// trampoline, and everything that gets the CPU from reset into 64-bit
// long mode with this package's Boot running are boot stubs outside this
// tree's scope, the same split the teacher draws between boot.s and
// kernel.go's kernel_main.
package main

import (
	"sync/atomic"
	"unsafe"

	"github.com/bsekura/smor/internal/acpi"
	"github.com/bsekura/smor/internal/apic"
	"github.com/bsekura/smor/internal/bootinfo"
	"github.com/bsekura/smor/internal/bootpage"
	"github.com/bsekura/smor/internal/console"
	"github.com/bsekura/smor/internal/console/fbconsole"
	"github.com/bsekura/smor/internal/cpuasm"
	"github.com/bsekura/smor/internal/intr"
	"github.com/bsekura/smor/internal/ioapic"
	"github.com/bsekura/smor/internal/kcpu"
	"github.com/bsekura/smor/internal/kpanic"
	"github.com/bsekura/smor/internal/multiboot"
	"github.com/bsekura/smor/internal/pagedb"
	"github.com/bsekura/smor/internal/pic8259"
	"github.com/bsekura/smor/internal/pit"
	"github.com/bsekura/smor/internal/sched"
	"github.com/bsekura/smor/internal/slab"
	"github.com/bsekura/smor/internal/thread"
)

// traceEnabled gates boot-time tracing the way original_source/slab.c and
// acpi.c gate their TRACE_ENABLED-defined trace() calls: a compile-time
// constant, never a runtime flag, since there is no config layer below
// the page allocator.
const traceEnabled = true

// bootInfo is the fixed-location process-wide boot-info block the boot
// stubs populate before jumping here, per spec.md §6. Real boot stubs
// place it at a fixed physical/virtual address via a linker symbol; this
// port keeps it as an ordinary package variable, the portable stand-in
// the design notes call for when there is no linker script in this tree.
var bootInfo bootinfo.Info

var (
	serialSink console.Sink = console.Serial{}
	sink       console.Sink = serialSink
)

var (
	threadAllocator thread.Allocator
	heap            *slab.Heap
	bigPages        *pagedb.DB
	pageTable       = bootpage.New(bootpage.DirectMem{})
)

func trace(s string) {
	if traceEnabled {
		sink.WriteString(s)
	}
}

// halter adapts cpuasm's free functions to kpanic.Halter.
type halter struct{}

func (halter) DisableInterrupts() { cpuasm.DisableInterrupts() }
func (halter) Halt()              { cpuasm.Halt() }

// Boot is the BSP's entry point, called once by the boot stub after long
// mode, paging and a stack are already live. It never returns.
func Boot(mbMagic uint32, mbAddr uintptr) {
	bootInfo.MBMagic = mbMagic
	bootInfo.MBAddr = mbAddr

	kpanic.Register(sink, halter{})
	kpanic.Check(multiboot.Parse(mbAddr, &bootInfo), "multiboot magic mismatch")
	trace("multiboot: parsed\r\n")

	if fb := fbconsole.New(fbconsole.Info{
		Addr: uintptr(bootInfo.FBAddr), Pitch: bootInfo.FBPitch,
		Width: bootInfo.FBWidth, Height: bootInfo.FBHeight, Bpp: uint32(bootInfo.FBBpp),
	}); fb != nil {
		sink = console.Multi{serialSink, fb}
		kpanic.Register(sink, halter{})
	}

	bigPages = pagedb.Init(bootInfo.MemorySize, uint64(bootInfo.KernelTop))
	pageTable.Sync(bigPages.ReservePage)
	trace("pagedb: initialized\r\n")

	heap = slab.NewHeap(bigPages)
	kpanic.Check(heap.ReserveOnSlack(), "slab: could not reserve root slab from slack")
	threadAllocator = thread.Allocator{
		Threads: mustGetSlab(heap, uint32(unsafe.Sizeof(thread.Thread{}))),
		Heap:    heap,
	}
	trace("slab: heap ready\r\n")

	intr.Init()
	pic8259.Mask()
	trace("intr: idt/gdt installed, legacy pic masked\r\n")

	sched.Init(realSwitch)
	cpuasm.ThreadStartHook = func() { kcpu.UnlockSMP(kcpu.Current()) }
	intr.ExceptionHandler = onException

	kcpu.CurrentID = apic.ID
	cpuasm.CPUIndex = apic.ID

	haveACPI := acpi.Init(pageTable)
	if !haveACPI {
		trace("acpi: no RSDP/MADT, continuing BSP-only\r\n")
	}

	ioapic.Init()

	bsp := apic.ID()
	kcpu.CPUs[bsp] = kcpu.Desc{ApicID: bsp, Flags: kcpu.FlagsActive | kcpu.FlagsBSP}
	apic.Init()
	intr.SetEOI(apic.EOI)
	intr.RegisterIRQHandler(intr.IRQTimer, onTick)
	sched.InitCPU(&kcpu.CPUs[bsp])
	atomic.AddUint32(&kcpu.NumCPUs, 1)
	trace("apic: bsp local apic live\r\n")

	pit.Init()
	apic.CalibrateTimer(func() {
		for i := 0; i < 1_000_000; i++ {
		}
	})

	if haveACPI {
		wakeAPs(bsp)
	}

	intr.EnableIRQ(intr.IRQTimer, allCPUMask())
	cpuasm.EnableInterrupts()
	trace("boot: bsp entering idle loop\r\n")

	idle()
}

// APMain is the entry point an AP's trampoline jumps into once it is in
// long mode with interrupts still disabled, matching the per-AP half of
// §4.6 step 5: install tables, register a descriptor, attach an idle
// thread, enable interrupts, idle forever.
func APMain() {
	intr.Init()
	intr.ExceptionHandler = onException

	id := apic.ID()
	kcpu.CPUs[id] = kcpu.Desc{ApicID: id, Flags: kcpu.FlagsActive}
	apic.Init()
	sched.InitCPU(&kcpu.CPUs[id])
	atomic.AddUint32(&kcpu.NumCPUs, 1)

	cpuasm.EnableInterrupts()
	idle()
}

// wakeAPs sets the AP-enable flag and issues the INIT+STARTUP IPI
// sequence to every non-BSP APIC id MADT reported, then polls until
// every AP has registered itself, matching §4.6 step 5. The poll has no
// documented bound in the source (§7 calls this out as an
// implementer's choice); this port caps it rather than hanging forever
// on a dead AP.
func wakeAPs(bsp uint32) {
	atomic.StoreUint32(&bootInfo.BootAP, 1)

	for _, id := range apic.CPUIDs {
		if id == bsp {
			continue
		}
		apic.IPIInit(id)
		spinMillis(10)
		apic.IPIStartup(id)
	}

	want := uint32(len(apic.CPUIDs))
	const maxSpins = 100_000_000
	for spins := 0; atomic.LoadUint32(&kcpu.NumCPUs) < want && spins < maxSpins; spins++ {
	}
	trace("smp: census complete\r\n")
}

func spinMillis(ms int) {
	for i := 0; i < ms*100_000; i++ {
	}
}

// allCPUMask builds the bitmask of every active CPU's APIC id, for
// binding the timer IRQ to the whole fleet once bring-up finishes.
func allCPUMask() uint8 {
	var mask uint8
	for i := range kcpu.CPUs {
		if kcpu.CPUs[i].Flags&kcpu.FlagsActive != 0 {
			mask |= 1 << uint(kcpu.CPUs[i].ApicID)
		}
	}
	return mask
}

// onTick is the timer IRQ handler: it runs the per-CPU scheduling
// decision under that CPU's own descriptor lock, matching the
// tick-handler contract in §4.8 (the interrupt dispatcher already holds
// high IPL for the duration of the handler).
func onTick(frame *cpuasm.IsrFrame) {
	cpu := kcpu.Current()
	cpu.Lock.Acquire()
	cpu.Ticks++
	sched.Tick(cpu)
	cpu.Lock.Release()
}

// onException is cpu_exception's body: breakpoint returns into the
// faulting instruction, a page fault reports the faulting address from
// CR2, and every other vector is unhandled and fatal, matching §4.5's
// "unhandled exceptions print the frame and halt. Page-fault reads CR2.
// Breakpoint returns."
func onException(frame *cpuasm.IsrFrame) {
	switch frame.TrapNum {
	case intr.ExceptionBreakpoint:
		return
	case intr.ExceptionPageFault:
		kpanic.Panic("page fault at " + hex64(uint64(cpuasm.CR2())) + " rip " + hex64(frame.Rip))
	default:
		kpanic.Panic("unhandled exception " + hex64(frame.TrapNum) + " rip " + hex64(frame.Rip))
	}
}

const hexDigits = "0123456789abcdef"

func hex64(v uint64) string {
	var buf [16]byte
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf[:])
}

// realSwitch adapts cpuasm.ContextSwitch's raw SwitchContext pointers to
// the (cur, next *thread.Thread) shape sched.Switch expects; sched_test.go
// installs a no-op in its place since a test binary has no second real
// kernel stack to resume into.
func realSwitch(cur, next *thread.Thread) {
	cpuasm.ContextSwitch(&cur.Ctx, next.Ctx)
}

func idle() {
	for {
		cpuasm.Halt()
	}
}

func mustGetSlab(h *slab.Heap, size uint32) *slab.List {
	sl := h.GetSlab(size)
	kpanic.Check(sl != nil, "kmalloc: thread control block exceeds largest size class")
	return sl
}
