// Package apic drives the local APIC: timer, spurious/error vectors,
// end-of-interrupt, and the INIT/STARTUP IPI sequence used to wake
// application processors. Grounded on original_source/local_apic.c.
package apic

import (
	"github.com/bsekura/smor/internal/cpuasm"
	"github.com/bsekura/smor/internal/kcpu"
)

const (
	regID             = 0x0020
	regTPR            = 0x0080
	regEOI            = 0x00b0
	regLDR            = 0x00d0
	regDFR            = 0x00e0
	regSVR            = 0x00f0
	regICRLo          = 0x0300
	regICRHi          = 0x0310
	regLVTTimer       = 0x0320
	regTimerInitCount = 0x0380
	regTimerCurCount  = 0x0390
	regTimerDivide    = 0x03e0
)

const idShift = 24

const (
	icrInit           = 0x00000500
	icrStartup        = 0x00000600
	icrPhysical       = 0x00000000
	icrAssert         = 0x00004000
	icrEdge           = 0x00000000
	icrNoShorthand    = 0x00000000
	icrSelf           = 0x00040000
	icrAllExclSelf    = 0x000c0000
	icrAllInclSelf    = 0x00080000
	icrSendPending    = 0x00001000
	icrDestShift      = 24
	ldrLogicalShift   = 24
	dfrFlatModel      = 0xffffffff
	tprEnableAllInts  = 0x00
	svrAPICEnable     = 1 << 8
	timerDivideBy16   = 0x03
	lvtTimerOneShot   = 0x00000
	lvtInterruptOff   = 1 << 16
)

// Bus wraps the local APIC's fixed memory-mapped register window,
// registered by the ACPI MADT walk before any access.
type Bus struct {
	base uintptr
}

// MaxCPUs bounds the MADT-discovered CPU roster, mirroring
// local_apic_t.cpus in the source.
const MaxCPUs = kcpu.MaxCPUs

// CPUIDs collects the APIC ids registered from MADT LOCAL_APIC entries,
// in discovery order; cpu_smp_init walks this to issue IPIs.
var CPUIDs []uint32

// Register records the local APIC's MMIO base, read out of the MADT
// header.
func Register(base uintptr) { busInstance.base = base }

// AddCPU records one MADT LOCAL_APIC entry's APIC id.
func AddCPU(apicID uint8) { CPUIDs = append(CPUIDs, uint32(apicID)) }

var busInstance Bus

func (b *Bus) read(reg uintptr) uint32  { return cpuasm.MmioRead32(b.base + reg) }
func (b *Bus) write(reg uintptr, v uint32) { cpuasm.MmioWrite32(b.base+reg, v) }

// ID reads this CPU's local-APIC id directly out of hardware. Bring-up
// installs it as kcpu.CurrentID, so every kcpu.Current call, including
// the one in the timer-tick handler, reads the APIC id register.
func ID() uint32 {
	return busInstance.read(regID) >> idShift
}

// Init programs the flat destination model and enables the APIC via
// the spurious-vector register, mirroring local_apic_init. Vector 0xff
// is reserved for the spurious stub, matching the source.
func Init() {
	id := ID()
	logical := uint32(1<<id) & 0xff

	busInstance.write(regTPR, tprEnableAllInts)
	busInstance.write(regDFR, dfrFlatModel)
	busInstance.write(regLDR, logical<<ldrLogicalShift)
	busInstance.write(regSVR, svrAPICEnable|0xff)
}

// EOI acknowledges the interrupt currently being serviced.
func EOI() { busInstance.write(regEOI, 0) }

// CalibrateTimer arms a one-shot countdown from the maximum value,
// calls wait (the caller supplies the calibration window, matching
// cpu_wait's separation of concerns), and returns the elapsed countdown
// — callers derive a ticks-per-ms figure from it the way
// local_apic_timer_init logs.
func CalibrateTimer(wait func()) uint32 {
	busInstance.write(regTimerDivide, timerDivideBy16)
	busInstance.write(regLVTTimer, lvtTimerOneShot|lvtInterruptOff)
	busInstance.write(regTimerInitCount, 0xffffffff)

	wait()

	count := busInstance.read(regTimerCurCount)
	return 0xffffffff - count
}

func ipiWait() {
	for busInstance.read(regICRLo)&icrSendPending != 0 {
	}
}

// IPIInit issues the INIT inter-processor interrupt to apicID, the
// first half of the AP wakeup sequence.
func IPIInit(apicID uint32) {
	busInstance.write(regICRHi, apicID<<icrDestShift)
	busInstance.write(regICRLo, icrInit|icrPhysical|icrAssert|icrEdge|icrNoShorthand)
	ipiWait()
}

// IPIStartup issues the STARTUP IPI to apicID, vector 0x08 naming the
// page index of the real-mode AP trampoline, matching the source's
// hardcoded vector.
func IPIStartup(apicID uint32) {
	const vector = 0x08
	busInstance.write(regICRHi, apicID<<icrDestShift)
	busInstance.write(regICRLo, vector|icrStartup|icrPhysical|icrAssert|icrEdge|icrNoShorthand)
	ipiWait()
}

func ipiShorthand(vector uint32, shorthand uint32) {
	busInstance.write(regICRHi, 0)
	busInstance.write(regICRLo, (vector&0xff)|icrAssert|icrEdge|shorthand)
	ipiWait()
}

// IPISelf fires a fixed-vector IPI at the calling CPU.
func IPISelf(vector uint32) { ipiShorthand(vector, icrSelf) }

// IPIBroadcast fires a fixed-vector IPI at every other CPU.
func IPIBroadcast(vector uint32) { ipiShorthand(vector, icrAllExclSelf) }

// IPIAll fires a fixed-vector IPI at every CPU including the caller.
func IPIAll(vector uint32) { ipiShorthand(vector, icrAllInclSelf) }
