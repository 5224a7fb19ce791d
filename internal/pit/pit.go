// Package pit programs 8254 PIT channel 0 as a square-wave source,
// grounded on original_source/pit.c. Nothing in this tree reads the PIT
// back: cmd/kernel's local-APIC timer calibration uses a busy-spin
// window instead.
package pit

import "github.com/bsekura/smor/internal/cpuasm"

const (
	ctr0Port = 0x40
	ctlPort  = 0x43

	selectCounter0 = 0x00
	loadLSBMSB     = 0x30
	squareWaveMode = 0x06

	clockHz  = 1193167
	targetHz = 1000
)

// Init arms channel 0 to tick at targetHz, matching pit_init's fixed
// 1 kHz square wave.
func Init() {
	clock := uint16(clockHz / targetHz)
	cpuasm.Outb(ctlPort, selectCounter0|squareWaveMode|loadLSBMSB)
	cpuasm.Outb(ctr0Port, uint8(clock&0xff))
	cpuasm.Outb(ctr0Port, uint8(clock>>8))
}
