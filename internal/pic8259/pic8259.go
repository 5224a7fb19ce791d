// Package pic8259 masks the legacy 8259 programmable interrupt
// controller pair so the I/O-APIC can own every line, grounded on
// original_source/pic.c.
package pic8259

import "github.com/bsekura/smor/internal/cpuasm"

const (
	masterCmd    = 0x20
	masterIntMsk = 0x21
	slaveCmd     = 0xA0
	slaveIntMsk  = 0xA1
)

const (
	icw1Base    = 1 << 4
	icw1NeedICW4 = 1 << 0
	icw2Master  = 0x20
	icw2Slave   = 0x28
	icw3SlaveOn2 = 0x02
	icw3Int2Slave = 1 << 2
	icw4_8086   = 1 << 0
	ocw1MaskAll = 0xff
	ocw2EOI     = 1 << 5
)

// Mask fully reprograms both PICs with every line masked, matching
// pic_init followed immediately by masking everything — the bring-up
// sequence never unmasks the legacy controller again once the I/O-APIC
// takes over.
func Mask() {
	cpuasm.Outb(masterCmd, icw1Base|icw1NeedICW4)
	cpuasm.Outb(masterIntMsk, icw2Master)
	cpuasm.Outb(masterIntMsk, icw3Int2Slave)
	cpuasm.Outb(masterIntMsk, icw4_8086)
	cpuasm.Outb(masterIntMsk, ocw1MaskAll)
	cpuasm.Outb(masterCmd, ocw2EOI)

	cpuasm.Outb(slaveCmd, icw1Base|icw1NeedICW4)
	cpuasm.Outb(slaveIntMsk, icw2Slave)
	cpuasm.Outb(slaveIntMsk, icw3SlaveOn2)
	cpuasm.Outb(slaveIntMsk, icw4_8086)
	cpuasm.Outb(slaveIntMsk, ocw1MaskAll)
	cpuasm.Outb(slaveCmd, ocw2EOI)
}
