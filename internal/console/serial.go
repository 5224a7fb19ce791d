package console

import "github.com/bsekura/smor/internal/cpuasm"

// comPort is the COM1 16550 UART port used for early boot output, the
// x86 analogue of the teacher's uartPuts over a memory-mapped PL011.
const comPort = 0x3f8

// Serial is a console.Sink backed by a 16550-compatible UART. It assumes
// the port has already been programmed by the boot stubs (baud rate,
// line control) before Register is called.
type Serial struct{}

//go:nosplit
func (Serial) WriteByte(b byte) {
	for cpuasm.Inb(comPort+5)&0x20 == 0 {
	}
	cpuasm.Outb(comPort, b)
}

//go:nosplit
func (s Serial) WriteString(str string) {
	for i := 0; i < len(str); i++ {
		s.WriteByte(str[i])
	}
}
