// Package kpanic implements the kernel's single fatal-error path: an
// assertion violation disables interrupts, writes a message to the
// registered console sink, and halts the CPU. There is no recovery path,
// mirroring original_source/kernel.h's check() macro and kernel_panic().
package kpanic

import "github.com/bsekura/smor/internal/console"

// Halter is satisfied by the arch-specific "stop this CPU forever"
// primitive (cpuasm.Halt, wrapped so this package stays portable and
// testable without importing assembly).
type Halter interface {
	DisableInterrupts()
	Halt()
}

var (
	sink   console.Sink
	halter Halter
)

// Register wires the console sink and halt primitive used by Panic. Called
// once during early boot, before any subsystem that might call Check.
func Register(s console.Sink, h Halter) {
	sink = s
	halter = h
}

// Check panics with msg if cond is false. The source's contract: "if x is
// false, print and halt" — never an exception a caller might catch.
//
//go:nosplit
func Check(cond bool, msg string) {
	if !cond {
		Panic(msg)
	}
}

// Panic disables interrupts, writes msg to the console sink, and halts this
// CPU. It never returns.
//
//go:nosplit
func Panic(msg string) {
	if halter != nil {
		halter.DisableInterrupts()
	}
	if sink != nil {
		sink.WriteString("kernel panic: ")
		sink.WriteString(msg)
		sink.WriteString("\r\n")
	}
	for {
		if halter != nil {
			halter.Halt()
		}
	}
}
