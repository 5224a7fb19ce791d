// Package bootinfo holds the fixed-address boot-info block every other
// subsystem reads from, grounded on original_source/kernel.h's
// boot_info_t. internal/multiboot is the only writer; internal/pagedb,
// internal/sched and friends only ever consume the populated block,
// preserving the source's "core consumes the block, never the raw tag
// stream" contract.
package bootinfo

const MmapMax = 64

// Mmap is one BIOS/multiboot memory-map entry.
type Mmap struct {
	Addr  uint64
	Size  uint64
	Flags uint32
}

// Info is the boot-info block. BootAP is set atomically by the BSP once
// every AP's trampoline should proceed, matching boot_info_t.boot_ap.
type Info struct {
	MBMagic    uint32
	MBAddr     uintptr
	BootAP     uint32
	KernelEnd  uintptr
	KernelTop  uintptr
	Slack      uintptr
	Mmap       [MmapMax]Mmap
	NumMmap    uint32
	MmapTop    uint64
	MemorySize uint64

	FBAddr   uint64
	FBPitch  uint32
	FBWidth  uint32
	FBHeight uint32
	FBBpp    uint8
	FBType   uint8

	CmdLine [256]byte
}
