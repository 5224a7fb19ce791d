// Package multiboot walks the multiboot2 tag stream the bootloader
// leaves in memory, filling in bootinfo.Info. Grounded on
// original_source/multiboot.c. spec.md names the multiboot parser
// itself as an out-of-scope external collaborator reachable only
// through the boot-info block it fills; this package is that
// collaborator, kept out of internal/pagedb, internal/slab and
// internal/sched, which only ever read the already-populated block.
package multiboot

import (
	"unsafe"

	"github.com/bsekura/smor/internal/bootinfo"
)

const bootloaderMagic = 0x36d76289

const (
	tagEnd            = 0
	tagCmdline        = 1
	tagBasicMeminfo   = 4
	tagMmap           = 6
	tagFramebuffer    = 8
)

const (
	memoryAvailable = 1
)

type tagHeader struct {
	typ  uint32
	size uint32
}

type meminfoTag struct {
	hdr      tagHeader
	memLower uint32
	memUpper uint32
}

type framebufferTag struct {
	hdr      tagHeader
	fbAddr   uint64
	fbPitch  uint32
	fbWidth  uint32
	fbHeight uint32
	fbBpp    uint8
	fbType   uint8
	reserved uint8
}

type mmapEntry struct {
	addr uint64
	len  uint64
	typ  uint32
	zero uint32
}

type mmapTag struct {
	hdr          tagHeader
	entrySize    uint32
	entryVersion uint32
}

func align8(n uint32) uint32 { return (n + 7) &^ 7 }

func tagString(addr uintptr) string {
	// the tag's variable-length payload starts right after the 8-byte
	// header and is NUL terminated.
	base := addr + 8
	n := 0
	for *(*byte)(unsafe.Pointer(base + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(base)), n))
}

func handleMeminfo(addr uintptr, info *bootinfo.Info) {
	t := (*meminfoTag)(unsafe.Pointer(addr))
	info.MemorySize = uint64(t.memLower)*1024 + uint64(t.memUpper)*1024
}

func handleFramebuffer(addr uintptr, info *bootinfo.Info) {
	t := (*framebufferTag)(unsafe.Pointer(addr))
	info.FBAddr = t.fbAddr
	info.FBPitch = t.fbPitch
	info.FBWidth = t.fbWidth
	info.FBHeight = t.fbHeight
	info.FBBpp = t.fbBpp
	info.FBType = t.fbType
}

func handleMmap(addr uintptr, info *bootinfo.Info) {
	t := (*mmapTag)(unsafe.Pointer(addr))
	info.NumMmap = 0
	info.MmapTop = 0

	entryAddr := addr + unsafe.Sizeof(*t)
	end := addr + uintptr(t.hdr.size)
	for entryAddr < end {
		e := (*mmapEntry)(unsafe.Pointer(entryAddr))
		if info.NumMmap < bootinfo.MmapMax {
			m := &info.Mmap[info.NumMmap]
			m.Addr = e.addr
			m.Size = e.len
			if e.typ == memoryAvailable {
				m.Flags = 1
				if top := e.addr + e.len; top > info.MmapTop {
					info.MmapTop = top
				}
			} else {
				m.Flags = 0
			}
			info.NumMmap++
		}
		entryAddr += uintptr(t.entrySize)
	}
}

func handleCmdline(addr uintptr, info *bootinfo.Info) {
	s := tagString(addr)
	n := copy(info.CmdLine[:len(info.CmdLine)-1], s)
	info.CmdLine[n] = 0
}

// Parse walks the tag stream at tagPtr (the multiboot2 info structure's
// address, already mapped) and fills info. Returns false if info.MBMagic
// does not match the multiboot2 bootloader magic, matching
// multiboot_init's "missing multiboot magic" degraded-functionality path.
func Parse(tagPtr uintptr, info *bootinfo.Info) bool {
	if info.MBMagic != bootloaderMagic {
		return false
	}

	// the first 8 bytes at tagPtr are the total-size/reserved header of
	// the multiboot2 info block itself; tags start right after.
	addr := tagPtr + 8
	for {
		tag := (*tagHeader)(unsafe.Pointer(addr))
		if tag.typ == tagEnd {
			break
		}

		switch tag.typ {
		case tagCmdline:
			handleCmdline(addr, info)
		case tagBasicMeminfo:
			handleMeminfo(addr, info)
		case tagFramebuffer:
			handleFramebuffer(addr, info)
		case tagMmap:
			handleMmap(addr, info)
		}

		addr += uintptr(align8(tag.size))
	}

	return true
}
