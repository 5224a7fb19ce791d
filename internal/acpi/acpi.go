// Package acpi locates the RSDP in the BIOS memory area, walks the
// RSDT/XSDT to find the MADT, and registers every CPU and I/O-APIC it
// names. Grounded on original_source/acpi.c.
package acpi

import (
	"unsafe"

	"github.com/bsekura/smor/internal/apic"
	"github.com/bsekura/smor/internal/bootpage"
	"github.com/bsekura/smor/internal/ioapic"
)

const rsdpSignature = "RSD PTR "

type rsdp struct {
	signature [8]byte
	checksum  byte
	oemID     [6]byte
	revision  byte
	rsdtAddr  uint32
}

type rsdpV2 struct {
	v1            rsdp
	length        uint32
	xsdtAddr      uint64
	extChecksum   byte
	reserved      [3]byte
}

type sdtHeader struct {
	signature     [4]byte
	length        uint32
	revision      byte
	checksum      byte
	oemID         [6]byte
	oemTableID    [8]byte
	oemRevision   uint32
	creatorID     uint32
	creatorRev    uint32
}

type apicHeader struct {
	kind   byte
	length byte
}

type localAPICEntry struct {
	hdr         apicHeader
	processorID byte
	apicID      byte
	flags       uint32
}

type ioAPICEntry struct {
	hdr     apicHeader
	apicID  byte
	_       byte
	addr    uint32
	gsiBase uint32
}

type interruptOverrideEntry struct {
	hdr       apicHeader
	busSource byte
	irqSource byte
	gsi       uint32
	flags     uint16
}

const (
	apicTypeLocalAPIC         = 0x00
	apicTypeIOAPIC            = 0x01
	apicTypeInterruptOverride = 0x02
)

// biosAreaStart and biosAreaEnd bound the legacy BIOS region the RSDP
// signature is scanned in, matching acpi_find_rsdp's search window.
const (
	biosAreaStart = 0x000e0000
	biosAreaEnd   = 0x000fffff
)

func checksum(p unsafe.Pointer, n uintptr) byte {
	b := unsafe.Slice((*byte)(p), n)
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

func findRSDP() *rsdp {
	for addr := uintptr(biosAreaStart); addr < biosAreaEnd; addr += 16 {
		sig := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 8)
		if string(sig) != rsdpSignature {
			continue
		}
		r := (*rsdp)(unsafe.Pointer(addr))
		if checksum(unsafe.Pointer(r), unsafe.Sizeof(*r)) == 0 {
			return r
		}
		return nil
	}
	return nil
}

// mapSDT maps just enough of addr to read the table header, then remaps
// to the table's full reported length now that it is known, mirroring
// acpi_init's two-step vm_boot_map_range call (header size, then
// hdr->length) before any table is dereferenced. The returned unmap
// func must be called once the table has been fully parsed.
func mapSDT(pageTable *bootpage.Table, addr uintptr) (*sdtHeader, func()) {
	pageTable.MapRange(addr, addr, uint64(unsafe.Sizeof(sdtHeader{})))
	header := (*sdtHeader)(unsafe.Pointer(addr))
	pageTable.MapRange(addr, addr, uint64(header.length))
	return header, func() { pageTable.UnmapRange(addr, uint64(header.length)) }
}

func parseMADT(addr uintptr, length uint32) {
	header := (*sdtHeader)(unsafe.Pointer(addr))
	// local_ctrl_addr sits right after the sdt header, mirroring
	// acpi_madt_t.
	localCtrlAddr := *(*uint32)(unsafe.Pointer(addr + unsafe.Sizeof(*header)))
	apic.Register(uintptr(localCtrlAddr))

	ptr := addr + unsafe.Sizeof(*header) + 8 // skip local_ctrl_addr + flags
	end := addr + uintptr(length)

	for ptr < end {
		h := (*apicHeader)(unsafe.Pointer(ptr))
		switch h.kind {
		case apicTypeLocalAPIC:
			e := (*localAPICEntry)(unsafe.Pointer(ptr))
			apic.AddCPU(e.apicID)
		case apicTypeIOAPIC:
			e := (*ioAPICEntry)(unsafe.Pointer(ptr))
			ioapic.Register(uintptr(e.addr), e.gsiBase)
		case apicTypeInterruptOverride:
			e := (*interruptOverrideEntry)(unsafe.Pointer(ptr))
			ioapic.AddOverride(e.busSource, e.irqSource, e.gsi)
		}
		if h.length == 0 {
			break
		}
		ptr += uintptr(h.length)
	}
}

// parseSDT maps the table at addr before dereferencing it, matching
// spec.md's "map the table physical address into boot page tables
// before dereferencing" — each entry in the RSDT/XSDT names a separate
// physical table (FADT, MADT, SSDT, ...) that firmware routinely places
// outside whatever the boot stub mapped ahead of time.
func parseSDT(pageTable *bootpage.Table, addr uintptr) {
	header, unmap := mapSDT(pageTable, addr)
	defer unmap()
	if string(header.signature[:]) == "APIC" {
		parseMADT(addr, header.length)
	}
}

func sdtValid(addr uintptr, length uint32) bool {
	return checksum(unsafe.Pointer(addr), uintptr(length)) == 0
}

func parseRSDT(pageTable *bootpage.Table, addr uintptr) {
	header := (*sdtHeader)(unsafe.Pointer(addr))
	numEntries := (header.length - uint32(unsafe.Sizeof(*header))) / 4
	table := unsafe.Slice((*uint32)(unsafe.Pointer(addr+unsafe.Sizeof(*header))), numEntries)
	for _, entry := range table {
		parseSDT(pageTable, uintptr(entry))
	}
}

func parseXSDT(pageTable *bootpage.Table, addr uintptr) {
	header := (*sdtHeader)(unsafe.Pointer(addr))
	numEntries := (header.length - uint32(unsafe.Sizeof(*header))) / 8
	table := unsafe.Slice((*uint64)(unsafe.Pointer(addr+unsafe.Sizeof(*header))), numEntries)
	for _, entry := range table {
		parseSDT(pageTable, uintptr(entry))
	}
}

// Init scans for the RSDP, validates its checksum, and walks whichever
// of RSDT/XSDT its revision names, registering every CPU and I/O-APIC
// the MADT describes. Returns false on a missing RSDP or a checksum
// failure, matching the source's "degrade to BSP-only" contract.
//
// pageTable is the boot page-table editor used to map each firmware
// table before it is dereferenced; ACPI tables routinely live well
// outside whatever low region the boot stub mapped ahead of time.
func Init(pageTable *bootpage.Table) bool {
	r := findRSDP()
	if r == nil {
		return false
	}

	if r.revision < 2 {
		addr := uintptr(r.rsdtAddr)
		header, unmap := mapSDT(pageTable, addr)
		defer unmap()
		if !sdtValid(addr, header.length) {
			return false
		}
		parseRSDT(pageTable, addr)
		return true
	}

	if r.revision >= 2 {
		v2 := (*rsdpV2)(unsafe.Pointer(r))
		if checksum(unsafe.Pointer(v2), uintptr(v2.length)) != 0 {
			return false
		}
		addr := uintptr(v2.xsdtAddr)
		header, unmap := mapSDT(pageTable, addr)
		defer unmap()
		if !sdtValid(addr, header.length) {
			return false
		}
		parseXSDT(pageTable, addr)
		return true
	}

	return false
}
