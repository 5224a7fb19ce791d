package bitfield

// PageFlags is the packed representation of a page descriptor's state
// word, mirroring original_source/vm_page.h's PGF_FREE / PGF_USED /
// PGF_RESERVED tri-state plus the mapping-attribute bits a present PTE
// carries (original_source/vm_page.h's PAGE_PRESENT/PAGE_WRITE/PAGE_USER).
type PageFlags struct {
	Used     bool   `bitfield:"1"`
	Reserved bool   `bitfield:"1"`
	Present  bool   `bitfield:"1"`
	Write    bool   `bitfield:"1"`
	User     bool   `bitfield:"1"`
	Large2M  bool   `bitfield:"1"`
	Pad      uint32 `bitfield:"26"`
}

// PackPageFlags compacts f into the 32-bit word stored in a page
// descriptor.
func PackPageFlags(f PageFlags) (uint32, error) {
	packed, err := Pack(&f, &Config{NumBits: 32})
	if err != nil {
		return 0, err
	}
	return uint32(packed), nil
}

// UnpackPageFlags is the inverse of PackPageFlags.
func UnpackPageFlags(packed uint32) PageFlags {
	var f PageFlags
	_ = Unpack(uint64(packed), &f, &Config{NumBits: 32})
	return f
}
