// Package pagecache is the data-model-only scaffolding
// original_source/vm_cache.c describes: an offset-keyed cache of pages
// backed by read/write callbacks. It is kept unwired, matching
// vm_cache.c's own delete path (permanently disabled behind a dead
// #if 0 in the source) and spec.md's Non-goals around paging-to-disk —
// nothing in this repo calls ReadPage or WritePage; the type exists so a future
// caller (a file-backed mapping, say) has a home without redesigning
// the page descriptor.
package pagecache

import "github.com/bsekura/smor/internal/pagedb"

const (
	Flags4KPages = 1 << 0
	FlagsNoHash  = 1 << 1
)

// Cache maps byte offsets onto resident pages, held in a Go map keyed
// by offset.
type Cache struct {
	resident map[uint64]*pagedb.Desc
	Size     uint64
	Flags    uint32
	RefCount int

	ReadPage  func(vaddr uintptr, offset uint64)
	WritePage func(vaddr uintptr, offset uint64)
}

// New creates an empty cache of the given logical size (not necessarily
// page aligned, matching page_cache_t.size's comment).
func New(size uint64, flags uint32) *Cache {
	return &Cache{
		resident: make(map[uint64]*pagedb.Desc),
		Size:     size,
		Flags:    flags,
		RefCount: 1,
	}
}

// Insert records page as resident at offset.
func (c *Cache) Insert(offset uint64, page *pagedb.Desc) {
	c.resident[offset] = page
	page.CacheOffset = offset
}

// Lookup returns the page resident at offset, or nil.
func (c *Cache) Lookup(offset uint64) *pagedb.Desc {
	return c.resident[offset]
}

// Remove drops offset's resident page, if any.
func (c *Cache) Remove(offset uint64) {
	delete(c.resident, offset)
}

// Release drops a reference and, once the count reaches zero, discards
// the resident map. The pages themselves are not returned to any page
// database.
func (c *Cache) Release() {
	c.RefCount--
	if c.RefCount <= 0 {
		c.resident = nil
	}
}
