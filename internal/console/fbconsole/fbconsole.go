// Package fbconsole renders boot banners and panic text onto the linear
// framebuffer the boot stubs describe in the boot-info block (spec.md §6's
// "boot framebuffer console" collaborator). It draws into an in-memory
// image.RGBA backbuffer with gg and flushes scanlines into the real
// framebuffer, the same split the teacher uses in
// mazboot/golang/main/gg_circle_qemu.go for its startup splash.
package fbconsole

import (
	"image"
	"image/color"
	"unsafe"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Info describes the framebuffer the way the boot-info block does:
// physical address, pitch in bytes, dimensions and bits per pixel.
type Info struct {
	Addr   uintptr
	Pitch  uint32
	Width  uint32
	Height uint32
	Bpp    uint32
}

// Console draws text onto a framebuffer described by Info. It keeps no
// history; each WriteString call appends at the current cursor and wraps;
// when the cursor runs off the bottom the screen is cleared and output
// restarts at the top (there is no scrolling).
type Console struct {
	info   Info
	ctx    *gg.Context
	cursor image.Point
	fg     color.Color
	bg     color.Color
}

// glyphW/glyphH describe basicfont.Face7x13's fixed cell size; Face7x13
// exposes Advance as a field on its *basicfont.Face value rather than a
// constant, so the width is named here to match the font it actually is.
const (
	glyphW = 7
	glyphH = 13
)

// New creates a console bound to the given framebuffer description. It
// returns nil if the framebuffer has not been reported yet (width or
// height zero), matching the teacher's "fbinfo not ready" guard.
func New(info Info) *Console {
	if info.Width == 0 || info.Height == 0 {
		return nil
	}
	ctx := gg.NewContext(int(info.Width), int(info.Height))
	ctx.SetFontFace(basicfont.Face7x13)
	c := &Console{info: info, ctx: ctx, fg: color.White, bg: color.Black}
	ctx.SetColor(c.bg)
	ctx.Clear()
	return c
}

//go:nosplit
func (c *Console) WriteByte(b byte) {
	c.WriteString(string(b))
}

// WriteString draws s at the cursor, advancing and wrapping as needed,
// then flushes the whole backbuffer to the physical framebuffer.
func (c *Console) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\n' || ch == '\r' {
			c.newline()
			continue
		}
		if c.cursor.X+glyphW > int(c.info.Width) {
			c.newline()
		}
		c.ctx.SetColor(c.fg)
		c.ctx.DrawString(string(ch), float64(c.cursor.X), float64(c.cursor.Y+glyphH))
		c.cursor.X += glyphW
	}
	c.flush()
}

func (c *Console) newline() {
	c.cursor.X = 0
	c.cursor.Y += glyphH
	if c.cursor.Y+glyphH > int(c.info.Height) {
		c.ctx.SetColor(c.bg)
		c.ctx.Clear()
		c.cursor.Y = 0
	}
}

// PanicScreen clears to a solid field and prints msg, the framebuffer
// analogue of kpanic.Panic's serial message. kpanic.Panic does not call
// it; through console.Multi the panic text reaches this console via
// WriteString.
func (c *Console) PanicScreen(msg string) {
	c.ctx.SetColor(color.RGBA{R: 0x40, A: 0xff})
	c.ctx.Clear()
	c.cursor = image.Point{}
	c.fg = color.White
	c.WriteString(msg)
}

// flush copies the RGBA backbuffer into the physical framebuffer,
// converting to the pixel format Bpp describes. Only 32bpp BGRX/ARGB
// framebuffers are supported, matching every multiboot2 VBE mode this
// kernel targets.
func (c *Console) flush() {
	if c.info.Bpp != 32 {
		return
	}
	img := c.ctx.Image().(*image.RGBA)
	row := unsafe.Pointer(c.info.Addr)
	for y := 0; y < int(c.info.Height); y++ {
		dst := (*[1 << 28]uint32)(row)[: c.info.Width : c.info.Width]
		for x := 0; x < int(c.info.Width); x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			dst[x] = (uint32(r>>8) << 16) | (uint32(g>>8) << 8) | uint32(b>>8)
		}
		row = unsafe.Pointer(uintptr(row) + uintptr(c.info.Pitch))
	}
}
