// Package surface provides an owned, explicitly released RGBA pixel buffer.
//
// A Surface has exactly one owner. Resample produces a new Surface and leaves
// the receiver untouched; the owner releases the old one once it is no longer
// needed, which hands the backing buffer back to a size-tiered pool.
package surface

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/harliandi/go-imgfit/pkg/geometry"
)

// Surface is a width x height RGBA pixel buffer.
type Surface struct {
	img    *image.RGBA
	buf    *[]byte
	width  int
	height int
}

// New allocates a zeroed (transparent black) surface.
func New(width, height int) *Surface {
	buf := getBuffer(width * height * 4)
	return &Surface{
		img: &image.RGBA{
			Pix:    *buf,
			Stride: 4 * width,
			Rect:   image.Rect(0, 0, width, height),
		},
		buf:    buf,
		width:  width,
		height: height,
	}
}

// Render draws src scaled to width x height onto a new surface. A non-nil
// background is painted first and src is composited over it, which flattens
// transparency for opaque output formats.
func Render(src image.Image, width, height int, background color.Color) *Surface {
	s := New(width, height)
	dst := s.img

	op := draw.Src
	if background != nil {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
		op = draw.Over
	}

	sb := src.Bounds()
	if sb.Dx() == width && sb.Dy() == height {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, op)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, op, nil)
	}
	return s
}

// Resample returns a new surface scaled by factor. The receiver stays valid
// and must still be released by its owner.
func (s *Surface) Resample(factor float64) *Surface {
	w, h := geometry.Scale(s.width, s.height, factor)
	next := New(w, h)
	draw.BiLinear.Scale(next.img, next.img.Bounds(), s.img, s.img.Bounds(), draw.Src, nil)
	return next
}

// Clone returns an independent copy.
func (s *Surface) Clone() *Surface {
	c := New(s.width, s.height)
	copy(c.img.Pix, s.img.Pix)
	return c
}

// Image exposes the pixels. Nil after Release.
func (s *Surface) Image() *image.RGBA {
	return s.img
}

// Width in pixels.
func (s *Surface) Width() int { return s.width }

// Height in pixels.
func (s *Surface) Height() int { return s.height }

// Released reports whether Release has been called.
func (s *Surface) Released() bool {
	return s.img == nil
}

// Release returns the backing buffer to the pool. Safe to call more than once.
func (s *Surface) Release() {
	if s == nil || s.img == nil {
		return
	}
	putBuffer(s.buf)
	s.buf = nil
	s.img = nil
}
