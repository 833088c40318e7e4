// Package orient reads the EXIF orientation tag and rotates or flips decoded
// pixels so the image displays upright without metadata.
package orient

import (
	"bytes"
	"image"
	"image/draw"

	"github.com/adrium/goheif"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/harliandi/go-imgfit/pkg/format"
)

// Orientation is the EXIF orientation value, 1 through 8.
type Orientation int

const (
	Normal Orientation = iota + 1
	FlipHorizontal
	Rotate180
	FlipVertical
	Transpose
	Rotate90
	Transverse
	Rotate270
)

// Valid reports whether o is one of the eight EXIF values.
func (o Orientation) Valid() bool {
	return o >= Normal && o <= Rotate270
}

// SwapsAxes reports whether applying o exchanges width and height.
func (o Orientation) SwapsAxes() bool {
	return o >= Transpose && o <= Rotate270
}

// Read returns the orientation stored in data. JPEG carries it in APP1 and
// HEIC/HEIF in an Exif item; anything else, a missing tag or a malformed
// block yields Normal.
func Read(data []byte, mimeType string) Orientation {
	kind := format.Sniff(data)
	if kind == "" {
		kind = format.Canonical(mimeType)
	}

	switch kind {
	case format.JPEG:
		return fromExif(data)
	case format.HEIC, format.HEIF:
		raw, err := goheif.ExtractExif(bytes.NewReader(data))
		if err != nil || len(raw) == 0 {
			return Normal
		}
		return fromExif(raw)
	}
	return Normal
}

// fromExif reads the tag from a JPEG stream or a bare EXIF block, with or
// without the "Exif\x00\x00" preamble.
func fromExif(data []byte) Orientation {
	// Sub-IFD errors still return a usable IFD0.
	x, _ := exif.Decode(bytes.NewReader(data))
	if x == nil {
		return Normal
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return Normal
	}
	v, err := tag.Int(0)
	if err != nil {
		return Normal
	}
	if o := Orientation(v); o.Valid() {
		return o
	}
	return Normal
}

// Apply returns img transformed so it displays upright. Normal and invalid
// orientations return img unchanged.
func Apply(img image.Image, o Orientation) image.Image {
	if !o.Valid() || o == Normal {
		return img
	}

	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dw, dh := w, h
	if o.SwapsAxes() {
		dw, dh = h, w
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			sx, sy := source(o, x, y, w, h)
			si := src.PixOffset(sx+src.Rect.Min.X, sy+src.Rect.Min.Y)
			di := dst.PixOffset(x, y)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

// Normalize reads the orientation from data and applies it to img.
func Normalize(img image.Image, data []byte, mimeType string) image.Image {
	return Apply(img, Read(data, mimeType))
}

// source maps a destination pixel to the source pixel it comes from.
// w and h are the source dimensions.
func source(o Orientation, x, y, w, h int) (int, int) {
	switch o {
	case FlipHorizontal:
		return w - 1 - x, y
	case Rotate180:
		return w - 1 - x, h - 1 - y
	case FlipVertical:
		return x, h - 1 - y
	case Transpose:
		return y, x
	case Rotate90:
		return y, h - 1 - x
	case Transverse:
		return w - 1 - y, h - 1 - x
	case Rotate270:
		return w - 1 - y, x
	}
	return x, y
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Bounds(), img, b.Min, draw.Src)
	return n
}
