// Package codec wraps image encoders and decoders behind a single interface.
// The compression search treats a Codec as a black box: the only thing it
// learns from an encode is the size of the output.
package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/adrium/goheif"
	webp "github.com/chai2010/webp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/harliandi/go-imgfit/pkg/format"
	"github.com/harliandi/go-imgfit/pkg/surface"
)

var (
	// ErrEmptyOutput is returned when an encoder succeeds but writes nothing.
	ErrEmptyOutput = errors.New("encoder produced no output")
	// ErrUnsupportedFormat is returned for MIME types without an encoder or decoder.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrReleasedSurface is returned when encoding a released surface.
	ErrReleasedSurface = errors.New("surface already released")
)

// Artifact is one encoded image. It is never modified after creation.
type Artifact struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Quality  float64
}

// Size returns the encoded length in bytes.
func (a *Artifact) Size() int64 {
	return int64(len(a.Data))
}

// Codec encodes surfaces and decodes byte streams.
type Codec interface {
	// Encode encodes s as mimeType at quality in [0, 1].
	Encode(ctx context.Context, s *surface.Surface, mimeType string, quality float64) (*Artifact, error)
	// Decode decodes data. mimeType is a hint; content sniffing wins.
	Decode(ctx context.Context, data []byte, mimeType string) (image.Image, error)
}

// Error describes a failed encode or decode with enough context to diagnose it.
type Error struct {
	Op       string // "encode", "decode" or "probe"
	MIMEType string
	Width    int
	Height   int
	Quality  float64
	Bytes    int
	Err      error
}

func (e *Error) Error() string {
	if e.Op == "encode" {
		return fmt.Sprintf("codec: encode %s at %dx%d (quality %.3f): %v",
			e.MIMEType, e.Width, e.Height, e.Quality, e.Err)
	}
	return fmt.Sprintf("codec: %s %s (%d bytes): %v", e.Op, e.MIMEType, e.Bytes, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Std is the Codec built on the Go image packages, golang.org/x/image,
// chai2010/webp and goheif.
type Std struct{}

// New returns the standard codec.
func New() *Std {
	return &Std{}
}

// Encode implements Codec.
func (c *Std) Encode(_ context.Context, s *surface.Surface, mimeType string, quality float64) (*Artifact, error) {
	m := format.Canonical(mimeType)
	fail := func(err error) (*Artifact, error) {
		return nil, &Error{Op: "encode", MIMEType: m, Width: s.Width(), Height: s.Height(), Quality: quality, Err: err}
	}
	if s.Released() {
		return fail(ErrReleasedSurface)
	}

	img := s.Image()
	var out bytes.Buffer
	out.Grow(64 * 1024)

	var err error
	switch m {
	case format.JPEG:
		err = jpeg.Encode(&out, img, &jpeg.Options{Quality: JPEGQuality(quality)})
	case format.WebP:
		err = webp.Encode(&out, img, &webp.Options{Quality: WebPQuality(quality)})
	case format.PNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&out, img)
	case format.GIF:
		err = gif.Encode(&out, img, &gif.Options{NumColors: 256, Drawer: draw.FloydSteinberg})
	case format.BMP:
		err = bmp.Encode(&out, img)
	default:
		err = ErrUnsupportedFormat
	}
	if err != nil {
		return fail(err)
	}
	if out.Len() == 0 {
		return fail(ErrEmptyOutput)
	}

	return &Artifact{
		Data:     out.Bytes(),
		MIMEType: m,
		Width:    s.Width(),
		Height:   s.Height(),
		Quality:  quality,
	}, nil
}

// Decode implements Codec.
func (c *Std) Decode(_ context.Context, data []byte, mimeType string) (image.Image, error) {
	kind := detect(data, mimeType)
	fail := func(err error) (image.Image, error) {
		return nil, &Error{Op: "decode", MIMEType: kind, Bytes: len(data), Err: err}
	}
	if len(data) == 0 {
		return fail(ErrEmptyOutput)
	}

	var (
		img image.Image
		err error
	)
	r := bytes.NewReader(data)
	switch kind {
	case format.HEIC, format.HEIF:
		img, err = goheif.Decode(r)
	case format.WebP:
		img, err = webp.Decode(r)
	case format.BMP:
		img, err = bmp.Decode(r)
	default:
		img, _, err = image.Decode(r)
	}
	if err != nil {
		return fail(err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return fail(fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy()))
	}
	return img, nil
}

// Probe reads the image dimensions from the header without decoding pixels.
func Probe(data []byte, mimeType string) (width, height int, err error) {
	kind := detect(data, mimeType)
	r := bytes.NewReader(data)

	var cfg image.Config
	switch kind {
	case format.HEIC, format.HEIF:
		cfg, err = goheif.DecodeConfig(r)
	case format.WebP:
		cfg, err = webp.DecodeConfig(r)
	case format.BMP:
		cfg, err = bmp.DecodeConfig(r)
	default:
		cfg, _, err = image.DecodeConfig(r)
	}
	if err != nil {
		return 0, 0, &Error{Op: "probe", MIMEType: kind, Bytes: len(data), Err: err}
	}
	return cfg.Width, cfg.Height, nil
}

// JPEGQuality maps a [0, 1] quality to the 1..100 scale of image/jpeg.
func JPEGQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

// WebPQuality maps a [0, 1] quality to the 0..100 scale of libwebp.
func WebPQuality(q float64) float32 {
	return float32(math.Max(0, math.Min(100, q*100)))
}

func detect(data []byte, mimeType string) string {
	if sniffed := format.Sniff(data); sniffed != "" {
		return sniffed
	}
	return format.Canonical(mimeType)
}
