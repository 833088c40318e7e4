package converter

import (
	"log"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/harliandi/go-imgfit/pkg/codec"
	"github.com/harliandi/go-imgfit/pkg/format"
)

// Validation limits
const (
	MaxFileSize       = 100 * 1024 * 1024 // 100MB max file size
	MaxImageWidth     = 20000             // 20K pixels max width
	MaxImageHeight    = 20000             // 20K pixels max height
	MaxImagePixels    = 250_000_000       // 250 megapixels max total pixels
	MinImageDimension = 1                 // Minimum dimension for valid image
)

// ValidateInput checks the raw input before anything is decoded. An empty
// MIME type is allowed; the content is sniffed later.
func ValidateInput(in Input, supported []string) error {
	if len(in.Data) == 0 {
		return validationError(ErrEmptyInput, "", "No file provided.")
	}

	if len(in.Data) > MaxFileSize {
		log.Printf("File too large: %d bytes (max: %d)", len(in.Data), MaxFileSize)
		return validationError(ErrFileTooLarge,
			"Resize or re-export the image at a lower resolution before compressing it.",
			"File too large (%s). Maximum supported size is %s.",
			humanize.IBytes(uint64(len(in.Data))), humanize.IBytes(MaxFileSize))
	}

	if in.MIMEType != "" && !format.IsSupported(in.MIMEType, supported) {
		return validationError(ErrUnsupportedType,
			"Convert RAW, PSD or TIFF files to JPEG or PNG first.",
			"File type %q is not supported. Supported types: %s.",
			in.MIMEType, strings.Join(supported, ", "))
	}

	return nil
}

// ValidateOptions checks option ranges and that the output format can be
// encoded.
func ValidateOptions(opts Options) error {
	if opts.MaxSizeBytes < 0 {
		return validationError(ErrInvalidOptions, "Use a positive size, or omit it for a single encode.",
			"Invalid maximum size %d.", opts.MaxSizeBytes)
	}
	if opts.MaxDimension < 0 {
		return validationError(ErrInvalidOptions, "Use a positive dimension, or omit it to keep the original size.",
			"Invalid maximum dimension %d.", opts.MaxDimension)
	}
	if opts.InitialQuality < 0 || opts.InitialQuality > 1 {
		return validationError(ErrInvalidOptions, "Quality is a fraction between 0 and 1, for example 0.8.",
			"Invalid initial quality %g.", opts.InitialQuality)
	}
	if opts.OutputFormat != "" && !format.IsSupported(opts.OutputFormat, format.Supported) {
		return validationError(ErrUnsupportedOutput,
			"Choose one of: "+strings.Join(format.Supported, ", ")+".",
			"Output format %q is not supported.", opts.OutputFormat)
	}
	switch opts.OutputEncoding {
	case "", EncodingBinary, EncodingBase64:
	default:
		return validationError(ErrInvalidOptions, "Use \"binary\" or \"base64\".",
			"Invalid output encoding %q.", opts.OutputEncoding)
	}
	return nil
}

// ValidateImage checks header dimensions are within acceptable limits
// without decoding pixels. Formats whose header cannot be probed pass; the
// decoder reports them.
func ValidateImage(data []byte, mimeType string) error {
	width, height, err := codec.Probe(data, mimeType)
	if err != nil {
		return nil
	}

	// Check for zero or negative dimensions
	if width < MinImageDimension || height < MinImageDimension {
		log.Printf("Invalid dimensions: %dx%d", width, height)
		return validationError(ErrInvalidImageDimensions, "Check that the file is a valid image.",
			"Invalid image dimensions %dx%d.", width, height)
	}

	// Check maximum width/height
	if width > MaxImageWidth || height > MaxImageHeight {
		log.Printf("Dimensions too large: %dx%d (max: %dx%d)", width, height, MaxImageWidth, MaxImageHeight)
		return validationError(ErrImageTooLarge, "Resize the image below 20000 pixels per side first.",
			"Image dimensions %dx%d exceed the maximum of %dx%d.", width, height, MaxImageWidth, MaxImageHeight)
	}

	// Check total pixel count (prevent decompression bomb attacks)
	totalPixels := int64(width) * int64(height)
	if totalPixels > MaxImagePixels {
		log.Printf("Too many pixels: %d (max: %d)", totalPixels, MaxImagePixels)
		return validationError(ErrImageTooLarge, "Resize the image below 250 megapixels first.",
			"Image has %s pixels, more than the maximum of %s.",
			humanize.Comma(totalPixels), humanize.Comma(MaxImagePixels))
	}

	return nil
}
