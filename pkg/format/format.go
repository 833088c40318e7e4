// Package format classifies image MIME types: whether the encoder quality
// parameter changes the output size, whether the format carries alpha, and
// which filename extension it uses.
package format

import (
	"net/http"
	"path/filepath"
	"strings"
)

// MIME types the compressor knows about.
const (
	JPEG = "image/jpeg"
	PNG  = "image/png"
	BMP  = "image/bmp"
	WebP = "image/webp"
	GIF  = "image/gif"
	HEIC = "image/heic"
	HEIF = "image/heif"
)

// Supported is the default set of accepted input types.
var Supported = []string{JPEG, PNG, BMP, WebP, GIF}

// qualityInsensitive formats ignore the quality parameter (indexed or lossless).
var qualityInsensitive = map[string]bool{
	PNG: true,
	BMP: true,
	GIF: true,
}

var alphaCapable = map[string]bool{
	PNG:  true,
	WebP: true,
	GIF:  true,
}

// extensionOverrides wins over the "subtype is the extension" rule.
var extensionOverrides = map[string]string{
	JPEG:             "jpg",
	"image/svg+xml":  "svg",
	"image/x-icon":   "ico",
	"image/x-ms-bmp": "bmp",
}

var aliases = map[string]string{
	"image/jpg":      JPEG,
	"image/pjpeg":    JPEG,
	"image/x-ms-bmp": BMP,
	"image/x-png":    PNG,
}

var byExtension = map[string]string{
	".jpg":  JPEG,
	".jpeg": JPEG,
	".jpe":  JPEG,
	".png":  PNG,
	".bmp":  BMP,
	".webp": WebP,
	".gif":  GIF,
	".heic": HEIC,
	".heif": HEIF,
}

// Info is the classification of a single MIME type.
type Info struct {
	MIMEType         string
	QualitySensitive bool
	Alpha            bool
	Extension        string
}

// Classify returns everything known about mimeType.
func Classify(mimeType string) Info {
	m := Canonical(mimeType)
	return Info{
		MIMEType:         m,
		QualitySensitive: QualitySensitive(m),
		Alpha:            SupportsAlpha(m),
		Extension:        Extension(m),
	}
}

// QualitySensitive reports whether the quality parameter affects encoded size.
func QualitySensitive(mimeType string) bool {
	return !qualityInsensitive[Canonical(mimeType)]
}

// SupportsAlpha reports whether the format stores transparency. Opaque
// formats need a background fill before encoding.
func SupportsAlpha(mimeType string) bool {
	return alphaCapable[Canonical(mimeType)]
}

// Extension returns the conventional filename extension, without the dot.
func Extension(mimeType string) string {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if ext, ok := extensionOverrides[m]; ok {
		return ext
	}
	m = Canonical(m)
	if ext, ok := extensionOverrides[m]; ok {
		return ext
	}
	if _, sub, ok := strings.Cut(m, "/"); ok && sub != "" {
		return sub
	}
	return "jpg"
}

// Canonical lower-cases mimeType, strips parameters and folds known aliases.
func Canonical(mimeType string) string {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if alias, ok := aliases[m]; ok {
		return alias
	}
	return m
}

// IsSupported reports whether mimeType is in allowed.
func IsSupported(mimeType string, allowed []string) bool {
	m := Canonical(mimeType)
	for _, a := range allowed {
		if m == a {
			return true
		}
	}
	return false
}

// FromName guesses a MIME type from a filename extension. Returns "" when
// the extension is unknown.
func FromName(name string) string {
	return byExtension[strings.ToLower(filepath.Ext(name))]
}

// Parse accepts either a full MIME type or a short name such as "webp" or
// "jpg". Returns "" for unknown names.
func Parse(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ""
	}
	if strings.Contains(n, "/") {
		return Canonical(n)
	}
	return byExtension["."+strings.TrimPrefix(n, ".")]
}

// Sniff detects the MIME type from content. Returns "" when the content is
// not a recognised image.
func Sniff(data []byte) string {
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		brand := strings.ToLower(string(data[8:12]))
		if strings.HasPrefix(brand, "he") {
			return HEIC
		}
		if brand == "mif1" || brand == "msf1" {
			return HEIF
		}
	}
	m := Canonical(http.DetectContentType(data))
	if !strings.HasPrefix(m, "image/") {
		return ""
	}
	return m
}
