package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/harliandi/go-imgfit/internal/converter"
	"github.com/harliandi/go-imgfit/internal/middleware"
	"github.com/harliandi/go-imgfit/pkg/format"
	"github.com/harliandi/go-imgfit/pkg/progress"
)

const (
	maxMemory = 32 << 20 // 32MB max in-memory for multipart parsing
	// Multipart framing on top of the file itself
	formOverhead = 1 << 20
)

// Handler handles HTTP requests for image compression
type Handler struct {
	compressor  *converter.Compressor
	maxUploadMB int
	defaults    converter.Options
}

// New creates a new Handler. defaults supplies every option a request does
// not set.
func New(c *converter.Compressor, maxUploadMB int, defaults converter.Options) *Handler {
	return &Handler{
		compressor:  c,
		maxUploadMB: maxUploadMB,
		defaults:    defaults,
	}
}

// base64Response is the JSON body for output=base64.
type base64Response struct {
	FileName string  `json:"file_name"`
	MIMEType string  `json:"mime_type"`
	Size     int     `json:"size"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Quality  float64 `json:"quality"`
	DataURL  string  `json:"data_url"`
}

// Compress handles the /compress endpoint
func (h *Handler) Compress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		middleware.WriteError(w, r, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	opts, err := h.parseOptions(r)
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}

	// Parse multipart form with size limit
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxUploadMB)<<20+formOverhead)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			middleware.WriteError(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request too large (limit %d MB)", h.maxUploadMB), "")
		case errors.Is(err, http.ErrNotMultipart):
			middleware.WriteError(w, r, http.StatusBadRequest, "Content-Type must be multipart/form-data", "")
		default:
			middleware.WriteError(w, r, http.StatusBadRequest, "Malformed multipart body", "")
		}
		return
	}
	defer r.MultipartForm.RemoveAll()

	// Get file from form
	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "No file provided",
			`Send the image in a multipart field named "file".`)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "Could not read upload", "")
		return
	}

	in := converter.Input{
		Data:     data,
		Name:     header.Filename,
		MIMEType: declaredType(header.Header.Get("Content-Type"), header.Filename),
	}

	out, err := h.compressor.Compress(r.Context(), in, opts)
	if err != nil {
		h.writeCompressionError(w, r, err)
		return
	}

	log.Printf("[%s] Compressed %q: %s -> %s, %dx%d q=%.2f (%s)",
		middleware.RequestID(r.Context()), header.Filename,
		humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(len(out.Data))),
		out.Width, out.Height, out.Quality, out.Mode)

	w.Header().Set("X-Image-Width", strconv.Itoa(out.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(out.Height))
	w.Header().Set("X-Image-Quality", strconv.FormatFloat(out.Quality, 'f', 3, 64))
	w.Header().Set("X-Execution-Mode", out.Mode.String())

	if opts.OutputEncoding == converter.EncodingBase64 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(base64Response{
			FileName: out.FileName,
			MIMEType: out.MIMEType,
			Size:     len(out.Data),
			Width:    out.Width,
			Height:   out.Height,
			Quality:  out.Quality,
			DataURL:  out.DataURL,
		})
		return
	}

	// Send response
	w.Header().Set("Content-Type", out.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": out.FileName}))
	w.WriteHeader(http.StatusOK)
	w.Write(out.Data)
}

// parseOptions reads the query string on top of the handler defaults.
func (h *Handler) parseOptions(r *http.Request) (converter.Options, error) {
	opts := h.defaults
	query := r.URL.Query()

	if v := query.Get("max_size_kb"); v != "" {
		kb, err := strconv.ParseInt(v, 10, 64)
		if err != nil || kb < 0 {
			return opts, fmt.Errorf("invalid max_size_kb %q", v)
		}
		opts.MaxSizeBytes = kb * 1024
	} else if v := query.Get("max_size_mb"); v != "" {
		mb, err := strconv.ParseFloat(v, 64)
		if err != nil || mb < 0 {
			return opts, fmt.Errorf("invalid max_size_mb %q", v)
		}
		opts.MaxSizeBytes = converter.SizeFromMB(mb)
	}

	if v := query.Get("max_dimension"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 0 {
			return opts, fmt.Errorf("invalid max_dimension %q", v)
		}
		opts.MaxDimension = d
	}

	if v := query.Get("quality"); v != "" {
		q, err := strconv.ParseFloat(v, 64)
		// Accept both 0..1 and the 1..100 scale
		if err == nil && q > 1 && q <= 100 {
			q /= 100
		}
		if err != nil || q <= 0 || q > 1 {
			return opts, fmt.Errorf("invalid quality %q", v)
		}
		opts.InitialQuality = q
	}

	if v := query.Get("format"); v != "" {
		m := format.Parse(v)
		if m == "" {
			return opts, fmt.Errorf("unknown format %q", v)
		}
		opts.OutputFormat = m
	}

	for key, dst := range map[string]*bool{"orient": &opts.OrientationFix, "parallel": &opts.UseParallel} {
		if v := query.Get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return opts, fmt.Errorf("invalid %s %q", key, v)
			}
			*dst = b
		}
	}

	switch v := query.Get("output"); v {
	case "":
	case converter.EncodingBinary, converter.EncodingBase64:
		opts.OutputEncoding = v
	default:
		return opts, fmt.Errorf("invalid output %q", v)
	}

	return opts, nil
}

func (h *Handler) writeCompressionError(w http.ResponseWriter, r *http.Request, err error) {
	id := middleware.RequestID(r.Context())

	if progress.IsCancelled(err) {
		log.Printf("[%s] Compression cancelled: %v", id, err)
		middleware.WriteError(w, r, http.StatusRequestTimeout, "Compression cancelled", "")
		return
	}

	var ce *converter.CompressionError
	if !errors.As(err, &ce) {
		log.Printf("[%s] Compression error: %v", id, err)
		middleware.WriteError(w, r, http.StatusInternalServerError, "Compression failed", "")
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, converter.ErrUnsupportedType), errors.Is(err, converter.ErrUnsupportedOutput):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, converter.ErrFileTooLarge), errors.Is(err, converter.ErrImageTooLarge):
		status = http.StatusRequestEntityTooLarge
	case ce.Kind == converter.KindValidation:
		status = http.StatusBadRequest
	case ce.Kind == converter.KindCodec:
		status = http.StatusUnprocessableEntity
	}
	log.Printf("[%s] Compression error (%s): %v", id, ce.Kind, err)
	middleware.WriteError(w, r, status, ce.Message, ce.Suggestion)
}

// Health handles the /health endpoint for readiness/liveness probes
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"supported_types": h.compressor.SupportedTypes(),
	})
}

// declaredType returns the part's Content-Type, or a guess from the filename
// when the client sent a generic type.
func declaredType(contentType, filename string) string {
	ct := format.Canonical(contentType)
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return format.FromName(strings.TrimSpace(filename))
}
