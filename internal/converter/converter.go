package converter

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/harliandi/go-imgfit/pkg/codec"
	"github.com/harliandi/go-imgfit/pkg/format"
	"github.com/harliandi/go-imgfit/pkg/metrics"
	"github.com/harliandi/go-imgfit/pkg/progress"
	"github.com/harliandi/go-imgfit/pkg/quality"
)

// Output encodings
const (
	EncodingBinary = "binary"
	EncodingBase64 = "base64"
)

// Mode is the execution context a compression ran in.
type Mode int

const (
	Inline Mode = iota
	Isolated
)

func (m Mode) String() string {
	if m == Isolated {
		return "isolated"
	}
	return "inline"
}

// ChooseContext picks the isolated worker pool only when it was requested
// and is available.
func ChooseContext(requestedParallel, contextAvailable bool) Mode {
	if requestedParallel && contextAvailable {
		return Isolated
	}
	return Inline
}

// Options configures one Compress call.
type Options struct {
	// MaxSizeBytes is the size budget. Zero means encode once.
	MaxSizeBytes int64
	// MaxDimension caps width and height. Zero means no cap.
	MaxDimension int
	// InitialQuality in (0, 1]. Zero means 1.0.
	InitialQuality float64
	// OutputFormat is a MIME type. Empty keeps the input format.
	OutputFormat   string
	OrientationFix bool
	UseParallel    bool
	Progress       progress.Sink
	// OutputEncoding is EncodingBinary (default) or EncodingBase64.
	OutputEncoding string
}

// DefaultOptions returns the defaults: full quality, orientation fix,
// parallel execution and binary output.
func DefaultOptions() Options {
	return Options{
		InitialQuality: 1.0,
		OrientationFix: true,
		UseParallel:    true,
		OutputEncoding: EncodingBinary,
	}
}

// SizeFromMB converts megabytes (MiB) to a byte budget.
func SizeFromMB(mb float64) int64 {
	return int64(mb * 1024 * 1024)
}

// Input is the image to compress.
type Input struct {
	Data []byte
	// Name is the original filename, used to derive the output filename.
	Name string
	// MIMEType is the declared type. Empty means sniff the content.
	MIMEType string
}

// Output is a compressed image.
type Output struct {
	Data     []byte
	MIMEType string
	FileName string
	// DataURL is set when base64 output was requested.
	DataURL string
	Width   int
	Height  int
	Quality float64
	Mode    Mode
}

// Compressor validates requests and runs the compression search inline or
// on a worker pool.
type Compressor struct {
	engine    *quality.Engine
	pool      *WorkerPool
	retries   int
	supported []string
}

// New creates a Compressor that runs engine inline until a pool is set.
func New(engine *quality.Engine) *Compressor {
	return &Compressor{
		engine:    engine,
		retries:   1,
		supported: format.Supported,
	}
}

// SetWorkerPool enables isolated execution. retries bounds resubmission
// while the pool is busy.
func (c *Compressor) SetWorkerPool(p *WorkerPool, retries int) {
	c.pool = p
	c.retries = retries
}

// SetSupportedTypes replaces the accepted input MIME types.
func (c *Compressor) SetSupportedTypes(types []string) {
	c.supported = types
}

// SupportedTypes returns the accepted input MIME types.
func (c *Compressor) SupportedTypes() []string {
	return c.supported
}

// Compress validates in and opts, then searches for the best encoding that
// fits opts.MaxSizeBytes. Failures are *CompressionError, except
// cancellation, which matches progress.ErrCancelled and the context error.
func (c *Compressor) Compress(ctx context.Context, in Input, opts Options) (*Output, error) {
	start := time.Now()

	if err := ValidateInput(in, c.supported); err != nil {
		metrics.RecordRejected()
		return nil, err
	}
	if err := ValidateOptions(opts); err != nil {
		metrics.RecordRejected()
		return nil, err
	}
	if err := ValidateImage(in.Data, in.MIMEType); err != nil {
		metrics.RecordRejected()
		return nil, err
	}

	qin := quality.Input{Data: in.Data, MIMEType: in.MIMEType}
	qopts := quality.Options{
		TargetBytes:    opts.MaxSizeBytes,
		MaxDimension:   opts.MaxDimension,
		InitialQuality: opts.InitialQuality,
		OutputFormat:   format.Canonical(opts.OutputFormat),
		OrientationFix: opts.OrientationFix,
		// A retry inline must not move progress backwards.
		Progress: progress.Monotonic(opts.Progress),
	}

	mode := ChooseContext(opts.UseParallel, c.pool.Available())
	a, err := c.run(ctx, mode, qin, qopts)
	if err != nil && mode == Isolated && !progress.IsCancelled(err) {
		if cerr := progress.Check(ctx); cerr != nil {
			err = cerr
		} else {
			log.Printf("Isolated compression failed, falling back to inline: %v", err)
			metrics.RecordFallback(fallbackReason(err))
			mode = Inline
			a, err = c.run(ctx, mode, qin, qopts)
		}
	}

	duration := time.Since(start).Seconds()
	if err != nil {
		status := "error"
		if progress.IsCancelled(err) {
			status = "cancelled"
		}
		metrics.RecordCompression(status, mode.String(), duration, len(in.Data), 0)
		return nil, wrap(err)
	}
	metrics.RecordCompression("success", mode.String(), duration, len(in.Data), len(a.Data))

	out := &Output{
		Data:     a.Data,
		MIMEType: a.MIMEType,
		FileName: OutputFileName(in.Name, a.MIMEType),
		Width:    a.Width,
		Height:   a.Height,
		Quality:  a.Quality,
		Mode:     mode,
	}
	if opts.OutputEncoding == EncodingBase64 {
		out.DataURL = DataURL(a.MIMEType, a.Data)
	}
	return out, nil
}

func (c *Compressor) run(ctx context.Context, mode Mode, in quality.Input, opts quality.Options) (*codec.Artifact, error) {
	if mode == Isolated {
		return c.pool.SubmitWithRetry(ctx, in, opts, c.retries)
	}
	return c.engine.Run(ctx, in, opts)
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrPoolBusy):
		return "busy"
	case errors.Is(err, ErrPoolUnavailable):
		return "unavailable"
	case errors.Is(err, ErrWorkerCrashed):
		return "crashed"
	}
	return "error"
}

// OutputFileName replaces the extension of name with the one for mimeType.
func OutputFileName(name, mimeType string) string {
	base := filepath.Base(name)
	if name == "" || base == "." || base == string(filepath.Separator) {
		base = "image"
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "image"
	}
	return base + "." + format.Extension(mimeType)
}

// DataURL renders data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mimeType) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mimeType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}
