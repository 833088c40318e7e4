// Package quality implements the size-constrained compression search: find
// the highest quality, and failing that the largest dimensions, whose encoded
// size fits a byte budget, in a bounded number of encodes.
package quality

import (
	"context"
	"image/color"
	"math"

	"github.com/harliandi/go-imgfit/pkg/codec"
	"github.com/harliandi/go-imgfit/pkg/format"
	"github.com/harliandi/go-imgfit/pkg/geometry"
	"github.com/harliandi/go-imgfit/pkg/metrics"
	"github.com/harliandi/go-imgfit/pkg/orient"
	"github.com/harliandi/go-imgfit/pkg/progress"
	"github.com/harliandi/go-imgfit/pkg/surface"
)

const (
	// MaxIterations caps each search phase. A run never issues more than
	// 3*MaxIterations+2 encodes.
	MaxIterations = 10
	// MinQuality is the quality floor. Candidates never go below it.
	MinQuality = 0.05

	firstScaleFactor = 0.9
	scaleFactor      = 0.8

	// A fitting candidate within this fraction of the budget stops the search.
	closeEnoughRatio = 0.9
)

// Search outcomes, recorded in metrics.
const (
	OutcomeUnconstrained = "unconstrained"
	OutcomeBaseline      = "baseline"
	OutcomeQuality       = "quality"
	OutcomeDownscale     = "downscale"
	OutcomeExhausted     = "exhausted"
	OutcomeCancelled     = "cancelled"
	OutcomeFailed        = "failed"
)

// Options configures one run.
type Options struct {
	// TargetBytes is the budget. Zero or less encodes once at InitialQuality.
	TargetBytes int64
	// MaxDimension caps both sides. Zero or less disables the cap.
	MaxDimension int
	// InitialQuality is the starting quality in (0, 1]. Zero means 1.0.
	InitialQuality float64
	// OutputFormat is the target MIME type. Empty keeps the input format.
	OutputFormat string
	// OrientationFix applies the EXIF orientation before planning.
	OrientationFix bool
	// Progress receives completion percentages. May be nil.
	Progress progress.Sink
}

// DefaultOptions returns full starting quality with orientation correction.
func DefaultOptions() Options {
	return Options{
		InitialQuality: 1.0,
		OrientationFix: true,
	}
}

// Input is the encoded source image.
type Input struct {
	Data     []byte
	MIMEType string
}

// Engine runs searches against a Codec. It holds no per-run state and is
// safe for concurrent use.
type Engine struct {
	codec      codec.Codec
	pixelCap   int
	iterations int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPixelCap overrides the surface pixel cap. Zero or less disables it.
func WithPixelCap(pixels int) Option {
	return func(e *Engine) {
		e.pixelCap = pixels
	}
}

// WithIterations overrides MaxIterations.
func WithIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.iterations = n
		}
	}
}

// New creates an Engine that encodes with c.
func New(c codec.Codec, opts ...Option) *Engine {
	e := &Engine{
		codec:      c,
		pixelCap:   geometry.MaxSurfacePixels,
		iterations: MaxIterations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Iterations returns the per-phase iteration cap.
func (e *Engine) Iterations() int {
	return e.iterations
}

// Run compresses in to fit opts.TargetBytes. When the budget cannot be met
// Run still succeeds and returns the smallest artifact it produced.
// Cancellation of ctx aborts the run with an error matching
// progress.ErrCancelled.
func (e *Engine) Run(ctx context.Context, in Input, opts Options) (*codec.Artifact, error) {
	s := &search{
		engine:  e,
		ctx:     ctx,
		target:  opts.TargetBytes,
		initial: initialQuality(opts.InitialQuality),
		report:  progress.NewReporter(opts.Progress),
	}
	defer s.release()

	a, err := s.run(in, opts)
	switch {
	case progress.IsCancelled(err):
		s.outcome = OutcomeCancelled
	case err != nil:
		s.outcome = OutcomeFailed
	}
	metrics.RecordSearch(s.outcome, s.encodes)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// search is the state of one Run.
type search struct {
	engine  *Engine
	ctx     context.Context
	target  int64
	initial float64
	report  *progress.Reporter

	format    string
	sensitive bool
	surface   *surface.Surface
	smallest  *codec.Artifact
	encodes   int
	outcome   string
}

func (s *search) run(in Input, opts Options) (*codec.Artifact, error) {
	if err := progress.Check(s.ctx); err != nil {
		return nil, err
	}
	s.report.Report(5)

	if err := s.prepare(in, opts); err != nil {
		return nil, err
	}
	s.report.Report(20)

	// Decode and render may outlast the caller.
	if err := progress.Check(s.ctx); err != nil {
		return nil, err
	}

	if s.target <= 0 {
		a, err := s.encode(s.initial)
		if err != nil {
			return nil, err
		}
		return s.finish(OutcomeUnconstrained, a), nil
	}

	baseline, err := s.encode(s.initial)
	if err != nil {
		return nil, err
	}
	s.report.Report(30)
	if s.fits(baseline) {
		return s.finish(OutcomeBaseline, baseline), nil
	}

	// Quality has no effect on indexed and lossless formats, and there is
	// nothing to search when the baseline already ran at the floor.
	refine := s.sensitive && s.initial > MinQuality
	if refine {
		best, err := s.bisect(func(i int) {
			s.report.Report(30 + float64(i+1)/float64(s.engine.iterations)*40)
		})
		if err != nil {
			return nil, err
		}
		if best != nil {
			return s.finish(OutcomeQuality, best), nil
		}
	}

	// Dimensions
	if err := progress.Check(s.ctx); err != nil {
		return nil, err
	}
	s.report.Report(75)

	floor := math.Min(MinQuality, s.initial)
	if !s.sensitive {
		floor = 1.0
	}
	factor := firstScaleFactor
	for i := 0; i < s.engine.iterations; i++ {
		if err := progress.Check(s.ctx); err != nil {
			return nil, err
		}

		next := s.surface.Resample(factor)
		s.surface.Release()
		s.surface = next

		a, err := s.encode(floor)
		if err != nil {
			return nil, err
		}
		if s.fits(a) {
			if !refine {
				return s.finish(OutcomeDownscale, a), nil
			}
			// Recover quality at this geometry.
			best, err := s.bisect(nil)
			if err != nil {
				return nil, err
			}
			if best == nil {
				best = a
			}
			return s.finish(OutcomeDownscale, best), nil
		}

		s.report.Report(75 + float64(i+1)/float64(s.engine.iterations)*20)
		factor = scaleFactor
	}

	return s.finish(OutcomeExhausted, s.smallest), nil
}

// prepare decodes the input, corrects orientation, plans the geometry and
// renders the working surface.
func (s *search) prepare(in Input, opts Options) error {
	s.format = outputFormat(opts.OutputFormat, in)
	s.sensitive = format.QualitySensitive(s.format)

	img, err := s.engine.codec.Decode(s.ctx, in.Data, in.MIMEType)
	if err != nil {
		if cerr := progress.Check(s.ctx); cerr != nil {
			return cerr
		}
		return err
	}
	if opts.OrientationFix {
		img = orient.Normalize(img, in.Data, in.MIMEType)
	}

	b := img.Bounds()
	dims := geometry.Plan(b.Dx(), b.Dy(), opts.MaxDimension, s.engine.pixelCap)

	var bg color.Color
	if !format.SupportsAlpha(s.format) {
		bg = color.White
	}
	s.surface = surface.Render(img, dims.Width, dims.Height, bg)
	return nil
}

// bisect binary searches [MinQuality, initial] for the highest quality that
// fits. It returns nil when no candidate fits. step runs after each encode.
func (s *search) bisect(step func(i int)) (*codec.Artifact, error) {
	low, high := MinQuality, s.initial
	if high < low {
		high = low
	}

	var best *codec.Artifact
	for i := 0; i < s.engine.iterations; i++ {
		if err := progress.Check(s.ctx); err != nil {
			return nil, err
		}

		mid := (low + high) / 2
		if mid < MinQuality {
			mid = MinQuality
		}
		a, err := s.encode(mid)
		if err != nil {
			return nil, err
		}

		if s.fits(a) {
			best = a
			low = mid
		} else {
			high = mid
		}
		if step != nil {
			step(i)
		}

		if s.closeEnough(a) {
			break
		}
	}
	return best, nil
}

func (s *search) encode(q float64) (*codec.Artifact, error) {
	s.encodes++
	a, err := s.engine.codec.Encode(s.ctx, s.surface, s.format, q)
	if err != nil {
		if cerr := progress.Check(s.ctx); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	if s.smallest == nil || a.Size() < s.smallest.Size() {
		s.smallest = a
	}
	return a, nil
}

func (s *search) fits(a *codec.Artifact) bool {
	return a.Size() <= s.target
}

func (s *search) closeEnough(a *codec.Artifact) bool {
	return s.fits(a) && float64(a.Size()) >= closeEnoughRatio*float64(s.target)
}

func (s *search) finish(outcome string, a *codec.Artifact) *codec.Artifact {
	s.outcome = outcome
	s.report.Done()
	return a
}

func (s *search) release() {
	s.surface.Release()
	s.surface = nil
}

func initialQuality(q float64) float64 {
	if q <= 0 || q > 1 {
		return 1.0
	}
	return q
}

// outputFormat picks the explicit format, else the input's own format when
// it can be encoded, else JPEG.
func outputFormat(requested string, in Input) string {
	if requested != "" {
		return format.Canonical(requested)
	}
	m := format.Canonical(in.MIMEType)
	if m == "" {
		m = format.Sniff(in.Data)
	}
	if format.IsSupported(m, format.Supported) {
		return m
	}
	return format.JPEG
}
