// Package progress carries completion reports out of a compression run and
// cancellation into it.
package progress

import (
	"context"
	"errors"
	"math"
	"sync"
)

// ErrCancelled matches every cancellation error produced by Cancelled.
var ErrCancelled = errors.New("compression cancelled")

// Sink receives completion percentages in [0, 100].
type Sink func(percent int)

type cancelledError struct {
	cause error
}

func (e *cancelledError) Error() string {
	if e.cause == nil {
		return ErrCancelled.Error()
	}
	return ErrCancelled.Error() + ": " + e.cause.Error()
}

func (e *cancelledError) Is(target error) bool {
	return target == ErrCancelled
}

func (e *cancelledError) Unwrap() error {
	return e.cause
}

// Cancelled returns an error that matches both ErrCancelled and cause.
// An error that already matches ErrCancelled is returned unchanged.
func Cancelled(cause error) error {
	if errors.Is(cause, ErrCancelled) {
		return cause
	}
	return &cancelledError{cause: cause}
}

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// Check returns a cancellation error once ctx is done, nil otherwise.
func Check(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return Cancelled(context.Cause(ctx))
}

// Reporter forwards percentages to a Sink, rounded and clamped to [0, 100].
// Values lower than the last one reported are dropped, so a sink only ever
// sees a non-decreasing sequence. A nil sink is valid.
type Reporter struct {
	mu       sync.Mutex
	sink     Sink
	last     int
	reported bool
}

// NewReporter wraps sink.
func NewReporter(sink Sink) *Reporter {
	return &Reporter{sink: sink}
}

// Report sends pct to the sink unless it would move progress backwards.
func (r *Reporter) Report(pct float64) {
	p := clamp(pct)

	r.mu.Lock()
	if r.reported && p <= r.last {
		r.mu.Unlock()
		return
	}
	r.last = p
	r.reported = true
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink(p)
	}
}

// Done reports 100.
func (r *Reporter) Done() {
	r.Report(100)
}

// Last returns the most recent value sent, or 0.
func (r *Reporter) Last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Monotonic wraps sink with the Reporter guarantees. Returns nil for a nil sink.
func Monotonic(sink Sink) Sink {
	if sink == nil {
		return nil
	}
	r := NewReporter(sink)
	return func(percent int) {
		r.Report(float64(percent))
	}
}

func clamp(pct float64) int {
	if math.IsNaN(pct) {
		return 0
	}
	p := math.Round(pct)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(p)
}
