package middleware

import (
	"context"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/harliandi/go-imgfit/pkg/metrics"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the ID assigned by Logger, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logger assigns a request ID, logs each request and records metrics.
// A well-formed incoming X-Request-ID is kept.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		// Wrap response writer to capture status code and size
		wrapped := &responseWrapper{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		log.Printf("[%s] %s %s %d %s %v",
			id,
			r.Method,
			r.URL.Path,
			wrapped.status,
			humanize.IBytes(uint64(wrapped.bytes)),
			elapsed,
		)

		// Skip /metrics to avoid recording the scraper
		if r.URL.Path != "/metrics" {
			metrics.RecordRequest(r.Method, r.URL.Path, strconv.Itoa(wrapped.status), elapsed.Seconds())
		}
	})
}

// Recovery is a middleware that recovers from panics and returns HTTP 500
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[%s] PANIC recovered: %v\n%s", RequestID(r.Context()), err, debug.Stack())
				WriteError(w, r, http.StatusInternalServerError,
					"Internal server error", "Request failed unexpectedly, please retry.")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *responseWrapper) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWrapper) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
