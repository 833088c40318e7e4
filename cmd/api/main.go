package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harliandi/go-imgfit/internal/config"
	"github.com/harliandi/go-imgfit/internal/converter"
	"github.com/harliandi/go-imgfit/internal/handler"
	"github.com/harliandi/go-imgfit/internal/middleware"
	"github.com/harliandi/go-imgfit/pkg/codec"
	"github.com/harliandi/go-imgfit/pkg/format"
	"github.com/harliandi/go-imgfit/pkg/quality"
)

func main() {
	cfg := config.Load()

	engine := quality.New(codec.New(), quality.WithPixelCap(cfg.PixelCap))

	// Initialize global worker pool for compression jobs
	pool := converter.InitGlobalWorkerPool(engine, cfg.WorkerCount)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: newHandler(cfg, newCompressor(cfg, engine, pool)),
		// Timeouts prevent slowloris and hanging connections
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting image compression API on %s", server.Addr)
	log.Printf("Target size: %s, Max upload: %dMB, Max dimension: %d, Max concurrent: %d, Rate limit: %d/sec, Workers: %d",
		humanize.IBytes(uint64(cfg.TargetSizeKB)*1024), cfg.MaxUploadMB, cfg.MaxDimension,
		cfg.MaxConcurrent, cfg.RateLimitPerSec, cfg.WorkerCount)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
			converter.ShutdownGlobalWorkerPool()
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}

	converter.ShutdownGlobalWorkerPool()
}

// newCompressor wires the engine and pool into a Compressor. pool may be nil.
func newCompressor(cfg *config.Config, engine *quality.Engine, pool *converter.WorkerPool) *converter.Compressor {
	c := converter.New(engine)
	if pool != nil {
		c.SetWorkerPool(pool, cfg.PoolRetries)
	}
	if cfg.AcceptHEIF {
		types := append([]string{}, format.Supported...)
		c.SetSupportedTypes(append(types, format.HEIC, format.HEIF))
	}
	return c
}

// defaultOptions maps the configured defaults onto request options.
func defaultOptions(cfg *config.Config) converter.Options {
	opts := converter.DefaultOptions()
	opts.MaxSizeBytes = int64(cfg.TargetSizeKB) * 1024
	opts.MaxDimension = cfg.MaxDimension
	opts.InitialQuality = cfg.InitialQuality
	opts.OutputFormat = format.Parse(cfg.OutputFormat)
	opts.OrientationFix = cfg.OrientationFix
	opts.UseParallel = cfg.UseParallel
	return opts
}

// newHandler builds the routes and the middleware chain.
func newHandler(cfg *config.Config, c *converter.Compressor) http.Handler {
	h := handler.New(c, cfg.MaxUploadMB, defaultOptions(cfg))

	mux := http.NewServeMux()
	mux.HandleFunc("/compress", h.Compress)
	mux.HandleFunc("/health", h.Health)
	mux.Handle("/metrics", promhttp.Handler())

	// Outermost first: the logger assigns the request ID the others log with
	return middleware.Logger(
		middleware.Recovery(
			middleware.Security(
				middleware.RateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst)(
					middleware.ConcurrencyLimit(cfg.MaxConcurrent)(mux),
				),
			),
		),
	)
}
