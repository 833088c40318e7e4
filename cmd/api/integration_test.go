package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/chai2010/webp"

	"github.com/harliandi/go-imgfit/internal/config"
	"github.com/harliandi/go-imgfit/internal/converter"
	"github.com/harliandi/go-imgfit/internal/middleware"
	"github.com/harliandi/go-imgfit/pkg/codec"
	"github.com/harliandi/go-imgfit/pkg/quality"
)

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.RateLimitPerSec = 1000
	cfg.RateLimitBurst = 1000
	cfg.MaxConcurrent = 50
	cfg.WorkerCount = 2
	return cfg
}

// newTestServer runs the full stack with its own worker pool.
func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	engine := quality.New(codec.New(), quality.WithPixelCap(cfg.PixelCap))
	pool := converter.NewWorkerPool(engine, cfg.WorkerCount)
	pool.Start()

	server := httptest.NewServer(newHandler(cfg, newCompressor(cfg, engine, pool)))
	t.Cleanup(func() {
		server.Close()
		pool.Stop()
	})
	return server
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func postImage(t *testing.T, url, filename, contentType string, data []byte) *http.Response {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, _ := writer.CreatePart(header)
	part.Write(data)
	writer.Close()

	resp, err := http.Post(url, writer.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("Compress request failed: %v", err)
	}
	return resp
}

// TestIntegration_EndToEnd tests the full HTTP request cycle using httptest
func TestIntegration_EndToEnd(t *testing.T) {
	server := newTestServer(t, testConfig())

	// Test health endpoint
	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Health endpoint returned status %d", resp.StatusCode)
	}

	resp = postImage(t, server.URL+"/compress?format=webp&max_size_kb=64", "photo.png", "image/png", testPNG(t, 120, 80))
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Compress returned %d: %s", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/webp" {
		t.Errorf("Expected Content-Type image/webp, got %s", ct)
	}
	if resp.Header.Get(middleware.RequestIDHeader) == "" {
		t.Error("Expected a request ID header")
	}
	if mode := resp.Header.Get("X-Execution-Mode"); mode != "isolated" {
		t.Errorf("X-Execution-Mode = %q, want isolated", mode)
	}
	if len(data) > 64*1024 {
		t.Errorf("Output is %d bytes, over the 64KB target", len(data))
	}
	cfg, err := webp.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Output is not WebP: %v", err)
	}
	if cfg.Width != 120 || cfg.Height != 80 {
		t.Errorf("Output is %dx%d, want 120x80", cfg.Width, cfg.Height)
	}
}

// TestIntegration_ErrorHandling tests various error scenarios
func TestIntegration_ErrorHandling(t *testing.T) {
	server := newTestServer(t, testConfig())

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantStatus  int
	}{
		{"corrupt png", "a.png", "image/png", []byte("not really a png"), http.StatusUnprocessableEntity},
		{"unsupported type", "a.tiff", "image/tiff", []byte("II*\x00"), http.StatusUnsupportedMediaType},
		{"heic disabled", "a.heic", "image/heic", []byte("\x00\x00\x00\x18ftypheic"), http.StatusUnsupportedMediaType},
		{"empty file", "a.png", "image/png", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postImage(t, server.URL+"/compress", tt.filename, tt.contentType, tt.data)
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var body middleware.ErrorBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if body.Error == "" {
				t.Error("Expected an error message")
			}
			if body.RequestID != resp.Header.Get(middleware.RequestIDHeader) {
				t.Errorf("request_id %q does not match header", body.RequestID)
			}
		})
	}

	resp, err := http.Get(server.URL + "/compress")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /compress = %d, want 405", resp.StatusCode)
	}
}

func TestIntegration_AcceptHEIF(t *testing.T) {
	cfg := testConfig()
	cfg.AcceptHEIF = true
	server := newTestServer(t, cfg)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		SupportedTypes []string `json:"supported_types"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(body.SupportedTypes, ",")
	if !strings.Contains(joined, "image/heic") || !strings.Contains(joined, "image/jpeg") {
		t.Errorf("supported_types = %v", body.SupportedTypes)
	}
}

func TestDefaultOptions(t *testing.T) {
	cfg := testConfig()
	cfg.TargetSizeKB = 250
	cfg.OutputFormat = "webp"
	cfg.MaxDimension = 1920
	cfg.UseParallel = false

	opts := defaultOptions(cfg)
	if opts.MaxSizeBytes != 250*1024 {
		t.Errorf("MaxSizeBytes = %d", opts.MaxSizeBytes)
	}
	if opts.OutputFormat != "image/webp" {
		t.Errorf("OutputFormat = %q", opts.OutputFormat)
	}
	if opts.MaxDimension != 1920 || opts.UseParallel {
		t.Errorf("opts = %+v", opts)
	}
	if opts.OutputEncoding != converter.EncodingBinary {
		t.Errorf("OutputEncoding = %q", opts.OutputEncoding)
	}
}

// TestIntegration_FullMiddlewareStack tests the complete middleware chain
func TestIntegration_FullMiddlewareStack(t *testing.T) {
	server := newTestServer(t, testConfig())

	// Test health endpoint through middleware stack
	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	expectedHeaders := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'",
		"Referrer-Policy":         "no-referrer",
	}
	for header, wantValue := range expectedHeaders {
		if got := resp.Header.Get(header); got != wantValue {
			t.Errorf("%s = %s, want %s", header, got, wantValue)
		}
	}
}

func TestIntegration_Metrics(t *testing.T) {
	server := newTestServer(t, testConfig())

	resp := postImage(t, server.URL+"/compress", "a.png", "image/png", testPNG(t, 16, 16))
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"imgfit_compressions_total", "imgfit_requests_total", "imgfit_worker_pool_queue_size"} {
		if !bytes.Contains(body, []byte(name)) {
			t.Errorf("/metrics is missing %s", name)
		}
	}
}

// TestIntegration_RateLimiting tests rate limiting middleware
func TestIntegration_RateLimiting(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerSec = 1
	cfg.RateLimitBurst = 1
	server := newTestServer(t, cfg)

	// First request should pass
	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("First request should pass, got %d", resp.StatusCode)
	}

	// Second request immediately should be rate limited
	resp, err = http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("Second request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected rate limit status %d, got %d", http.StatusTooManyRequests, resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Expected Retry-After")
	}
}

// TestIntegration_ConcurrentCompressions tests multiple concurrent requests
// sharing the worker pool
func TestIntegration_ConcurrentCompressions(t *testing.T) {
	server := newTestServer(t, testConfig())
	data := testPNG(t, 64, 64)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes []int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			part, _ := writer.CreateFormFile("file", "a.png")
			part.Write(data)
			writer.Close()

			resp, err := http.Post(server.URL+"/compress?format=jpeg&max_size_kb=4", writer.FormDataContentType(), body)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)

			mu.Lock()
			codes = append(codes, resp.StatusCode)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(codes) != 6 {
		t.Fatalf("%d of 6 requests completed", len(codes))
	}
	for _, code := range codes {
		if code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", code)
		}
	}
}

// BenchmarkHTTPRequest benchmarks a full HTTP request using test server
func BenchmarkHTTPRequest(b *testing.B) {
	cfg := testConfig()
	cfg.RateLimitPerSec = 1 << 20
	cfg.RateLimitBurst = 1 << 20
	engine := quality.New(codec.New())
	server := httptest.NewServer(newHandler(cfg, newCompressor(cfg, engine, nil)))
	defer server.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := http.Get(server.URL + "/health")
		if err == nil {
			resp.Body.Close()
		}
	}
}
