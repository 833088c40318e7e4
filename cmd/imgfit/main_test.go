package main

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePNG(t *testing.T, dir string, width, height int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 3), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	path := filepath.Join(dir, "photo.png")
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestCompress_DefaultOutputPath(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 80, 60)

	_, stderr, err := execute(t, "compress", in, "--format", "jpeg", "--max-size", "8KB")
	if err != nil {
		t.Fatalf("compress failed: %v\n%s", err, stderr)
	}

	out := filepath.Join(dir, "photo.min.jpg")
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("expected %s: %v", out, err)
	}
	if len(data) > 8000 {
		t.Errorf("output is %d bytes, want <= 8000", len(data))
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Errorf("output is not a JPEG: %v", err)
	}
	if !strings.Contains(stderr, "100%") {
		t.Errorf("stderr has no final progress: %q", stderr)
	}
	if !strings.Contains(stderr, "photo.min.jpg") {
		t.Errorf("stderr has no summary: %q", stderr)
	}
}

func TestCompress_Stdout(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 20, 10)

	stdout, stderr, err := execute(t, "compress", in, "-o", "-", "--base64", "--quiet", "--workers", "0")
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if !strings.HasPrefix(stdout, "data:image/png;base64,") {
		t.Errorf("stdout = %.40q", stdout)
	}
	if stderr != "" {
		t.Errorf("--quiet wrote to stderr: %q", stderr)
	}
}

func TestCompress_MaxDimension(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 100, 50)
	out := filepath.Join(dir, "small.png")

	if _, _, err := execute(t, "compress", in, "-o", out, "--max-dimension", "40", "--max-size", "0", "-q"); err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 40 || cfg.Height != 20 {
		t.Errorf("output is %dx%d, want 40x20", cfg.Width, cfg.Height)
	}
}

func TestCompress_Errors(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 8, 8)
	notImage := filepath.Join(dir, "notes.txt")
	os.WriteFile(notImage, []byte("hello"), 0o644)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing arg", []string{"compress"}, "arg"},
		{"bad size", []string{"compress", in, "--max-size", "lots"}, "--max-size"},
		{"bad format", []string{"compress", in, "--format", "psd"}, "--format"},
		{"missing file", []string{"compress", filepath.Join(dir, "nope.png")}, "nope.png"},
		{"bad quality", []string{"compress", in, "--quality", "2", "-q"}, "quality"},
		{"not an image", []string{"compress", notImage, "-q"}, "Compression failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDefaultOutputPath(t *testing.T) {
	tests := []struct {
		input, fileName, want string
	}{
		{"photo.png", "photo.jpg", "photo.min.jpg"},
		{filepath.Join("a", "b", "IMG_1.HEIC"), "IMG_1.jpg", filepath.Join("a", "b", "IMG_1.min.jpg")},
	}
	for _, tt := range tests {
		if got := defaultOutputPath(tt.input, tt.fileName); got != tt.want {
			t.Errorf("defaultOutputPath(%q, %q) = %q, want %q", tt.input, tt.fileName, got, tt.want)
		}
	}
}
