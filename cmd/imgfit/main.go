// Command imgfit compresses image files to fit a size budget from the
// command line, using the same search as the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/harliandi/go-imgfit/internal/converter"
	"github.com/harliandi/go-imgfit/pkg/codec"
	"github.com/harliandi/go-imgfit/pkg/format"
	"github.com/harliandi/go-imgfit/pkg/progress"
	"github.com/harliandi/go-imgfit/pkg/quality"
)

type compressFlags struct {
	output       string
	maxSize      string
	maxDimension int
	quality      float64
	format       string
	noOrient     bool
	workers      int
	base64       bool
	heif         bool
	quiet        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "imgfit",
		Short:        "Compress images to fit a size budget",
		SilenceUsage: true,
	}
	root.AddCommand(newCompressCmd())
	return root
}

func newCompressCmd() *cobra.Command {
	var f compressFlags

	cmd := &cobra.Command{
		Use:   "compress <image>",
		Short: "Compress an image to fit a maximum file size",
		Long: `Compress an image to fit a maximum file size.

Quality is lowered first, then the image is downscaled step by step until
the output fits. When nothing fits, the smallest result is written.

Examples:
  imgfit compress photo.jpg --max-size 500KB
  imgfit compress scan.png --format webp --max-dimension 1920 -o scan.webp
  imgfit compress photo.heic --heif --max-size 1MB
  imgfit compress logo.png --base64 -o -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(cmd, args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.output, "output", "o", "", `Output path, "-" for stdout (default: <name>.min.<ext> next to the input)`)
	cmd.Flags().StringVar(&f.maxSize, "max-size", "500KB", `Maximum output size, e.g. 200KB or 1.5MiB ("0" encodes once)`)
	cmd.Flags().IntVar(&f.maxDimension, "max-dimension", 0, "Cap width and height in pixels")
	cmd.Flags().Float64Var(&f.quality, "quality", 1.0, "Starting quality in (0, 1]")
	cmd.Flags().StringVar(&f.format, "format", "", "Output format: jpeg, png, webp, gif, bmp (default: keep input format)")
	cmd.Flags().BoolVar(&f.noOrient, "no-orient", false, "Do not apply EXIF orientation")
	cmd.Flags().IntVar(&f.workers, "workers", 1, "Worker pool size, 0 runs inline")
	cmd.Flags().BoolVar(&f.base64, "base64", false, "Write a base64 data URL instead of binary")
	cmd.Flags().BoolVar(&f.heif, "heif", false, "Accept HEIC/HEIF input")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Do not print progress")
	return cmd
}

func runCompress(cmd *cobra.Command, path string, f compressFlags) error {
	maxSize, err := humanize.ParseBytes(f.maxSize)
	if err != nil {
		return fmt.Errorf("invalid --max-size %q: %w", f.maxSize, err)
	}
	outFormat := ""
	if f.format != "" {
		if outFormat = format.Parse(f.format); outFormat == "" {
			return fmt.Errorf("unknown --format %q", f.format)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	engine := quality.New(codec.New())
	c := converter.New(engine)
	if f.heif {
		c.SetSupportedTypes(append(append([]string{}, format.Supported...), format.HEIC, format.HEIF))
	}
	if f.workers > 0 {
		pool := converter.NewWorkerPool(engine, f.workers)
		pool.Start()
		defer pool.Stop()
		c.SetWorkerPool(pool, 1)
	}

	stderr := cmd.ErrOrStderr()
	opts := converter.DefaultOptions()
	opts.MaxSizeBytes = int64(maxSize)
	opts.MaxDimension = f.maxDimension
	opts.InitialQuality = f.quality
	opts.OutputFormat = outFormat
	opts.OrientationFix = !f.noOrient
	opts.UseParallel = f.workers > 0
	if f.base64 {
		opts.OutputEncoding = converter.EncodingBase64
	}
	if !f.quiet {
		opts.Progress = func(percent int) {
			fmt.Fprintf(stderr, "\rcompressing %s %3d%%", filepath.Base(path), percent)
		}
	}

	out, err := c.Compress(cmd.Context(), converter.Input{
		Data:     data,
		Name:     path,
		MIMEType: format.FromName(path),
	}, opts)
	if !f.quiet {
		fmt.Fprintln(stderr)
	}
	if err != nil {
		if progress.IsCancelled(err) {
			return errors.New("cancelled")
		}
		var ce *converter.CompressionError
		if errors.As(err, &ce) && ce.Suggestion != "" {
			return fmt.Errorf("%s %s", ce.Message, ce.Suggestion)
		}
		return err
	}

	payload := out.Data
	if f.base64 {
		payload = []byte(out.DataURL + "\n")
	}

	dest := f.output
	if dest == "" {
		dest = defaultOutputPath(path, out.FileName)
	}
	if err := writeOutput(cmd.OutOrStdout(), dest, payload); err != nil {
		return err
	}

	if !f.quiet {
		fmt.Fprintf(stderr, "%s: %s -> %s, %dx%d q=%.2f (%s)\n",
			dest, humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(len(out.Data))),
			out.Width, out.Height, out.Quality, out.Mode)
		if maxSize > 0 && uint64(len(out.Data)) > maxSize {
			fmt.Fprintf(stderr, "warning: could not fit %s, wrote the smallest result\n", humanize.IBytes(maxSize))
		}
	}
	return nil
}

// defaultOutputPath places "<base>.min.<ext>" next to the input.
func defaultOutputPath(input, fileName string) string {
	ext := filepath.Ext(fileName)
	return filepath.Join(filepath.Dir(input), strings.TrimSuffix(fileName, ext)+".min"+ext)
}

func writeOutput(stdout io.Writer, dest string, payload []byte) error {
	if dest == "-" {
		_, err := stdout.Write(payload)
		return err
	}
	return os.WriteFile(dest, payload, 0o644)
}
