// Package geometry plans output pixel dimensions under a max-dimension cap
// and a total pixel cap, preserving aspect ratio.
package geometry

import "math"

// MaxSurfacePixels is the largest surface the engine allocates. Larger
// surfaces fail to allocate on constrained platforms (16 megapixels).
const MaxSurfacePixels = 16_777_216

// Dimensions is the outcome of Plan.
type Dimensions struct {
	Width       int
	Height      int
	WasAdjusted bool
}

// Plan computes target dimensions for a width x height source.
// maxDimension <= 0 disables the side cap, pixelCap <= 0 disables the pixel
// cap. Width and height must be positive.
func Plan(width, height, maxDimension, pixelCap int) Dimensions {
	d := Dimensions{Width: width, Height: height}

	if maxDimension > 0 && (width > maxDimension || height > maxDimension) {
		ratio := math.Min(
			float64(maxDimension)/float64(width),
			float64(maxDimension)/float64(height),
		)
		d.Width = atLeastOne(int(math.Round(float64(width) * ratio)))
		d.Height = atLeastOne(int(math.Round(float64(height) * ratio)))
		d.WasAdjusted = true
	}

	if pixelCap > 0 {
		total := int64(d.Width) * int64(d.Height)
		if total > int64(pixelCap) {
			s := math.Sqrt(float64(pixelCap) / float64(total))
			d.Width = atLeastOne(int(math.Floor(float64(d.Width) * s)))
			d.Height = atLeastOne(int(math.Floor(float64(d.Height) * s)))
			// Extremely thin images can still overflow after the 1px floor.
			if int64(d.Width)*int64(d.Height) > int64(pixelCap) {
				if d.Width >= d.Height {
					d.Width = atLeastOne(pixelCap / d.Height)
				} else {
					d.Height = atLeastOne(pixelCap / d.Width)
				}
			}
			d.WasAdjusted = true
		}
	}

	return d
}

// Scale multiplies both sides by factor, rounding to nearest with a 1px minimum.
func Scale(width, height int, factor float64) (int, int) {
	return atLeastOne(int(math.Round(float64(width) * factor))),
		atLeastOne(int(math.Round(float64(height) * factor)))
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
