// Package media prepares screen captures for injection into a conversation
// as image messages.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"slices"

	"golang.org/x/image/draw"
)

// Default limits for images sent to model backends.
const (
	DefaultMaxSide  = 1568
	DefaultMaxBytes = 5 * 1024 * 1024
)

// Capturer grabs the current screen as encoded image bytes. Implementations
// live outside this module.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// CapturerFunc adapts a function to Capturer.
type CapturerFunc func(ctx context.Context) ([]byte, error)

func (f CapturerFunc) Capture(ctx context.Context) ([]byte, error) { return f(ctx) }

// Options bound the normalized screenshot.
type Options struct {
	MaxSide  int
	MaxBytes int
}

// Screenshot is a normalized capture.
type Screenshot struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Resized  bool
}

// Normalize fits a capture within the side and byte limits. Images already
// within limits pass through untouched; larger ones are scaled and
// re-encoded as JPEG, stepping down size then quality until they fit.
func Normalize(data []byte, opts Options) (*Screenshot, error) {
	maxSide := DefaultMaxSide
	maxBytes := DefaultMaxBytes
	if opts.MaxSide > 0 {
		maxSide = opts.MaxSide
	}
	if opts.MaxBytes > 0 {
		maxBytes = opts.MaxBytes
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if len(data) <= maxBytes && width <= maxSide && height <= maxSide {
		return &Screenshot{Data: data, MIMEType: "image/" + format, Width: width, Height: height}, nil
	}

	qualities := []int{85, 75, 65, 55, 45}
	sides := sideSteps(min(maxSide, max(width, height)), maxSide)

	var smallest *Screenshot
	for _, side := range sides {
		for _, quality := range qualities {
			shot, err := scaleJPEG(img, side, quality)
			if err != nil {
				continue
			}
			if smallest == nil || len(shot.Data) < len(smallest.Data) {
				smallest = shot
			}
			if len(shot.Data) <= maxBytes {
				return shot, nil
			}
		}
	}
	if smallest != nil {
		return nil, fmt.Errorf("screenshot could not be reduced below %d bytes (smallest %d)", maxBytes, len(smallest.Data))
	}
	return nil, fmt.Errorf("screenshot could not be encoded")
}

// Capture grabs and normalizes one screenshot.
func Capture(ctx context.Context, c Capturer, opts Options) (*Screenshot, error) {
	raw, err := c.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}
	return Normalize(raw, opts)
}

func scaleJPEG(img image.Image, maxSide, quality int) (*Screenshot, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	newWidth, newHeight := width, height
	if width > maxSide || height > maxSide {
		if width > height {
			newWidth = maxSide
			newHeight = max(1, int(float64(height)*float64(maxSide)/float64(width)))
		} else {
			newHeight = maxSide
			newWidth = max(1, int(float64(width)*float64(maxSide)/float64(height)))
		}
	}

	out := img
	if newWidth != width || newHeight != height {
		dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return &Screenshot{
		Data:     buf.Bytes(),
		MIMEType: "image/jpeg",
		Width:    newWidth,
		Height:   newHeight,
		Resized:  true,
	}, nil
}

// sideSteps returns the distinct candidate sides no larger than start or
// limit, largest first.
func sideSteps(start, limit int) []int {
	var steps []int
	for _, v := range []int{start, 1400, 1200, 1024, 800, 640} {
		if v > 0 && v <= start && v <= limit && !slices.Contains(steps, v) {
			steps = append(steps, v)
		}
	}
	slices.Sort(steps)
	slices.Reverse(steps)
	return steps
}
