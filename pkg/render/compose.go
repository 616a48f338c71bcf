// Package render turns cached avatar frames into the image shown to viewers.
//
// Each draw crops the source frame by fractional margins, fits the result
// inside a bounding box without upscaling, and optionally keys out a green
// screen background. The output is published to a [Surface] that any number
// of readers may snapshot while the owning session keeps drawing.
package render

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// ErrInvalidCrop is returned when crop margins are out of range or leave no
// pixels behind.
var ErrInvalidCrop = errors.New("render: invalid crop margins")

// Crop holds fractional margins removed from each side of a frame. Each value
// is in [0, 1) and opposing margins must sum to less than 1.
type Crop struct {
	Left, Right, Top, Bottom float64
}

// Validate checks that the margins leave a non-empty region.
func (c Crop) Validate() error {
	for _, v := range [...]float64{c.Left, c.Right, c.Top, c.Bottom} {
		if v < 0 || v >= 1 || math.IsNaN(v) {
			return fmt.Errorf("%w: margin %v outside [0, 1)", ErrInvalidCrop, v)
		}
	}
	if c.Left+c.Right >= 1 {
		return fmt.Errorf("%w: left+right = %v", ErrInvalidCrop, c.Left+c.Right)
	}
	if c.Top+c.Bottom >= 1 {
		return fmt.Errorf("%w: top+bottom = %v", ErrInvalidCrop, c.Top+c.Bottom)
	}
	return nil
}

// Rect returns the cropped region of a frame with bounds b.
func (c Crop) Rect(b image.Rectangle) image.Rectangle {
	w, h := float64(b.Dx()), float64(b.Dy())
	x0 := b.Min.X + int(math.Round(w*c.Left))
	y0 := b.Min.Y + int(math.Round(h*c.Top))
	x1 := b.Min.X + int(math.Round(w-w*c.Right))
	y1 := b.Min.Y + int(math.Round(h-h*c.Bottom))
	return image.Rect(x0, y0, x1, y1).Intersect(b)
}

// Bounds is the box the cropped frame is fitted into. A zero or negative
// dimension leaves that axis unconstrained.
type Bounds struct {
	MaxWidth, MaxHeight int
}

// Fit returns the display size of a w×h region: the largest size that fits
// inside the bounds with the same aspect ratio, never larger than w×h.
func (b Bounds) Fit(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := 1.0
	if b.MaxWidth > 0 {
		scale = math.Min(scale, float64(b.MaxWidth)/float64(w))
	}
	if b.MaxHeight > 0 {
		scale = math.Min(scale, float64(b.MaxHeight)/float64(h))
	}
	dw := max(1, int(math.Round(float64(w)*scale)))
	dh := max(1, int(math.Round(float64(h)*scale)))
	return dw, dh
}

// ChromaKey makes green-screen pixels transparent: a pixel whose green
// channel exceeds GreenMin while red and blue stay below RedMax and BlueMax
// gets alpha 0.
type ChromaKey struct {
	Enabled  bool
	GreenMin uint8
	RedMax   uint8
	BlueMax  uint8
}

// DefaultChromaKey returns the thresholds used by the bundled avatars.
func DefaultChromaKey() ChromaKey {
	return ChromaKey{Enabled: true, GreenMin: 200, RedMax: 100, BlueMax: 100}
}

// Keyed reports whether a pixel with the given channels is keyed out.
func (k ChromaKey) Keyed(r, g, b uint8) bool {
	return g > k.GreenMin && r < k.RedMax && b < k.BlueMax
}

// Apply zeroes the alpha of every keyed pixel in img in place.
func (k ChromaKey) Apply(img *image.NRGBA) {
	if !k.Enabled {
		return
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			if k.Keyed(row[i], row[i+1], row[i+2]) {
				row[i+3] = 0
			}
		}
	}
}

// Options describes how frames are composited.
type Options struct {
	Crop      Crop
	Bounds    Bounds
	ChromaKey ChromaKey
}

// Validate checks the crop margins.
func (o Options) Validate() error {
	return o.Crop.Validate()
}

// Compose crops src, fits it inside the bounds and applies the colour key. It
// always returns a new image and never modifies src.
func Compose(src image.Image, o Options) (*image.NRGBA, error) {
	if src == nil {
		return nil, errors.New("render: nil source image")
	}
	if err := o.Crop.Validate(); err != nil {
		return nil, err
	}
	region := o.Crop.Rect(src.Bounds())
	if region.Empty() {
		return nil, fmt.Errorf("%w: empty region for %v", ErrInvalidCrop, src.Bounds())
	}

	dw, dh := o.Bounds.Fit(region.Dx(), region.Dy())
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	if dw == region.Dx() && dh == region.Dy() {
		draw.Draw(dst, dst.Bounds(), src, region.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), src, region, draw.Src, nil)
	}
	o.ChromaKey.Apply(dst)
	return dst, nil
}
