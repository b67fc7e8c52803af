// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"image"
	"math/rand/v2"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// DefaultImageSize is the side of the square images fed to the models.
const DefaultImageSize = 224

var (
	// ImageNetMean is the per channel (RGB) mean used to normalize images.
	ImageNetMean = [3]float64{0.485, 0.456, 0.406}

	// ImageNetStd is the per channel (RGB) standard deviation used to normalize images.
	ImageNetStd = [3]float64{0.229, 0.224, 0.225}
)

// Transform converts decoded images to the normalized rows used by the models.
//
// When Augment is set (train split only), it applies random flips, a 90 degrees rotation and a
// color jitter before normalizing.
type Transform struct {
	Size      int
	Augment   bool
	Mean, Std [3]float64

	// JitterFactor is the maximum relative change of brightness, contrast and saturation.
	JitterFactor float64

	rng *rand.Rand
}

// EvalTransform resizes and normalizes images, without any random augmentation.
func EvalTransform(size int) *Transform {
	return &Transform{Size: size, Mean: ImageNetMean, Std: ImageNetStd}
}

// TrainTransform is like EvalTransform, but also applies random augmentations drawn from rng.
func TrainTransform(size int, rng *rand.Rand) *Transform {
	t := EvalTransform(size)
	t.Augment = true
	t.JitterFactor = 0.2
	t.rng = rng
	return t
}

// RowLen returns the number of values of a transformed image.
func (t *Transform) RowLen() int {
	return t.Size * t.Size * 3
}

// Apply transforms img into a normalized row in height, width, channel order.
func (t *Transform) Apply(img image.Image) []float64 {
	nrgba := imaging.Resize(img, t.Size, t.Size, imaging.Linear)
	if t.Augment && t.rng != nil {
		if t.rng.Float64() < 0.5 {
			nrgba = imaging.FlipH(nrgba)
		}
		if t.rng.Float64() < 0.5 {
			nrgba = imaging.FlipV(nrgba)
		}
		if t.rng.Float64() < 0.5 {
			nrgba = imaging.Rotate90(nrgba)
		}
		if t.JitterFactor > 0 {
			nrgba = imaging.AdjustBrightness(nrgba, t.jitterPercentage())
			nrgba = imaging.AdjustContrast(nrgba, t.jitterPercentage())
			nrgba = imaging.AdjustSaturation(nrgba, t.jitterPercentage())
		}
	}

	row := make([]float64, t.RowLen())
	bounds := nrgba.Bounds()
	pos := 0
	for y := 0; y < t.Size; y++ {
		offset := (y - bounds.Min.Y) * nrgba.Stride
		for x := 0; x < t.Size; x++ {
			pixel := nrgba.Pix[offset+(x-bounds.Min.X)*4:]
			for channel := 0; channel < 3; channel++ {
				value := float64(pixel[channel]) / 255.0
				row[pos] = (value - t.Mean[channel]) / t.Std[channel]
				pos++
			}
		}
	}
	return row
}

// jitterPercentage draws a change in [-JitterFactor, JitterFactor], in the percentage units imaging uses.
func (t *Transform) jitterPercentage() float64 {
	return (2*t.rng.Float64() - 1) * t.JitterFactor * 100
}

// LoadImage decodes the image file at path and applies the transform.
func (t *Transform) LoadImage(path string) ([]float64, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %q", path)
	}
	return t.Apply(img), nil
}
