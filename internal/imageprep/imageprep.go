// Package imageprep turns an uploaded photo into the fixed-shape float tensor
// the ingredient classifier expects.
package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// DefaultSize is the square edge length the classifier was trained on.
const DefaultSize = 256

const channels = 3

var ErrDecode = errors.New("failed to decode image")

// Tensor is a dense NHWC float32 tensor with a leading batch dimension of 1.
type Tensor struct {
	Shape [4]int64
	Data  []float32
}

// Options configures the per-channel normalization applied to values in
// [0,255]: out = (v - Mean[c]) * Scale[c]. The zero value of Scale is
// replaced with 1. ApplyOrientation honours the JPEG EXIF orientation tag;
// the model was trained on images loaded without it.
type Options struct {
	Size             int
	Mean             [3]float32
	Scale            [3]float32
	ApplyOrientation bool
}

// EfficientNetOptions matches keras.applications.efficientnet.preprocess_input,
// which is a pass-through because the network rescales internally.
func EfficientNetOptions() Options {
	return Options{Size: DefaultSize, Scale: [3]float32{1, 1, 1}}
}

type Preprocessor struct {
	size   int
	mean   [3]float32
	scale  [3]float32
	orient bool
}

func New(opts Options) *Preprocessor {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Scale == ([3]float32{}) {
		opts.Scale = [3]float32{1, 1, 1}
	}
	return &Preprocessor{size: opts.Size, mean: opts.Mean, scale: opts.Scale, orient: opts.ApplyOrientation}
}

// Preprocess decodes a JPEG or PNG, applies its EXIF orientation when enabled,
// resizes it to Size×Size and normalizes it.
func (p *Preprocessor) Preprocess(data []byte) (*Tensor, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	orientation := 1
	if p.orient {
		orientation = Orientation(data)
	}
	return p.FromImage(img, orientation), nil
}

// FromImage resizes img and builds the tensor. Resizing happens before
// reorientation: both targets are square, so the result is the same and the
// rotation only touches Size×Size pixels.
func (p *Preprocessor) FromImage(img image.Image, orientation int) *Tensor {
	dst := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	return p.normalize(Reorient(dst, orientation))
}

func (p *Preprocessor) normalize(img *image.RGBA) *Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]float32, 0, w*h*channels)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			for c := 0; c < channels; c++ {
				data = append(data, (float32(px[c])-p.mean[c])*p.scale[c])
			}
		}
	}
	return &Tensor{
		Shape: [4]int64{1, int64(h), int64(w), channels},
		Data:  data,
	}
}
