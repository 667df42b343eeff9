// Package preprocess converts captured JPEG frames into model input tensors.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Tensor is a planar BGR float32 image, [3][Height][Width], scaled to [0,1].
type Tensor struct {
	Width  int
	Height int
	Data   []float32
}

// Shape returns the tensor dimensions as [C, H, W].
func (t *Tensor) Shape() []int {
	return []int{3, t.Height, t.Width}
}

// Converter resizes frames to a fixed model input size.
type Converter struct {
	width  int
	height int
	scaler draw.Scaler
}

// NewConverter returns a bilinear Converter producing width x height tensors.
func NewConverter(width, height int) *Converter {
	return &Converter{width: width, height: height, scaler: draw.BiLinear}
}

// DecodeJPEG decodes a captured frame.
func DecodeJPEG(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode jpeg: %w", err)
	}
	return img, nil
}

// Convert resizes img and packs it into a BGR CHW tensor divided by 255.
func (c *Converter) Convert(img image.Image) *Tensor {
	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	c.scaler.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := c.width * c.height
	t := &Tensor{Width: c.width, Height: c.height, Data: make([]float32, 3*plane)}
	for y := 0; y < c.height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < c.width; x++ {
			px := row[x*4:]
			i := y*c.width + x
			t.Data[i] = float32(px[2]) / 255
			t.Data[plane+i] = float32(px[1]) / 255
			t.Data[2*plane+i] = float32(px[0]) / 255
		}
	}
	return t
}
