package detection

import (
	"errors"
	"fmt"
)

// ErrTensorShape is returned when a raw output does not match the decoder geometry.
var ErrTensorShape = errors.New("unexpected tensor shape")

// RawTensor is one detection-head output in row-major [height][width][channels] order.
// Each cell holds 4*A box offsets, A objectness scores and C class scores.
type RawTensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

func (t RawTensor) validate(numAnchor, numCategory int) error {
	want := numAnchor*5 + numCategory
	if t.Channels != want {
		return fmt.Errorf("%w: %d channels, want %d", ErrTensorShape, t.Channels, want)
	}
	if t.Height <= 0 || t.Width <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrTensorShape, t.Height, t.Width)
	}
	if len(t.Data) != t.Height*t.Width*t.Channels {
		return fmt.Errorf("%w: %d values for %dx%dx%d", ErrTensorShape, len(t.Data), t.Height, t.Width, t.Channels)
	}
	return nil
}
