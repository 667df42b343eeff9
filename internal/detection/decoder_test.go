package detection

import (
	"errors"
	"math"
	"testing"
)

// tinyConfig is a 4x4 input, one 2x2 output (stride 2), one anchor, two classes.
func tinyConfig() DecoderConfig {
	return DecoderConfig{
		InputWidth:  4,
		InputHeight: 4,
		NumOutput:   1,
		NumAnchor:   1,
		NumCategory: 2,
		Anchors:     []float32{2, 2},
		NMSThresh:   0.25,
	}
}

func tinyTensor() RawTensor {
	t := RawTensor{Height: 2, Width: 2, Channels: 7, Data: make([]float32, 2*2*7)}
	// cell (h=0, w=1): offsets, objectness, class scores
	cell := t.Data[(0*2+1)*7:]
	cell[0], cell[1], cell[2], cell[3] = 0.5, 0.5, 0.5, 0.5
	cell[4] = 0.8
	cell[5], cell[6] = 0.5, 0.9
	return t
}

func TestDecodeSingleCell(t *testing.T) {
	d, err := NewDecoder(tinyConfig())
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}

	boxes, err := d.Decode([]RawTensor{tinyTensor()}, 10, 10, 0.5)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("Decode() returned %d boxes, want 1: %v", len(boxes), boxes)
	}

	got := boxes[0]
	if got.X1 != 20 || got.Y1 != 0 || got.X2 != 40 || got.Y2 != 20 {
		t.Errorf("box = [%d,%d,%d,%d], want [20,0,40,20]", got.X1, got.Y1, got.X2, got.Y2)
	}
	if got.Category != 1 {
		t.Errorf("category = %d, want 1", got.Category)
	}
	if math.Abs(float64(got.Score)-0.72) > 1e-5 {
		t.Errorf("score = %v, want 0.72", got.Score)
	}
}

func TestDecodeThresholdIsExclusive(t *testing.T) {
	d, _ := NewDecoder(tinyConfig())
	raw := tinyTensor()
	cell := raw.Data[(0*2+1)*7:]
	thresh := cell[6] * cell[4]

	boxes, err := d.Decode([]RawTensor{raw}, 1, 1, thresh)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(boxes) != 0 {
		t.Fatalf("score equal to threshold was kept: %v", boxes)
	}
}

func TestDecodeNoPositiveClass(t *testing.T) {
	d, _ := NewDecoder(tinyConfig())
	raw := tinyTensor()
	cell := raw.Data[(0*2+1)*7:]
	cell[5], cell[6] = 0, 0

	boxes, err := d.Decode([]RawTensor{raw}, 1, 1, 0)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(boxes) != 0 {
		t.Fatalf("expected no boxes when every class score is zero, got %v", boxes)
	}
}

func TestDecodeAnisotropicScale(t *testing.T) {
	d, _ := NewDecoder(tinyConfig())
	boxes, err := d.Decode([]RawTensor{tinyTensor()}, 160, 120, 0.3)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("Decode() returned %d boxes, want 1", len(boxes))
	}
	if b := boxes[0]; b.X1 != 320 || b.X2 != 640 || b.Y1 != 0 || b.Y2 != 240 {
		t.Errorf("box = %v, want [320,0,640,240]", b)
	}
}

func TestDecodeShapeErrors(t *testing.T) {
	d, _ := NewDecoder(tinyConfig())

	tests := []struct {
		name    string
		outputs []RawTensor
	}{
		{"wrong output count", nil},
		{"wrong channels", []RawTensor{{Height: 2, Width: 2, Channels: 6, Data: make([]float32, 24)}}},
		{"short data", []RawTensor{{Height: 2, Width: 2, Channels: 7, Data: make([]float32, 10)}}},
		{"non-square stride", []RawTensor{{Height: 2, Width: 1, Channels: 7, Data: make([]float32, 14)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Decode(tt.outputs, 1, 1, 0.3); !errors.Is(err, ErrTensorShape) {
				t.Fatalf("Decode() error = %v, want ErrTensorShape", err)
			}
		})
	}
}

func TestDefaultDecoderConfig(t *testing.T) {
	cfg := DefaultDecoderConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	d, _ := NewDecoder(cfg)
	sw, sh := d.ScaleFor(640, 480)
	if sw != float32(640)/352 || sh != float32(480)/352 {
		t.Errorf("ScaleFor(640,480) = (%v,%v)", sw, sh)
	}

	cfg.Anchors = cfg.Anchors[:4]
	if _, err := NewDecoder(cfg); err == nil {
		t.Error("NewDecoder accepted a short anchor table")
	}
}

func TestHasClass(t *testing.T) {
	boxes := []BoundingBox{
		{Category: 2, Score: 0.9},
		{Category: PersonClass, Score: 0.49},
	}
	if HasClass(boxes, PersonClass, 0.5) {
		t.Error("HasClass matched a person below min score")
	}
	boxes = append(boxes, BoundingBox{Category: PersonClass, Score: 0.5})
	if !HasClass(boxes, PersonClass, 0.5) {
		t.Error("HasClass missed a person at min score")
	}
	if ClassName(PersonClass) != "person" || ClassName(99) != "unknown" {
		t.Error("ClassName mapping wrong")
	}
}
