// Package detection turns raw YOLO-FastestV2 head outputs into filtered
// bounding boxes.
//
// Decoding is a pure function of its inputs: a Decoder holds only immutable
// geometry and may be shared across goroutines.
package detection

import "fmt"

// DefaultAnchors are the YOLO-FastestV2 priors, laid out as
// [output][anchor][w,h].
var DefaultAnchors = []float32{
	12.64, 19.39, 37.88, 51.48, 55.71, 138.31,
	126.91, 78.23, 131.57, 214.55, 279.92, 258.87,
}

// DecoderConfig describes the detection-head geometry.
type DecoderConfig struct {
	InputWidth  int
	InputHeight int
	NumOutput   int
	NumAnchor   int
	NumCategory int
	Anchors     []float32
	NMSThresh   float32
}

// DefaultDecoderConfig returns the 352x352, two-scale, 80-class layout.
func DefaultDecoderConfig() DecoderConfig {
	anchors := make([]float32, len(DefaultAnchors))
	copy(anchors, DefaultAnchors)
	return DecoderConfig{
		InputWidth:  352,
		InputHeight: 352,
		NumOutput:   2,
		NumAnchor:   3,
		NumCategory: 80,
		Anchors:     anchors,
		NMSThresh:   0.25,
	}
}

// Validate checks that the anchor table matches the head layout.
func (c DecoderConfig) Validate() error {
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.NumOutput <= 0 || c.NumAnchor <= 0 || c.NumCategory <= 0 {
		return fmt.Errorf("invalid head layout: outputs=%d anchors=%d categories=%d", c.NumOutput, c.NumAnchor, c.NumCategory)
	}
	if want := c.NumOutput * c.NumAnchor * 2; len(c.Anchors) != want {
		return fmt.Errorf("anchor table has %d values, want %d", len(c.Anchors), want)
	}
	if c.NMSThresh < 0 || c.NMSThresh > 1 {
		return fmt.Errorf("nms threshold %v out of [0,1]", c.NMSThresh)
	}
	return nil
}

// Decoder maps raw head outputs to boxes.
type Decoder struct {
	cfg DecoderConfig
}

// NewDecoder validates cfg and returns a Decoder.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{cfg: cfg}, nil
}

// Config returns the decoder geometry.
func (d *Decoder) Config() DecoderConfig {
	return d.cfg
}

// ScaleFor returns the X/Y factors mapping model input coordinates back to a
// srcW x srcH frame.
func (d *Decoder) ScaleFor(srcW, srcH int) (scaleW, scaleH float32) {
	return float32(srcW) / float32(d.cfg.InputWidth), float32(srcH) / float32(d.cfg.InputHeight)
}

// Decode returns the NMS-filtered boxes for one inference. Candidates whose
// best objectness-weighted class score is <= thresh are discarded.
func (d *Decoder) Decode(outputs []RawTensor, scaleW, scaleH, thresh float32) ([]BoundingBox, error) {
	if len(outputs) != d.cfg.NumOutput {
		return nil, fmt.Errorf("%w: got %d outputs, want %d", ErrTensorShape, len(outputs), d.cfg.NumOutput)
	}

	var candidates []BoundingBox
	for i, out := range outputs {
		if err := out.validate(d.cfg.NumAnchor, d.cfg.NumCategory); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		if d.cfg.InputHeight/out.Height != d.cfg.InputWidth/out.Width {
			return nil, fmt.Errorf("%w: output %d has non-square stride", ErrTensorShape, i)
		}
		candidates = d.appendCandidates(candidates, i, out, scaleW, scaleH, thresh)
	}
	return NMS(candidates, d.cfg.NMSThresh), nil
}

func (d *Decoder) appendCandidates(dst []BoundingBox, output int, out RawTensor, scaleW, scaleH, thresh float32) []BoundingBox {
	na := d.cfg.NumAnchor
	stride := float32(d.cfg.InputHeight / out.Height)

	for h := 0; h < out.Height; h++ {
		for w := 0; w < out.Width; w++ {
			base := (h*out.Width + w) * out.Channels
			values := out.Data[base : base+out.Channels]

			for b := 0; b < na; b++ {
				cate, sc := d.category(values, b)
				if cate < 0 || sc <= thresh {
					continue
				}

				anchorW := d.cfg.Anchors[output*na*2+b*2+0]
				anchorH := d.cfg.Anchors[output*na*2+b*2+1]

				bcx := ((values[b*4+0]*2 - 0.5) + float32(w)) * stride
				bcy := ((values[b*4+1]*2 - 0.5) + float32(h)) * stride
				bw := square(values[b*4+2]*2) * anchorW
				bh := square(values[b*4+3]*2) * anchorH

				dst = append(dst, BoundingBox{
					X1:       truncate((bcx - 0.5*bw) * scaleW),
					Y1:       truncate((bcy - 0.5*bh) * scaleH),
					X2:       truncate((bcx + 0.5*bw) * scaleW),
					Y2:       truncate((bcy + 0.5*bh) * scaleH),
					Category: cate,
					Score:    sc,
				})
			}
		}
	}
	return dst
}

// category returns the best objectness-weighted class for anchor b, or -1
// when no class scores above zero.
func (d *Decoder) category(values []float32, b int) (int, float32) {
	na := d.cfg.NumAnchor
	obj := values[4*na+b]
	classes := values[5*na : 5*na+d.cfg.NumCategory]

	cate, best := -1, float32(0)
	for i, cls := range classes {
		if s := cls * obj; s > best {
			best = s
			cate = i
		}
	}
	return cate, best
}

func square(v float32) float32 {
	return v * v
}

// truncate converts toward zero.
func truncate(v float32) int {
	return int(v)
}
