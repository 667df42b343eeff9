// Package engine talks to the external neural-network runtime. The runtime
// is opaque: it takes a preprocessed input tensor and returns the raw
// detection-head outputs.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/preprocess"
)

// ErrNoOutputs is returned when the runtime answers without any output tensor.
var ErrNoOutputs = errors.New("engine returned no outputs")

// Engine runs one inference at a time. Implementations are not required to
// be safe for concurrent Infer calls.
type Engine interface {
	Infer(ctx context.Context, in *preprocess.Tensor) ([]detection.RawTensor, error)
	Close() error
}

// Config selects and configures an engine.
type Config struct {
	Kind    string // "grpc" or "subprocess"
	Address string
	Command []string
}

// Open starts the configured engine. Any error here is a load failure.
func Open(ctx context.Context, cfg Config) (Engine, error) {
	switch cfg.Kind {
	case "grpc":
		return DialGRPC(ctx, cfg.Address)
	case "subprocess":
		return StartSubprocess(ctx, cfg.Command)
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}
}

// wireTensor is the transport-neutral form of one output.
type wireTensor struct {
	Height   int       `msgpack:"height"`
	Width    int       `msgpack:"width"`
	Channels int       `msgpack:"channels"`
	Data     []float32 `msgpack:"data"`
}

func (w wireTensor) raw() (detection.RawTensor, error) {
	if n := w.Height * w.Width * w.Channels; n != len(w.Data) {
		return detection.RawTensor{}, fmt.Errorf("%w: %d values for %dx%dx%d", detection.ErrTensorShape, len(w.Data), w.Height, w.Width, w.Channels)
	}
	return detection.RawTensor{Height: w.Height, Width: w.Width, Channels: w.Channels, Data: w.Data}, nil
}

func toRaw(outs []wireTensor) ([]detection.RawTensor, error) {
	if len(outs) == 0 {
		return nil, ErrNoOutputs
	}
	raws := make([]detection.RawTensor, 0, len(outs))
	for i, o := range outs {
		r, err := o.raw()
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		raws = append(raws, r)
	}
	return raws, nil
}
