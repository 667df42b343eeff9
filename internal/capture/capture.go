// Package capture reads JPEG frames from cameras and video sources.
package capture

import (
	"context"
	"errors"
	"strings"
)

// ErrUnsupportedSource is returned for an empty or unrecognized device.
var ErrUnsupportedSource = errors.New("unsupported capture source")

// ErrStreamEnded is returned when a source that produced frames reaches its
// end cleanly, such as a video file.
var ErrStreamEnded = errors.New("capture stream ended")

// ErrSourceFailed is returned when the source process fails or ends
// without producing a single frame.
var ErrSourceFailed = errors.New("capture source failed")

// Reader produces encoded JPEG frames until ctx is cancelled or the source
// fails. emit must not retain the slice after returning unless it owns it;
// readers always pass a freshly allocated buffer.
type Reader interface {
	Read(ctx context.Context, emit func(jpeg []byte)) error
}

// Config describes a capture source.
type Config struct {
	Device  string
	FPS     int
	Width   int
	Height  int
	Quality int // ffmpeg -q:v, 2 (best) to 31
}

// NewReader picks a reader for cfg.Device: HTTP image endpoints are polled,
// everything else goes through ffmpeg.
func NewReader(cfg Config) (Reader, error) {
	if cfg.Device == "" {
		return nil, ErrUnsupportedSource
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if isHTTPImageEndpoint(cfg.Device) {
		return NewHTTPPoller(cfg), nil
	}
	return NewFFmpeg(cfg), nil
}

func isHTTPImageEndpoint(device string) bool {
	return (strings.HasPrefix(device, "http://") || strings.HasPrefix(device, "https://")) &&
		(strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") || strings.Contains(device, "image"))
}

// extractJPEGFrame removes and returns the first complete JPEG (FFD8..FFD9)
// from buffer, or nil when none is complete yet.
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	if len(buf) < 4 {
		return nil
	}

	start := -1
	for i := 0; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD8 {
			start = i
			break
		}
	}
	if start == -1 {
		// keep a trailing 0xFF in case the marker is split
		if buf[len(buf)-1] == 0xFF {
			*buffer = buf[len(buf)-1:]
		} else {
			*buffer = buf[:0]
		}
		return nil
	}

	end := -1
	for i := start + 2; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD9 {
			end = i + 2
			break
		}
	}
	if end == -1 {
		if start > 0 {
			*buffer = append(buf[:0], buf[start:]...)
		}
		return nil
	}

	frame := make([]byte, end-start)
	copy(frame, buf[start:end])
	*buffer = append(buf[:0], buf[end:]...)
	return frame
}
