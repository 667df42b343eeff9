package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpeg decodes rtsp, http, file and V4L2 sources into an MJPEG pipe.
type FFmpeg struct {
	cfg    Config
	binary string
	logger *slog.Logger
}

// NewFFmpeg returns a reader running the ffmpeg binary on PATH.
func NewFFmpeg(cfg Config) *FFmpeg {
	if cfg.Quality <= 0 {
		cfg.Quality = 5
	}
	return &FFmpeg{cfg: cfg, binary: "ffmpeg", logger: slog.With("component", "capture", "device", cfg.Device)}
}

func (f *FFmpeg) args() []string {
	fps := strconv.Itoa(f.cfg.FPS)
	q := strconv.Itoa(f.cfg.Quality)
	out := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", q, "-"}

	switch d := f.cfg.Device; {
	case strings.HasPrefix(d, "rtsp://"):
		return append([]string{"-rtsp_transport", "tcp", "-i", d, "-r", fps}, out...)
	case strings.HasPrefix(d, "http://"), strings.HasPrefix(d, "https://"):
		return append([]string{"-i", d, "-r", fps}, out...)
	case strings.HasPrefix(d, "/dev/video"):
		in := []string{"-f", "v4l2", "-framerate", fps}
		if f.cfg.Width > 0 && f.cfg.Height > 0 {
			in = append(in, "-video_size", fmt.Sprintf("%dx%d", f.cfg.Width, f.cfg.Height))
		}
		return append(append(in, "-i", d), out...)
	default:
		// local file, paced at its native rate
		return append([]string{"-re", "-i", d, "-r", fps}, out...)
	}
}

// Read runs ffmpeg until ctx is cancelled. A clean exit after at least one
// frame returns ErrStreamEnded; a failing exit, or one with no frames,
// returns ErrSourceFailed.
func (f *FFmpeg) Read(ctx context.Context, emit func([]byte)) error {
	cmd := exec.CommandContext(ctx, f.binary, f.args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	f.logger.Info("capture started", "fps", f.cfg.FPS)

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			f.logger.Debug("ffmpeg", "line", sc.Text())
		}
	}()

	var frames uint64
	readErr := f.pump(stdout, func(b []byte) {
		frames++
		emit(b)
	})
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return fmt.Errorf("failed to read ffmpeg output: %w", readErr)
	}
	if waitErr != nil {
		return fmt.Errorf("%w: ffmpeg exited after %d frames: %v", ErrSourceFailed, frames, waitErr)
	}
	if frames == 0 {
		return fmt.Errorf("%w: ffmpeg produced no frames", ErrSourceFailed)
	}
	return ErrStreamEnded
}

func (f *FFmpeg) pump(r io.Reader, emit func([]byte)) error {
	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buffer)
				if frame == nil {
					break
				}
				emit(frame)
			}
		}
		if err != nil {
			return err
		}
	}
}
