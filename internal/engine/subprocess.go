package engine

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/preprocess"
)

// maxFrameSize bounds a single framed message from the child.
const maxFrameSize = 64 << 20

// Request is the msgpack body written to the child for every inference.
type Request struct {
	Shape []int     `msgpack:"shape"`
	Data  []float32 `msgpack:"data"`
}

// Response is the msgpack body the child writes back.
type Response struct {
	Outputs []wireTensor `msgpack:"outputs"`
	Error   string       `msgpack:"error"`
}

// SubprocessEngine drives a long-lived inference worker over stdin/stdout.
// Messages are a 4-byte big-endian length followed by a msgpack body.
type SubprocessEngine struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	logger *slog.Logger
}

// StartSubprocess launches command and returns once the child is running.
func StartSubprocess(ctx context.Context, command []string) (*SubprocessEngine, error) {
	if len(command) == 0 {
		return nil, errors.New("empty engine command")
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine %q: %w", command[0], err)
	}

	e := &SubprocessEngine{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		logger: slog.With("component", "engine", "pid", cmd.Process.Pid),
	}

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			e.logger.Debug("engine stderr", "line", sc.Text())
		}
	}()

	e.logger.Info("inference worker started", "command", command[0])
	return e, nil
}

// Infer writes one request and blocks for its reply. Calls are serialized.
func (e *SubprocessEngine) Infer(ctx context.Context, in *preprocess.Tensor) ([]detection.RawTensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := WriteFrame(e.stdin, Request{Shape: in.Shape(), Data: in.Data}); err != nil {
		return nil, err
	}

	var resp Response
	if err := ReadFrame(e.stdout, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("engine error: %s", resp.Error)
	}
	return toRaw(resp.Outputs)
}

// Close ends the child's input and waits for it to exit.
func (e *SubprocessEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	}
	return nil
}

// WriteFrame encodes v with msgpack and writes it length-prefixed.
func WriteFrame(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack frame: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write msgpack frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed msgpack frame into v.
func ReadFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("failed to read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("failed to read msgpack frame: %w", err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack frame: %w", err)
	}
	return nil
}
