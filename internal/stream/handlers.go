package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const boundary = "frame"

// Renderer turns a snapshot into the bytes sent to clients.
type Renderer interface {
	Render(s Snapshot) []byte
}

type passthrough struct{}

func (passthrough) Render(s Snapshot) []byte { return s.JPEG }

// Server exposes /snapshot.jpg and /stream.mjpg over a SnapshotBuffer.
type Server struct {
	buf      *SnapshotBuffer
	renderer Renderer
	poll     time.Duration
	logger   *slog.Logger
}

// NewServer creates handlers for buf. A nil renderer serves frames as captured.
func NewServer(buf *SnapshotBuffer, renderer Renderer, logger *slog.Logger) *Server {
	if renderer == nil {
		renderer = passthrough{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		buf:      buf,
		renderer: renderer,
		poll:     200 * time.Millisecond,
		logger:   logger.With("component", "stream"),
	}
}

// Register mounts the handlers on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /snapshot.jpg", s.ServeSnapshot)
	mux.HandleFunc("GET /stream.mjpg", s.ServeStream)
}

// ServeSnapshot writes the latest frame, or 503 when nothing was captured yet.
func (s *Server) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.buf.Latest()
	if !ok {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	frame := s.renderer.Render(snap)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}

// ServeStream writes one multipart part per distinct frame id until the
// client disconnects or the buffer is closed.
func (s *Server) ServeStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("client connected", "remote", r.RemoteAddr)
	defer s.logger.Debug("client disconnected", "remote", r.RemoteAddr)

	var (
		lastID uint64
		sent   bool
	)
	for {
		changed := s.buf.Changed()
		if snap, ok := s.buf.Latest(); ok && (!sent || snap.ID != lastID) {
			if err := writePart(w, s.renderer.Render(snap)); err != nil {
				return
			}
			flusher.Flush()
			lastID, sent = snap.ID, true
		}

		select {
		case <-r.Context().Done():
			return
		case <-s.buf.Done():
			fmt.Fprintf(w, "--%s--\r\n", boundary)
			flusher.Flush()
			return
		case <-changed:
		case <-time.After(s.poll):
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
