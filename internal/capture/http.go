package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPPoller fetches a still JPEG endpoint at a fixed rate.
type HTTPPoller struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewHTTPPoller returns a poller for cfg.Device.
func NewHTTPPoller(cfg Config) *HTTPPoller {
	return &HTTPPoller{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.With("component", "capture", "device", cfg.Device),
	}
}

func (p *HTTPPoller) interval() time.Duration {
	interval := time.Second / time.Duration(p.cfg.FPS)
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

// Read polls until ctx is cancelled. The first fetch must succeed; later
// failures are logged and skipped.
func (p *HTTPPoller) Read(ctx context.Context, emit func([]byte)) error {
	frame, err := p.fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p.cfg.Device, err)
	}
	emit(frame)

	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame, err := p.fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Warn("error fetching frame", "error", err)
				continue
			}
			emit(frame)
		}
	}
}

func (p *HTTPPoller) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Device, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
