// Package telegram pushes person alerts, with the current frame, to a
// Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/database"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/stream"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	sendTimeout    = 30 * time.Second
)

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	ChatID   string
	// APIBase overrides the Bot API host, for tests.
	APIBase string
}

// FrameSource supplies the frame attached to an alert.
type FrameSource interface {
	Latest() (stream.Snapshot, bool)
}

// Bot sends alert messages and photos through the Bot API.
type Bot struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client
	frames     FrameSource
	renderer   stream.Renderer
	logger     *slog.Logger
}

// apiResponse represents the response from Telegram API
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// NewBot creates a bot. frames may be nil, in which case alerts are sent
// as text. renderer, when set, draws the detection overlay on the photo.
func NewBot(cfg Config, frames FrameSource, renderer stream.Renderer, logger *slog.Logger) (*Bot, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		apiBase:    cfg.APIBase,
		httpClient: &http.Client{Timeout: sendTimeout},
		frames:     frames,
		renderer:   renderer,
		logger:     logger.With("component", "telegram"),
	}, nil
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(cfg Config) error {
	var errs []error
	if cfg.BotToken == "" {
		errs = append(errs, errors.New("telegram bot token is required"))
	}
	if cfg.ChatID == "" {
		errs = append(errs, errors.New("telegram chat ID is required"))
	}
	return errors.Join(errs...)
}

// NotifyAlert sends the alert in the background. Delivery is best-effort;
// failures are logged.
func (b *Bot) NotifyAlert(ctx context.Context, a *database.AlertRecord) {
	caption := alertCaption(a)

	var photo []byte
	if b.frames != nil {
		if snap, ok := b.frames.Latest(); ok {
			photo = snap.JPEG
			if b.renderer != nil {
				photo = b.renderer.Render(snap)
			}
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()

		var err error
		if photo != nil {
			err = b.SendPhoto(ctx, photo, caption)
		} else {
			err = b.SendMessage(ctx, caption)
		}
		if err != nil {
			b.logger.Warn("failed to send alert", "frame_id", a.FrameID, "error", err)
			return
		}
		b.logger.Debug("alert sent", "frame_id", a.FrameID)
	}()
}

func alertCaption(a *database.AlertRecord) string {
	zoneName, _ := a.FiredAt.Zone()
	return fmt.Sprintf(
		"🚨 <b>Person detected</b>\n👤 Persons: %d\n🎯 Confidence: %.0f%%\n🎞 Frame: %d\n🕐 %s %s",
		a.Persons, a.TopScore*100, a.FrameID, a.FiredAt.Format("2 Jan 2006, 15:04:05"), zoneName,
	)
}

// SendMessage sends a text message
func (b *Bot) SendMessage(ctx context.Context, message string) error {
	payload := map[string]any{
		"chat_id":    b.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendMessage"), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = b.do(req)
	return err
}

// SendPhoto sends a JPEG with an HTML caption using multipart form data
func (b *Bot) SendPhoto(ctx context.Context, photoData []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", b.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "person_frame.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	_, err = b.do(req)
	return err
}

// Check calls getMe to verify the token.
func (b *Bot) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.methodURL("getMe"), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	_, err = b.do(req)
	return err
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.botToken, method)
}

// do sends req and decodes the Bot API envelope.
func (b *Bot) do(req *http.Request) (json.RawMessage, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !apiResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", apiResp.ErrorCode, apiResp.Description)
	}
	return apiResp.Result, nil
}
