package alert

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Player plays a sound file through an external command such as "aplay -q".
type Player struct {
	command []string
	file    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewPlayer returns a Player invoking command followed by file.
func NewPlayer(command []string, file string, logger *slog.Logger) (*Player, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty player command")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		command: command,
		file:    file,
		timeout: 30 * time.Second,
		logger:  logger.With("component", "alert"),
	}, nil
}

// Available reports whether the player executable can be found.
func (p *Player) Available() bool {
	_, err := exec.LookPath(p.command[0])
	return err == nil
}

// Play runs the player to completion. Failures are logged and otherwise ignored.
func (p *Player) Play() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	args := append(append([]string{}, p.command[1:]...), p.file)
	cmd := exec.CommandContext(ctx, p.command[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		p.logger.Warn("alert playback failed", "file", p.file, "error", err, "output", string(out))
		return
	}
	p.logger.Debug("alert played", "file", p.file)
}
