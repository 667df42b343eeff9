package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	validEngines = []string{"grpc", "subprocess"}
	validModes   = []string{"every_n", "continuous", "scheduled"}
	validLevels  = []string{"debug", "info", "warn", "error"}
)

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := applyEnv(cfg, os.LookupEnv); err != nil {
			return nil, err
		}
		return cfg, Validate(cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults, then applies the
// variables visible through lookup and validates.
func LoadFromReader(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with PERSONDETECT_* variables and the
// AUTH_*, JWT_* and TELEGRAM_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float32) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 32)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = float32(f)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = strings.Fields(v)
		}
	}

	str("PERSONDETECT_DEVICE", &cfg.Capture.Device)
	integer("PERSONDETECT_FPS", &cfg.Capture.FPS)
	str("PERSONDETECT_ENGINE", &cfg.Detector.Engine)
	str("PERSONDETECT_ENGINE_ADDR", &cfg.Detector.Address)
	list("PERSONDETECT_ENGINE_CMD", &cfg.Detector.Command)
	float("PERSONDETECT_THRESHOLD", &cfg.Detector.ScoreThreshold)
	integer("PERSONDETECT_EVERY", &cfg.Detector.Every)
	integer("PERSONDETECT_STALE_PERSON_AFTER", &cfg.Detector.StalePersonAfter)
	str("PERSONDETECT_ALERT_SOUND", &cfg.Alert.SoundFile)
	duration("PERSONDETECT_ALERT_COOLDOWN", &cfg.Alert.Cooldown)
	str("PERSONDETECT_UDP_ADDR", &cfg.Telemetry.UDPAddr)
	str("PERSONDETECT_MQTT_BROKER", &cfg.Telemetry.MQTT.Broker)
	str("PERSONDETECT_HTTP_ADDR", &cfg.HTTP.Addr)
	str("PERSONDETECT_PERF_PATH", &cfg.Perf.Path)
	str("PERSONDETECT_DB_PATH", &cfg.Storage.Path)
	str("PERSONDETECT_LOG_LEVEL", &cfg.Log.Level)

	boolean("AUTH_ENABLED", &cfg.Auth.Enabled)
	str("AUTH_USERNAME", &cfg.Auth.Username)
	str("AUTH_PASSWORD", &cfg.Auth.Password)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	duration("JWT_EXPIRY", &cfg.Auth.JWTExpiry)
	boolean("TELEGRAM_ENABLED", &cfg.Telegram.Enabled)
	str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken)
	str("TELEGRAM_CHAT_ID", &cfg.Telegram.ChatID)

	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Capture
	if cfg.Capture.Device == "" {
		errs = append(errs, errors.New("capture.device is required"))
	}
	if cfg.Capture.FPS <= 0 {
		errs = append(errs, fmt.Errorf("capture.fps %d must be positive", cfg.Capture.FPS))
	}
	if cfg.Capture.Quality < 2 || cfg.Capture.Quality > 31 {
		errs = append(errs, fmt.Errorf("capture.quality %d is out of range [2, 31]", cfg.Capture.Quality))
	}

	// Detector
	d := cfg.Detector
	if !slices.Contains(validEngines, d.Engine) {
		errs = append(errs, fmt.Errorf("detector.engine %q is invalid; valid values: %s", d.Engine, strings.Join(validEngines, ", ")))
	}
	if d.Engine == "grpc" && d.Address == "" {
		errs = append(errs, errors.New("detector.address is required for the grpc engine"))
	}
	if d.Engine == "subprocess" && len(d.Command) == 0 {
		errs = append(errs, errors.New("detector.command is required for the subprocess engine"))
	}
	if d.InputWidth <= 0 || d.InputHeight <= 0 {
		errs = append(errs, fmt.Errorf("detector input size %dx%d must be positive", d.InputWidth, d.InputHeight))
	}
	if d.ScoreThreshold < 0 || d.ScoreThreshold >= 1 {
		errs = append(errs, fmt.Errorf("detector.score_threshold %.2f is out of range [0, 1)", d.ScoreThreshold))
	}
	if d.NMSThreshold <= 0 || d.NMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("detector.nms_threshold %.2f is out of range (0, 1]", d.NMSThreshold))
	}
	if !slices.Contains(validModes, d.Mode) {
		errs = append(errs, fmt.Errorf("detector.mode %q is invalid; valid values: %s", d.Mode, strings.Join(validModes, ", ")))
	}
	if d.Every < 1 {
		errs = append(errs, fmt.Errorf("detector.every %d must be at least 1", d.Every))
	}
	if d.PersonClass < 0 || (d.NumCategory > 0 && d.PersonClass >= d.NumCategory) {
		errs = append(errs, fmt.Errorf("detector.person_class %d is out of range", d.PersonClass))
	}
	if d.StalePersonAfter < 0 {
		errs = append(errs, fmt.Errorf("detector.stale_person_after %d must not be negative", d.StalePersonAfter))
	}

	// Alert
	if cfg.Alert.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("alert.cooldown %s must not be negative", cfg.Alert.Cooldown))
	}
	if cfg.Alert.Enabled && len(cfg.Alert.Player) == 0 {
		errs = append(errs, errors.New("alert.player is required when alerts are enabled"))
	}

	// Telemetry
	if cfg.Telemetry.MQTT.Broker != "" && cfg.Telemetry.MQTT.Topic == "" {
		errs = append(errs, errors.New("telemetry.mqtt.topic is required when a broker is set"))
	}

	// Perf
	if cfg.Perf.Enabled && cfg.Perf.Path == "" {
		errs = append(errs, errors.New("perf.path is required when perf logging is enabled"))
	}

	// HTTP
	if cfg.HTTP.OverlayQuality < 1 || cfg.HTTP.OverlayQuality > 100 {
		errs = append(errs, fmt.Errorf("http.overlay_quality %d is out of range [1, 100]", cfg.HTTP.OverlayQuality))
	}

	// Auth
	if cfg.Auth.Enabled && cfg.Auth.Password == "" {
		errs = append(errs, errors.New("auth.password is required when auth is enabled"))
	}

	// Telegram
	if cfg.Telegram.Enabled {
		if cfg.Telegram.BotToken == "" {
			errs = append(errs, errors.New("telegram.bot_token is required when telegram is enabled"))
		}
		if cfg.Telegram.ChatID == "" {
			errs = append(errs, errors.New("telegram.chat_id is required when telegram is enabled"))
		}
	}

	if cfg.Log.Level != "" && !slices.Contains(validLevels, cfg.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: %s", cfg.Log.Level, strings.Join(validLevels, ", ")))
	}

	return errors.Join(errs...)
}
