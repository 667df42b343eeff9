// Package config defines the persondetect configuration file and its
// defaults.
package config

import "time"

// Config is the root of the YAML file.
type Config struct {
	Capture   CaptureConfig   `yaml:"capture"`
	Detector  DetectorConfig  `yaml:"detector"`
	Alert     AlertConfig     `yaml:"alert"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Perf      PerfConfig      `yaml:"perf"`
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CaptureConfig selects the camera or video source.
type CaptureConfig struct {
	// Device is a V4L2 path, an rtsp:// or http(s):// URL, or a video file.
	Device  string `yaml:"device"`
	FPS     int    `yaml:"fps"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Quality int    `yaml:"quality"`
}

// DetectorConfig holds the engine, decoder and cadence settings.
type DetectorConfig struct {
	Engine      string   `yaml:"engine"` // grpc or subprocess
	Address     string   `yaml:"address"`
	Command     []string `yaml:"command"`
	InputWidth  int      `yaml:"input_width"`
	InputHeight int      `yaml:"input_height"`
	NumCategory int      `yaml:"num_category"`

	ScoreThreshold float32 `yaml:"score_threshold"`
	NMSThreshold   float32 `yaml:"nms_threshold"`

	Mode             string        `yaml:"mode"` // every_n, continuous, scheduled
	Every            int           `yaml:"every"`
	MinInterval      time.Duration `yaml:"min_interval"`
	Interval         time.Duration `yaml:"interval"`
	PersonClass      int           `yaml:"person_class"`
	PersonMinScore   float32       `yaml:"person_min_score"`
	StalePersonAfter int           `yaml:"stale_person_after"`
}

// AlertConfig configures the audible alert.
type AlertConfig struct {
	Enabled         bool          `yaml:"enabled"`
	SoundFile       string        `yaml:"sound_file"`
	Player          []string      `yaml:"player"`
	Cooldown        time.Duration `yaml:"cooldown"`
	SummaryInterval time.Duration `yaml:"summary_interval"`
}

// TelemetryConfig configures the outbound event sinks.
type TelemetryConfig struct {
	UDPAddr   string     `yaml:"udp_addr"`
	WebSocket bool       `yaml:"websocket"`
	MQTT      MQTTConfig `yaml:"mqtt"`
	Buffer    int        `yaml:"buffer"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

type PerfConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type HTTPConfig struct {
	Addr           string `yaml:"addr"`
	Overlay        bool   `yaml:"overlay"`
	OverlayQuality int    `yaml:"overlay_quality"`
}

type StorageConfig struct {
	// Path of the SQLite alert journal. Empty disables the journal.
	Path string `yaml:"path"`
}

type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

// TelegramConfig enables alert photos pushed to a Telegram chat.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when a key is absent.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Device:  "/dev/video0",
			FPS:     30,
			Width:   640,
			Height:  480,
			Quality: 5,
		},
		Detector: DetectorConfig{
			Engine:         "grpc",
			Address:        "127.0.0.1:50051",
			InputWidth:     352,
			InputHeight:    352,
			NumCategory:    80,
			ScoreThreshold: 0.3,
			NMSThreshold:   0.25,
			Mode:           "every_n",
			Every:          3,
			Interval:       5 * time.Second,
			PersonClass:    0,
			PersonMinScore: 0.5,
		},
		Alert: AlertConfig{
			Enabled:         true,
			SoundFile:       "alert.wav",
			Player:          []string{"aplay", "-q"},
			Cooldown:        2000 * time.Millisecond,
			SummaryInterval: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			UDPAddr:   "127.0.0.1:9001",
			WebSocket: true,
			MQTT: MQTTConfig{
				Topic:    "persondetect/events",
				ClientID: "persondetect",
			},
			Buffer: 16,
		},
		Perf: PerfConfig{
			Enabled: true,
			Path:    "perf_log.csv",
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			OverlayQuality: 80,
		},
		Storage: StorageConfig{
			Path: "persondetect.db",
		},
		Auth: AuthConfig{
			Username:  "admin",
			JWTExpiry: 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
