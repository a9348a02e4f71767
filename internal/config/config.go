package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server     ServerConfig     `toml:"server"`     // Gateway HTTP server settings
	Logging    LoggingConfig    `toml:"logging"`    // Application logging settings
	Storage    StorageConfig    `toml:"storage"`    // Transcript persistence settings
	Audio      AudioConfig      `toml:"audio"`      // Microphone capture settings
	VAD        VADConfig        `toml:"vad"`        // Voice activity detection settings
	Engine     EngineConfig     `toml:"engine"`     // Recording session settings
	Transport  TransportConfig  `toml:"transport"`  // Transcription backend settings
	Connection ConnectionConfig `toml:"connection"` // Connection health and retry settings
	Recognizer RecognizerConfig `toml:"recognizer"` // Gateway recognizer settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // Primary HTTP port for the gateway
	Host             string `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only)
	AdditionalPorts  []int  `toml:"additional_ports"`      // Additional HTTP ports to listen on
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, needed for streaming)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains transcript persistence configuration
type StorageConfig struct {
	SQLiteBasePath string `toml:"sqlite_base_path"` // Base path for SQLite database files (filename is generated as voiced-YYYY-MM-DD.db)
}

// AudioConfig contains microphone capture configuration
type AudioConfig struct {
	FFmpegPath      string `toml:"ffmpeg_path"`       // Path to FFmpeg executable used for device capture
	InputDevice     string `toml:"input_device"`      // Input device identifier ("" = platform default)
	SampleRate      int    `toml:"sample_rate"`       // Capture sample rate in Hz (16000 recommended for transcription)
	Channels        int    `toml:"channels"`          // Number of channels (1 = mono)
	ChunkMs         int    `toml:"chunk_ms"`          // Audio chunk duration in milliseconds for streaming mode
	LevelIntervalMs int    `toml:"level_interval_ms"` // Interval between level meter samples in milliseconds
}

// VADConfig contains voice activity detection configuration
type VADConfig struct {
	EnergyThreshold float64 `toml:"energy_threshold"` // Normalized level above which a sample counts as speech (0.0-1.0)
}

// EngineConfig contains recording session configuration
type EngineConfig struct {
	Mode               string `toml:"mode"`                 // Transcription mode: "batch" or "streaming"
	Language           string `toml:"language"`             // Target language code (e.g., "en")
	MaxDurationMs      int    `toml:"max_duration_ms"`      // Maximum recording duration before auto-stop
	AutoStop           bool   `toml:"auto_stop"`            // Send the buffered utterance automatically on sustained silence
	SilenceThresholdMs int    `toml:"silence_threshold_ms"` // Silence duration that arms an auto-send
	SilenceConfirmMs   int    `toml:"silence_confirm_ms"`   // Confirmation delay re-checked before the auto-send commits
	MinAudioBytes      int    `toml:"min_audio_bytes"`      // Recordings smaller than this are rejected before any network call
}

// TransportConfig contains transcription backend configuration
type TransportConfig struct {
	BaseURL        string `toml:"base_url"`        // Backend base URL (e.g., http://localhost:8090)
	APIKey         string `toml:"api_key"`         // Bearer token for the backend ("" = unauthenticated)
	TimeoutSeconds int    `toml:"timeout_seconds"` // HTTP timeout for batch requests in seconds
}

// ConnectionConfig contains connection health classification and retry configuration
type ConnectionConfig struct {
	BackoffBaseMs  int     `toml:"backoff_base_ms"`  // Initial reconnect delay in milliseconds
	BackoffCapMs   int     `toml:"backoff_cap_ms"`   // Maximum reconnect delay in milliseconds
	JitterFraction float64 `toml:"jitter_fraction"`  // Random jitter applied to each delay (0.0-1.0)
	MaxRetries     int     `toml:"max_retries"`      // Reconnect attempts before escalating (0 = unlimited)
	FailureFloor   int     `toml:"failure_floor"`    // Consecutive failures at which quality is reported critical
	ExcellentMaxMs int     `toml:"excellent_max_ms"` // Latency upper bound for the excellent tier
	GoodMaxMs      int     `toml:"good_max_ms"`      // Latency upper bound for the good tier
	FairMaxMs      int     `toml:"fair_max_ms"`      // Latency upper bound for the fair tier
	PoorMaxMs      int     `toml:"poor_max_ms"`      // Latency upper bound for the poor tier
}

// RecognizerConfig contains gateway recognizer configuration
type RecognizerConfig struct {
	EnergyThreshold    float64 `toml:"energy_threshold"`     // RMS threshold for the dev recognizer's speech verdict
	UtteranceSilenceMs int     `toml:"utterance_silence_ms"` // Server-side silence that closes a streaming utterance
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	config := Default()
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// LoadWithFallback loads configuration from the preferred path, falling back
// to configs/voiced.toml and ./voiced.toml, then to built-in defaults.
func LoadWithFallback(preferredPath string) (*Config, error) {
	if preferredPath != "" {
		return Load(preferredPath)
	}

	candidates := []string{
		filepath.Join("configs", "voiced.toml"),
		"voiced.toml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return Default(), nil
}

// Default returns the built-in default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8090,
			Host:             "127.0.0.1",
			ReadTimeoutSecs:  30,
			WriteTimeoutSecs: 0,
			IdleTimeoutSecs:  60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			SQLiteBasePath: "data",
		},
		Audio: AudioConfig{
			FFmpegPath:      "ffmpeg",
			SampleRate:      16000,
			Channels:        1,
			ChunkMs:         250,
			LevelIntervalMs: 100,
		},
		VAD: VADConfig{
			EnergyThreshold: 0.02,
		},
		Engine: EngineConfig{
			Mode:               "batch",
			Language:           "en",
			MaxDurationMs:      30000,
			AutoStop:           true,
			SilenceThresholdMs: 2000,
			SilenceConfirmMs:   500,
			MinAudioBytes:      3200, // 100ms of 16kHz mono PCM
		},
		Transport: TransportConfig{
			BaseURL:        "http://localhost:8090",
			TimeoutSeconds: 30,
		},
		Connection: ConnectionConfig{
			BackoffBaseMs:  500,
			BackoffCapMs:   10000,
			JitterFraction: 0.2,
			MaxRetries:     5,
			FailureFloor:   3,
			ExcellentMaxMs: 150,
			GoodMaxMs:      400,
			FairMaxMs:      800,
			PoorMaxMs:      2000,
		},
		Recognizer: RecognizerConfig{
			EnergyThreshold:    0.015,
			UtteranceSilenceMs: 800,
		},
	}
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server config: invalid port: %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging config: invalid level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging config: invalid format: %q", c.Logging.Format)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if c.VAD.EnergyThreshold < 0 || c.VAD.EnergyThreshold > 1 {
		return fmt.Errorf("vad config: energy_threshold must be between 0 and 1, got %f", c.VAD.EnergyThreshold)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := c.Connection.Validate(); err != nil {
		return fmt.Errorf("connection config: %w", err)
	}
	return nil
}

// Validate checks the audio capture settings
func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.Channels != 1 {
		return fmt.Errorf("only mono capture is supported, got %d channels", a.Channels)
	}
	if a.ChunkMs <= 0 {
		return fmt.Errorf("chunk_ms must be positive, got %d", a.ChunkMs)
	}
	if a.LevelIntervalMs <= 0 {
		return fmt.Errorf("level_interval_ms must be positive, got %d", a.LevelIntervalMs)
	}
	return nil
}

// Validate checks the session settings
func (e *EngineConfig) Validate() error {
	switch e.Mode {
	case "batch", "streaming":
	default:
		return fmt.Errorf("mode must be \"batch\" or \"streaming\", got %q", e.Mode)
	}
	if e.MaxDurationMs <= 0 {
		return fmt.Errorf("max_duration_ms must be positive, got %d", e.MaxDurationMs)
	}
	if e.SilenceThresholdMs <= 0 {
		return fmt.Errorf("silence_threshold_ms must be positive, got %d", e.SilenceThresholdMs)
	}
	if e.SilenceConfirmMs < 0 {
		return fmt.Errorf("silence_confirm_ms must not be negative, got %d", e.SilenceConfirmMs)
	}
	return nil
}

// Validate checks the connection health settings
func (c *ConnectionConfig) Validate() error {
	if c.BackoffBaseMs <= 0 {
		return fmt.Errorf("backoff_base_ms must be positive, got %d", c.BackoffBaseMs)
	}
	if c.BackoffCapMs < c.BackoffBaseMs {
		return fmt.Errorf("backoff_cap_ms (%d) must not be below backoff_base_ms (%d)", c.BackoffCapMs, c.BackoffBaseMs)
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		return fmt.Errorf("jitter_fraction must be between 0 and 1, got %f", c.JitterFraction)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	ordered := c.ExcellentMaxMs < c.GoodMaxMs && c.GoodMaxMs < c.FairMaxMs && c.FairMaxMs < c.PoorMaxMs
	if !ordered {
		return fmt.Errorf("quality tier bounds must be strictly increasing")
	}
	return nil
}
