// Package config provides the configuration structure for the voice narrator.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/ledger"
	"github.com/book-expert/voice-narrator/internal/tts/ttsutils"
	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// Fallback engine names.
const (
	EngineEdge   = "edge"
	EngineEspeak = "espeak"
	EngineGoogle = "google"
)

// Ledger store names.
const (
	LedgerMemory = "memory"
	LedgerSQLite = "sqlite"
)

// Free-tier character allowance of the cloud clone API per month.
const defaultCloudCharacterLimit = 10000

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	DataDir     string `toml:"data_dir"`
	TempDir     string `toml:"temp_dir"`
	LedgerPath  string `toml:"ledger_path"`
}

// TelegramConfig holds the voice-sample ingestion bot settings.
type TelegramConfig struct {
	Enabled            bool   `toml:"enabled"`
	Token              string `env:"TELEGRAM_BOT_TOKEN" toml:"token"`
	AuthorizedUserID   string `env:"TELEGRAM_USER_ID"   toml:"authorized_user_id"`
	PollTimeoutSeconds int    `toml:"poll_timeout_seconds"`
	DownloadsPerMinute int    `toml:"downloads_per_minute"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled                   bool   `toml:"enabled"`
	URL                       string `env:"NATS_URL" toml:"url"`
	QueueGroup                string `toml:"queue_group"`
	NarrationRequestedSubject string `toml:"narration_requested_subject"`
	NarrationCompletedSubject string `toml:"narration_completed_subject"`
	TextObjectStoreBucket     string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket    string `toml:"audio_object_store_bucket"`
}

// ConverterConfig holds the ffmpeg settings.
type ConverterConfig struct {
	FFmpegPath     string `toml:"ffmpeg_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LocalNeuralCloneConfig configures the XTTS server adapter.
type LocalNeuralCloneConfig struct {
	Enabled        bool    `toml:"enabled"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	ServerURL      string  `toml:"server_url"`
	Temperature    float64 `toml:"temperature"`
}

// LightweightCloneConfig configures the Bark subprocess adapter.
type LightweightCloneConfig struct {
	Enabled        bool   `toml:"enabled"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Executable     string `toml:"executable"`
}

// CloudCloneConfig configures the ElevenLabs adapter.
type CloudCloneConfig struct {
	Enabled        bool   `toml:"enabled"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `env:"ELEVENLABS_API_KEY" toml:"api_key"`
	ModelID        string `toml:"model_id"`
}

// FallbackConfig configures the generic-voice adapter.
type FallbackConfig struct {
	Enabled          bool   `toml:"enabled"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	Engine           string `toml:"engine"`
	Voice            string `toml:"voice"`
	EdgeExecutable   string `toml:"edge_executable"`
	EspeakExecutable string `toml:"espeak_executable"`
}

// BackendsConfig holds the per-backend settings of the cascade.
type BackendsConfig struct {
	Offline          bool                   `toml:"offline"`
	LocalNeuralClone LocalNeuralCloneConfig `toml:"local_neural_clone"`
	LightweightClone LightweightCloneConfig `toml:"lightweight_generative_clone"`
	CloudClone       CloudCloneConfig       `toml:"cloud_clone_api"`
	Fallback         FallbackConfig         `toml:"non_cloning_fallback"`
}

// QuotaConfig holds the usage ledger settings.
type QuotaConfig struct {
	Period              string `toml:"period"`
	Store               string `toml:"store"`
	CloudCharacterLimit int    `toml:"cloud_character_limit"`
}

// ServiceConfig holds the long-running service settings.
type ServiceConfig struct {
	HTTPAddr        string `toml:"http_addr"`
	DefaultLanguage string `toml:"default_language"`
}

// Config is the root configuration structure.
type Config struct {
	Paths     PathsConfig     `toml:"paths"`
	Telegram  TelegramConfig  `toml:"telegram"`
	NATS      NATSConfig      `toml:"nats"`
	Converter ConverterConfig `toml:"converter"`
	Backends  BackendsConfig  `toml:"backends"`
	Quota     QuotaConfig     `toml:"quota"`
	Service   ServiceConfig   `toml:"service"`
}

// Default returns a configuration with every optional value filled in.
func Default() *Config {
	tempDir := filepath.Join(ttsutils.GetCacheDir(), "tmp")

	return &Config{
		Paths: PathsConfig{
			BaseLogsDir: "logs",
			DataDir:     "data",
			TempDir:     tempDir,
			LedgerPath:  "data/quota.db",
		},
		Telegram: TelegramConfig{
			Enabled:            false,
			Token:              "",
			AuthorizedUserID:   "",
			PollTimeoutSeconds: 30,
			DownloadsPerMinute: 6,
		},
		NATS: NATSConfig{
			Enabled:                   false,
			URL:                       "nats://127.0.0.1:4222",
			QueueGroup:                "narration-workers",
			NarrationRequestedSubject: "narration.requested",
			NarrationCompletedSubject: "narration.completed",
			TextObjectStoreBucket:     "NARRATION_TEXT",
			AudioObjectStoreBucket:    "NARRATION_AUDIO",
		},
		Converter: ConverterConfig{FFmpegPath: "ffmpeg", TimeoutSeconds: 60},
		Backends: BackendsConfig{
			Offline: false,
			LocalNeuralClone: LocalNeuralCloneConfig{
				Enabled:        true,
				TimeoutSeconds: 300,
				ServerURL:      "http://127.0.0.1:8020",
				Temperature:    0.7,
			},
			LightweightClone: LightweightCloneConfig{
				Enabled:        true,
				TimeoutSeconds: 300,
				Executable:     "bark-clone",
			},
			CloudClone: CloudCloneConfig{
				Enabled:        true,
				TimeoutSeconds: 120,
				BaseURL:        "https://api.elevenlabs.io",
				APIKey:         "",
				ModelID:        "eleven_multilingual_v2",
			},
			Fallback: FallbackConfig{
				Enabled:          true,
				TimeoutSeconds:   120,
				Engine:           EngineEdge,
				Voice:            "en-US-GuyNeural",
				EdgeExecutable:   "edge-tts",
				EspeakExecutable: "espeak-ng",
			},
		},
		Quota: QuotaConfig{
			Period:              ledger.PolicyMonthly,
			Store:               LedgerSQLite,
			CloudCharacterLimit: defaultCloudCharacterLimit,
		},
		Service: ServiceConfig{HTTPAddr: ":8090", DefaultLanguage: core.DefaultLanguage},
	}
}

// Load loads the service configuration through the configurator, then applies
// environment overrides.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(cfg)
}

// LoadFile loads configuration from an explicit TOML file. An empty path yields the
// defaults plus environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, readErr)
		}

		unmarshalErr := toml.Unmarshal(data, cfg)
		if unmarshalErr != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, unmarshalErr)
		}
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []string

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		problems = append(problems, "telegram.token is required when telegram is enabled")
	}

	if c.Telegram.Enabled && c.Telegram.AuthorizedUserID == "" {
		problems = append(problems, "telegram.authorized_user_id is required when telegram is enabled")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		problems = append(problems, "nats.url is required when nats is enabled")
	}

	timeouts := map[string]int{
		"converter.timeout_seconds":                             c.Converter.TimeoutSeconds,
		"backends.local_neural_clone.timeout_seconds":           c.Backends.LocalNeuralClone.TimeoutSeconds,
		"backends.lightweight_generative_clone.timeout_seconds": c.Backends.LightweightClone.TimeoutSeconds,
		"backends.cloud_clone_api.timeout_seconds":              c.Backends.CloudClone.TimeoutSeconds,
		"backends.non_cloning_fallback.timeout_seconds":         c.Backends.Fallback.TimeoutSeconds,
	}

	for name, seconds := range timeouts {
		if seconds <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}

	switch c.Backends.Fallback.Engine {
	case EngineEdge, EngineEspeak, EngineGoogle:
	default:
		problems = append(problems, fmt.Sprintf("unknown fallback engine %q", c.Backends.Fallback.Engine))
	}

	switch c.Quota.Store {
	case LedgerMemory, LedgerSQLite:
	default:
		problems = append(problems, fmt.Sprintf("unknown quota store %q", c.Quota.Store))
	}

	if c.Quota.CloudCharacterLimit < 0 {
		problems = append(problems, "quota.cloud_character_limit must not be negative")
	}

	_, policyErr := ledger.ParsePolicy(c.Quota.Period)
	if policyErr != nil {
		problems = append(problems, policyErr.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	return nil
}

// QuotaLimits returns the per-backend character limits for the ledger.
func (c *Config) QuotaLimits() map[core.BackendID]int {
	return map[core.BackendID]int{core.BackendCloudCloneAPI: c.Quota.CloudCharacterLimit}
}

// Seconds converts a configured timeout to a duration.
func Seconds(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
