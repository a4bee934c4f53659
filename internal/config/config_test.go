// Package config_test tests the configuration loading for the voice narrator.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/voice-narrator/internal/config"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlData = `
[paths]
base_logs_dir = "/var/log/narrator"
data_dir = "/var/lib/narrator"

[telegram]
enabled = true
token = "123:abc"
authorized_user_id = "42"

[nats]
enabled = true
url = "nats://127.0.0.1:4222"
narration_requested_subject = "narration.requested"
audio_object_store_bucket = "AUDIO_FILES"

[backends]
offline = true

[backends.local_neural_clone]
server_url = "http://xtts:8020"
temperature = 0.65
timeout_seconds = 90

[backends.cloud_clone_api]
enabled = false

[backends.non_cloning_fallback]
engine = "espeak"

[quota]
period = "daily"
store = "memory"
cloud_character_limit = 5000
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	err := toml.Unmarshal([]byte(tomlData), cfg)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/log/narrator", cfg.Paths.BaseLogsDir)
	assert.Equal(t, "/var/lib/narrator", cfg.Paths.DataDir)
	assert.True(t, cfg.Telegram.Enabled)
	assert.Equal(t, "42", cfg.Telegram.AuthorizedUserID)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "AUDIO_FILES", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "NARRATION_TEXT", cfg.NATS.TextObjectStoreBucket)
	assert.True(t, cfg.Backends.Offline)
	assert.Equal(t, "http://xtts:8020", cfg.Backends.LocalNeuralClone.ServerURL)
	assert.InEpsilon(t, 0.65, cfg.Backends.LocalNeuralClone.Temperature, 0.001)
	assert.Equal(t, 90, cfg.Backends.LocalNeuralClone.TimeoutSeconds)
	assert.True(t, cfg.Backends.LocalNeuralClone.Enabled)
	assert.False(t, cfg.Backends.CloudClone.Enabled)
	assert.Equal(t, config.EngineEspeak, cfg.Backends.Fallback.Engine)
	assert.Equal(t, "en-US-GuyNeural", cfg.Backends.Fallback.Voice)
	assert.Equal(t, map[core.BackendID]int{core.BackendCloudCloneAPI: 5000}, cfg.QuotaLimits())
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	assert.Equal(t, 10000, cfg.Quota.CloudCharacterLimit)
	assert.Equal(t, "monthly", cfg.Quota.Period)
	assert.Equal(t, core.DefaultLanguage, cfg.Service.DefaultLanguage)
	assert.Equal(t, 5*time.Minute, config.Seconds(cfg.Backends.LocalNeuralClone.TimeoutSeconds))

	require.NoError(t, cfg.Validate())

	// The bot needs credentials that have no sensible default.
	cfg.Telegram.Enabled = true
	require.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	cases := map[string]func(cfg *config.Config){
		"zero timeout":     func(cfg *config.Config) { cfg.Backends.CloudClone.TimeoutSeconds = 0 },
		"unknown engine":   func(cfg *config.Config) { cfg.Backends.Fallback.Engine = "festival" },
		"unknown store":    func(cfg *config.Config) { cfg.Quota.Store = "redis" },
		"negative limit":   func(cfg *config.Config) { cfg.Quota.CloudCharacterLimit = -1 },
		"unknown period":   func(cfg *config.Config) { cfg.Quota.Period = "weekly" },
		"nats without url": func(cfg *config.Config) { cfg.NATS.Enabled = true; cfg.NATS.URL = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			cfg.Telegram.Enabled = false
			mutate(cfg)

			require.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
		})
	}
}

func TestLoadFile_EnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrator.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlData), 0o600))

	t.Setenv("ELEVENLABS_API_KEY", "sk-from-env")
	t.Setenv("TELEGRAM_USER_ID", "7")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.Backends.CloudClone.APIKey)
	assert.Equal(t, "7", cfg.Telegram.AuthorizedUserID)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[paths\n"), 0o600))

	_, err = config.LoadFile(path)
	require.Error(t, err)
}
