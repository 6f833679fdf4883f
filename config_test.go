package realtime

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{APIKey: "sk-test"}.withDefaults()

	assert.Equal(t, defaultBaseURL, cfg.BaseURL)
	assert.Equal(t, defaultModel, cfg.Model)
	assert.Equal(t, defaultConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, defaultMaxReconnectAttempts, cfg.MaxReconnectAttempts)
	assert.Equal(t, defaultAudioQueueCapacity, cfg.AudioQueueCapacity)
	assert.Equal(t, defaultMemoryHighWater, cfg.MemoryHighWater)
}

func TestConfigDefaultsKeepExplicitValues(t *testing.T) {
	cfg := Config{
		APIKey:             "sk-test",
		Model:              "gpt-4o-realtime-preview",
		ConnectTimeout:     3 * time.Second,
		AudioQueueCapacity: 16,
	}.withDefaults()

	assert.Equal(t, "gpt-4o-realtime-preview", cfg.Model)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 16, cfg.AudioQueueCapacity)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		expectErr bool
	}{
		{
			name: "valid",
			cfg:  Config{APIKey: "sk-test"}.withDefaults(),
		},
		{
			name:      "missing api key",
			cfg:       Config{}.withDefaults(),
			expectErr: true,
		},
		{
			name: "inverted backoff bounds",
			cfg: Config{
				APIKey:             "sk-test",
				BaseReconnectDelay: time.Minute,
				MaxReconnectDelay:  time.Second,
			},
			expectErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_key: sk-test
model: gpt-realtime
voice: marin
connect_timeout: 5s
rate_max_bytes: 1048576
audio_queue_capacity: 32
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "marin", cfg.Voice)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 1<<20, cfg.RateMaxBytes)
	assert.Equal(t, 32, cfg.AudioQueueCapacity)
	assert.Equal(t, defaultPingInterval, cfg.PingInterval, "unset fields receive defaults")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unclosed"), 0o600))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
