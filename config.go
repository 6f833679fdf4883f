package realtime

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the client configuration surface. Zero values fall back to the
// defaults below; APIKey is the only required field.
type Config struct {
	// Upstream credential and endpoint.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`

	// Transport liveness.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadPoll       time.Duration `yaml:"read_poll"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	IdleThreshold  time.Duration `yaml:"idle_threshold"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`

	// Reconnection.
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	BaseReconnectDelay   time.Duration `yaml:"base_reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`

	// Rate limiting.
	RateWindow      time.Duration `yaml:"rate_window"`
	RateMaxRequests int           `yaml:"rate_max_requests"`
	RateMaxBytes    int           `yaml:"rate_max_bytes"`

	// Audio buffering.
	AudioQueueCapacity int           `yaml:"audio_queue_capacity"`
	MaxChunkBytes      int           `yaml:"max_chunk_bytes"`
	QueueDrainPause    time.Duration `yaml:"queue_drain_pause"`

	// Memory pressure.
	MemoryLimitBytes    uint64        `yaml:"memory_limit_bytes"`
	MemoryHighWater     float64       `yaml:"memory_high_water"`
	MemoryCheckInterval time.Duration `yaml:"memory_check_interval"`
}

const (
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
	defaultModel   = "gpt-realtime"
	defaultVoice   = "ash"

	defaultConnectTimeout = 10 * time.Second
	defaultReadPoll       = 500 * time.Millisecond
	defaultPingInterval   = 15 * time.Second
	defaultIdleThreshold  = 30 * time.Second
	defaultPongTimeout    = 5 * time.Second

	defaultMaxReconnectAttempts = 5
	defaultBaseReconnectDelay   = time.Second
	defaultMaxReconnectDelay    = 30 * time.Second

	defaultRateWindow      = time.Minute
	defaultRateMaxRequests = 1200
	defaultRateMaxBytes    = 8 << 20

	defaultAudioQueueCapacity = 256
	defaultMaxChunkBytes      = 1 << 20
	defaultQueueDrainPause    = 100 * time.Millisecond

	defaultMemoryLimitBytes    = 512 << 20
	defaultMemoryHighWater     = 0.85
	defaultMemoryCheckInterval = 5 * time.Second
)

// withDefaults returns a copy with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Voice == "" {
		c.Voice = defaultVoice
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadPoll <= 0 {
		c.ReadPoll = defaultReadPoll
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = defaultIdleThreshold
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.BaseReconnectDelay <= 0 {
		c.BaseReconnectDelay = defaultBaseReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if c.RateWindow <= 0 {
		c.RateWindow = defaultRateWindow
	}
	if c.RateMaxRequests <= 0 {
		c.RateMaxRequests = defaultRateMaxRequests
	}
	if c.RateMaxBytes <= 0 {
		c.RateMaxBytes = defaultRateMaxBytes
	}
	if c.AudioQueueCapacity <= 0 {
		c.AudioQueueCapacity = defaultAudioQueueCapacity
	}
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = defaultMaxChunkBytes
	}
	if c.QueueDrainPause <= 0 {
		c.QueueDrainPause = defaultQueueDrainPause
	}
	if c.MemoryLimitBytes == 0 {
		c.MemoryLimitBytes = defaultMemoryLimitBytes
	}
	if c.MemoryHighWater <= 0 || c.MemoryHighWater > 1 {
		c.MemoryHighWater = defaultMemoryHighWater
	}
	if c.MemoryCheckInterval <= 0 {
		c.MemoryCheckInterval = defaultMemoryCheckInterval
	}
	return c
}

func (c Config) validate() error {
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	if c.BaseReconnectDelay > c.MaxReconnectDelay {
		return errors.New("base_reconnect_delay exceeds max_reconnect_delay")
	}
	return nil
}

// LoadConfig reads a YAML config file and applies defaults and validation.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
