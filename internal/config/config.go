package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds the client and relay configuration. Values come from
// defaults, then the YAML file named by BOARDSYNC_CONFIG, then BOARDSYNC_*
// environment variables.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Channel ChannelConfig `yaml:"channel"`
	Relay   RelayConfig   `yaml:"relay"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
}

// BackendConfig locates the REST API and the push channel.
type BackendConfig struct {
	APIURL  string        `yaml:"api_url"`
	WSURL   string        `yaml:"ws_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig holds credentials. A token wins over username/password.
type SessionConfig struct {
	Token    string `yaml:"token"` //nolint:gosec // G117: access token config
	Username string `yaml:"username"`
	Password string `yaml:"password"` //nolint:gosec // G117: credential config
}

// ChannelConfig holds the reconnect policy and per-request timeouts.
type ChannelConfig struct {
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	MaxAttempts     int           `yaml:"max_attempts"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MutationTimeout time.Duration `yaml:"mutation_timeout"`
}

// RelayConfig holds relay server settings.
type RelayConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	JWTSecret      string        `yaml:"jwt_secret"` //nolint:gosec // G117: JWT signing secret config
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MessageRate    float64       `yaml:"message_rate"`
	MessageBurst   int           `yaml:"message_burst"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"` //nolint:gosec // G117: Redis connection config
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults are suitable for a local backend on port 8000.
func Defaults() *Config {
	return &Config{
		Backend: BackendConfig{
			APIURL:  "http://localhost:8000/api",
			WSURL:   "ws://localhost:8000",
			Timeout: 15 * time.Second,
		},
		Channel: ChannelConfig{
			BaseDelay:       time.Second,
			MaxDelay:        30 * time.Second,
			MaxAttempts:     5,
			WriteTimeout:    10 * time.Second,
			MutationTimeout: 15 * time.Second,
		},
		Relay: RelayConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"localhost:*"},
			MessageRate:    20,
			MessageBurst:   40,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration and validates the client settings. Relay
// settings are checked separately by ValidateRelay.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("BOARDSYNC_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables. Each current value is the
// fallback, so unset variables keep what the defaults or file provided.
func (c *Config) applyEnv() error {
	var err error

	c.Backend.APIURL = getEnv("BOARDSYNC_API_URL", c.Backend.APIURL)
	c.Backend.WSURL = getEnv("BOARDSYNC_WS_URL", c.Backend.WSURL)
	if c.Backend.Timeout, err = getEnvDuration("BOARDSYNC_REQUEST_TIMEOUT", c.Backend.Timeout); err != nil {
		return err
	}

	c.Session.Token = getEnv("BOARDSYNC_TOKEN", c.Session.Token)
	c.Session.Username = getEnv("BOARDSYNC_USERNAME", c.Session.Username)
	c.Session.Password = getEnv("BOARDSYNC_PASSWORD", c.Session.Password)

	if c.Channel.BaseDelay, err = getEnvDuration("BOARDSYNC_RECONNECT_BASE_DELAY", c.Channel.BaseDelay); err != nil {
		return err
	}
	if c.Channel.MaxDelay, err = getEnvDuration("BOARDSYNC_RECONNECT_MAX_DELAY", c.Channel.MaxDelay); err != nil {
		return err
	}
	if c.Channel.MaxAttempts, err = getEnvInt("BOARDSYNC_RECONNECT_MAX_ATTEMPTS", c.Channel.MaxAttempts); err != nil {
		return err
	}
	if c.Channel.WriteTimeout, err = getEnvDuration("BOARDSYNC_WRITE_TIMEOUT", c.Channel.WriteTimeout); err != nil {
		return err
	}
	if c.Channel.MutationTimeout, err = getEnvDuration("BOARDSYNC_MUTATION_TIMEOUT", c.Channel.MutationTimeout); err != nil {
		return err
	}

	c.Relay.Addr = getEnv("BOARDSYNC_RELAY_ADDR", c.Relay.Addr)
	if c.Relay.ReadTimeout, err = getEnvDuration("BOARDSYNC_RELAY_READ_TIMEOUT", c.Relay.ReadTimeout); err != nil {
		return err
	}
	if c.Relay.WriteTimeout, err = getEnvDuration("BOARDSYNC_RELAY_WRITE_TIMEOUT", c.Relay.WriteTimeout); err != nil {
		return err
	}
	c.Relay.JWTSecret = getEnv("BOARDSYNC_JWT_SECRET", c.Relay.JWTSecret)
	c.Relay.AllowedOrigins = getEnvList("BOARDSYNC_RELAY_ORIGINS", c.Relay.AllowedOrigins)
	if c.Relay.MessageRate, err = getEnvFloat("BOARDSYNC_RELAY_MESSAGE_RATE", c.Relay.MessageRate); err != nil {
		return err
	}
	if c.Relay.MessageBurst, err = getEnvInt("BOARDSYNC_RELAY_MESSAGE_BURST", c.Relay.MessageBurst); err != nil {
		return err
	}

	c.Redis.Addr = getEnv("BOARDSYNC_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("BOARDSYNC_REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvInt("BOARDSYNC_REDIS_DB", c.Redis.DB); err != nil {
		return err
	}

	c.Log.Level = getEnv("BOARDSYNC_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("BOARDSYNC_LOG_FORMAT", c.Log.Format)

	return nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if err := checkURL("api_url", c.Backend.APIURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("ws_url", c.Backend.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("BOARDSYNC_REQUEST_TIMEOUT must be positive, got %s", c.Backend.Timeout)
	}

	if c.Channel.BaseDelay <= 0 {
		return fmt.Errorf("BOARDSYNC_RECONNECT_BASE_DELAY must be positive, got %s", c.Channel.BaseDelay)
	}
	if c.Channel.MaxDelay < c.Channel.BaseDelay {
		return fmt.Errorf("BOARDSYNC_RECONNECT_MAX_DELAY must be >= base delay, got %s", c.Channel.MaxDelay)
	}
	if c.Channel.MaxAttempts < 1 {
		return fmt.Errorf("BOARDSYNC_RECONNECT_MAX_ATTEMPTS must be >= 1, got %d", c.Channel.MaxAttempts)
	}
	if c.Channel.WriteTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_WRITE_TIMEOUT must be positive, got %s", c.Channel.WriteTimeout)
	}
	if c.Channel.MutationTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_MUTATION_TIMEOUT must be positive, got %s", c.Channel.MutationTimeout)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("BOARDSYNC_LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("BOARDSYNC_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	return nil
}

// ValidateRelay checks the settings the relay server needs on top of Validate.
func (c *Config) ValidateRelay() error {
	// JWT secret is required (no insecure default).
	if c.Relay.JWTSecret == "" {
		return errors.New("BOARDSYNC_JWT_SECRET is required")
	}
	if len(c.Relay.JWTSecret) < 32 {
		return errors.New("BOARDSYNC_JWT_SECRET must be at least 32 characters")
	}
	if c.Relay.Addr == "" {
		return errors.New("BOARDSYNC_RELAY_ADDR is required")
	}
	if c.Relay.ReadTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_RELAY_READ_TIMEOUT must be positive, got %s", c.Relay.ReadTimeout)
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_RELAY_WRITE_TIMEOUT must be positive, got %s", c.Relay.WriteTimeout)
	}
	if c.Relay.MessageRate <= 0 {
		return fmt.Errorf("BOARDSYNC_RELAY_MESSAGE_RATE must be positive, got %g", c.Relay.MessageRate)
	}
	if c.Relay.MessageBurst < 1 {
		return fmt.Errorf("BOARDSYNC_RELAY_MESSAGE_BURST must be >= 1, got %d", c.Relay.MessageBurst)
	}
	if c.Redis.Addr == "" {
		return errors.New("BOARDSYNC_REDIS_ADDR is required")
	}
	return nil
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL, got %q", name, strings.Join(schemes, " or "), raw)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
