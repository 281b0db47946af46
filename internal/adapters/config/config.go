package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "NXAPI"

// ServerConfig holds HTTP API server settings.
// Note: Fields should be exported (start with uppercase) to be unmarshalled by Viper.
type ServerConfig struct {
	HTTPPort            int `mapstructure:"http_port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
	IdleTimeoutSeconds  int `mapstructure:"idle_timeout_seconds"`
}

// LogConfig holds logging-related configurations.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"` // "stderr" (CLI) or "split" (info to stdout, errors to stderr)
}

// StoreConfig selects the durable key-value store.
type StoreConfig struct {
	Backend       string `mapstructure:"backend"` // "file" or "redis"
	Dir           string `mapstructure:"dir"`     // file backend directory
	KeyPrefix     string `mapstructure:"key_prefix"`
	EncryptionKey string `mapstructure:"encryption_key"` // optional hex AES-256 key, should come from ENV
}

// RedisConfig holds Redis-related configurations.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"` // Optional
	DB       int    `mapstructure:"db"`       // Optional
}

// NATSConfig configures credential event publishing. An empty URL disables it.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// EventsConfig tunes the WebSocket event stream.
type EventsConfig struct {
	BufferSize          int `mapstructure:"buffer_size"`
	PingIntervalSeconds int `mapstructure:"ping_interval_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

// NintendoConfig holds client identity and endpoints of the account provider and game services.
type NintendoConfig struct {
	ClientID              string `mapstructure:"client_id"`
	PctlClientID          string `mapstructure:"pctl_client_id"`
	ZncaPlatform          string `mapstructure:"znca_platform"`
	ZncaPlatformVersion   string `mapstructure:"znca_platform_version"`
	ZncaVersion           string `mapstructure:"znca_version"`
	DiscoverVersion       bool   `mapstructure:"discover_version"`
	Language              string `mapstructure:"language"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	AccountsURL           string `mapstructure:"accounts_url"`
	AccountsAPIURL        string `mapstructure:"accounts_api_url"`
	ZncURL                string `mapstructure:"znc_url"`
	MoonURL               string `mapstructure:"moon_url"`
	SplatNet2URL          string `mapstructure:"splatnet2_url"`
	PlayStoreURL          string `mapstructure:"play_store_url"`
}

// AttestationConfig selects and configures the attestation transport.
type AttestationConfig struct {
	ProxyURL      string  `mapstructure:"proxy_url"` // non-empty switches to the proxy transport
	FlapgURL      string  `mapstructure:"flapg_url"`
	S2SURL        string  `mapstructure:"s2s_url"`
	UserAgent     string  `mapstructure:"user_agent"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// AuthConfig holds HTTP API authentication settings.
type AuthConfig struct {
	APIKey string `mapstructure:"api_key"` // Should primarily come from ENV
}

// AppConfig holds application-specific configurations.
type AppConfig struct {
	ServiceName             string `mapstructure:"service_name"`
	Version                 string `mapstructure:"version"`
	ShutdownTimeoutSeconds  int    `mapstructure:"shutdown_timeout_seconds"`
	SerializeRefresh        bool   `mapstructure:"serialize_refresh"`
	ExchangeLockTTLSeconds  int    `mapstructure:"exchange_lock_ttl_seconds"`
	ExchangeLockWaitSeconds int    `mapstructure:"exchange_lock_wait_seconds"`
}

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Store       StoreConfig       `mapstructure:"store"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Events      EventsConfig      `mapstructure:"events"`
	Nintendo    NintendoConfig    `mapstructure:"nintendo"`
	Attestation AttestationConfig `mapstructure:"attestation"`
	Auth        AuthConfig        `mapstructure:"auth"`
	App         AppConfig         `mapstructure:"app"`
}

// Provider defines an interface for accessing application configuration.
// This allows for easy mocking in tests and decouples the app from Viper.
type Provider interface {
	Get() *Config
}

// ConfigFile is an explicit config file path (e.g. from --config). Empty means search the defaults.
type ConfigFile string

// viperProvider implements the Provider interface using Viper.
type viperProvider struct {
	mu     sync.RWMutex
	config *Config
	logger *zap.Logger // zap directly, not domain.Logger, to avoid circular deps
}

func defaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "nintendo-znc", "persist")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout_seconds", 10)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.idle_timeout_seconds", 60)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dir", defaultStoreDir())
	v.SetDefault("store.key_prefix", "")
	v.SetDefault("store.encryption_key", "")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "nxapi.credentials.refreshed")

	v.SetDefault("events.buffer_size", 32)
	v.SetDefault("events.ping_interval_seconds", 30)
	v.SetDefault("events.write_timeout_seconds", 10)

	v.SetDefault("nintendo.client_id", "71b963c1b7b6d119")
	v.SetDefault("nintendo.pctl_client_id", "54789befb391a838")
	v.SetDefault("nintendo.znca_platform", "Android")
	v.SetDefault("nintendo.znca_platform_version", "8.0.0")
	v.SetDefault("nintendo.znca_version", "2.0.0")
	v.SetDefault("nintendo.discover_version", false)
	v.SetDefault("nintendo.language", "en-GB")
	v.SetDefault("nintendo.request_timeout_seconds", 10)
	v.SetDefault("nintendo.accounts_url", "https://accounts.nintendo.com")
	v.SetDefault("nintendo.accounts_api_url", "https://api.accounts.nintendo.com")
	v.SetDefault("nintendo.znc_url", "https://api-lp1.znc.srv.nintendo.net")
	v.SetDefault("nintendo.moon_url", "https://api-lp1.pctl.srv.nintendo.net/moon")
	v.SetDefault("nintendo.splatnet2_url", "https://app.splatoon2.nintendo.net")
	v.SetDefault("nintendo.play_store_url", "https://play.google.com/store/apps/details?id=com.nintendo.znca&hl=en")

	v.SetDefault("attestation.flapg_url", "https://flapg.com/ika2/api/login?public")
	v.SetDefault("attestation.s2s_url", "https://elifessler.com/s2s/api/gen2")
	v.SetDefault("attestation.user_agent", "nxapi-go/1.0.0")
	v.SetDefault("attestation.rate_per_second", 1.0)
	v.SetDefault("attestation.burst", 2)

	// keys without a default are invisible to Unmarshal when only set in the environment
	v.SetDefault("auth.api_key", "")

	v.SetDefault("app.service_name", "nxapi")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.shutdown_timeout_seconds", 30)
	v.SetDefault("app.serialize_refresh", false)
	v.SetDefault("app.exchange_lock_ttl_seconds", 60)
	v.SetDefault("app.exchange_lock_wait_seconds", 30)
}

func newViper(configFile ConfigFile) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(string(configFile))
	} else {
		v.SetConfigName(getEnv("VIPER_CONFIG_NAME", "config"))
		v.SetConfigType("yaml")
		if p := os.Getenv("VIPER_CONFIG_PATH"); p != "" {
			v.AddConfigPath(p)
		}
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "nintendo-znc"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")) // attestation.proxy_url becomes NXAPI_ATTESTATION_PROXY_URL

	// ZNCA_API_URL is the variable older tooling used to switch to an attestation proxy.
	if err := v.BindEnv("attestation.proxy_url", envPrefix+"_ATTESTATION_PROXY_URL", "ZNCA_API_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind attestation proxy env: %w", err)
	}
	return v, nil
}

// Default returns the built-in defaults without reading files or the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg) //nolint:errcheck // defaults always decode
	return cfg
}

// NewViperProvider creates and initializes a new configuration provider using Viper.
// It loads configuration from file and environment variables, and when a file is in use
// sets up hot-reloading on SIGHUP and on file change until appCtx is done.
func NewViperProvider(appCtx context.Context, logger *zap.Logger, configFile ConfigFile) (Provider, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && configFile == "" {
			logger.Debug("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	p := &viperProvider{
		config: cfg,
		logger: logger,
	}

	if v.ConfigFileUsed() == "" {
		return p, nil
	}

	// Set up SIGHUP for hot-reloading configuration
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		defer func() {
			signal.Stop(sigChan)
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in SIGHUP handler goroutine",
					zap.String("goroutine_name", "SIGHUPConfigReloader"),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		for {
			select {
			case sig := <-sigChan:
				p.logger.Info("SIGHUP received, attempting to reload configuration", zap.String("signal", sig.String()))
				if err := v.ReadInConfig(); err != nil {
					p.logger.Error("Failed to re-read config file on SIGHUP", zap.Error(err))
					continue
				}
				p.reload(v, "sighup")
			case <-appCtx.Done():
				return
			}
		}
	}()

	v.OnConfigChange(func(e fsnotify.Event) {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in OnConfigChange callback",
					zap.String("event_name", e.Name),
					zap.String("event_op", e.Op.String()),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
		p.reload(v, "file_change")
	})
	v.WatchConfig()

	p.logger.Debug("Configuration loaded", zap.String("config_file_used", v.ConfigFileUsed()))
	return p, nil
}

func (p *viperProvider) reload(v *viper.Viper, reason string) {
	newCfg := &Config{}
	if err := v.Unmarshal(newCfg); err != nil {
		p.logger.Error("Failed to unmarshal reloaded config", zap.String("reason", reason), zap.Error(err))
		return
	}
	p.mu.Lock()
	p.config = newCfg
	p.mu.Unlock()
	p.logger.Info("Configuration reloaded", zap.String("reason", reason))
}

// Get returns the current configuration.
func (p *viperProvider) Get() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// StaticProvider serves a fixed Config. Used by tests and by callers that build config in code.
type StaticProvider struct {
	Config *Config
}

// Get implements Provider.
func (s *StaticProvider) Get() *Config {
	return s.Config
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
