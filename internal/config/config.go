package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	Secret         string        `mapstructure:"secret"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`

	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Hub       HubConfig       `mapstructure:"hub"`
	Recording RecordingConfig `mapstructure:"recording"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type CacheConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// IdentityConfig points at the identity gRPC service. An empty Addr
// selects the static dev verifier fed from Tokens.
type IdentityConfig struct {
	Addr    string            `mapstructure:"addr"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Tokens  map[string]string `mapstructure:"tokens"`
}

type HubConfig struct {
	RingTimeout    time.Duration `mapstructure:"ring_timeout"`
	RoomCacheTTL   time.Duration `mapstructure:"room_cache_ttl"`
	RecentMessages int           `mapstructure:"recent_messages"`
	PageSize       int           `mapstructure:"page_size"`
	ProfileTTL     time.Duration `mapstructure:"profile_ttl"`
	CallStatusTTL  time.Duration `mapstructure:"call_status_ttl"`
}

type RecordingConfig struct {
	Dir string `mapstructure:"dir"`
}

type RateLimitConfig struct {
	Messages int           `mapstructure:"messages"`
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.url", "")
	v.SetDefault("identity.addr", "")
	v.SetDefault("identity.timeout", "3s")
	v.SetDefault("identity.tokens", map[string]string{})

	v.SetDefault("hub.ring_timeout", "30s")
	v.SetDefault("hub.room_cache_ttl", "10m")
	v.SetDefault("hub.recent_messages", 1000)
	v.SetDefault("hub.page_size", 50)
	v.SetDefault("hub.profile_ttl", "24h")
	v.SetDefault("hub.call_status_ttl", "24h")

	v.SetDefault("recording.dir", "./recordings")
	v.SetDefault("ratelimit.messages", 10)
	v.SetDefault("ratelimit.interval", "1s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (env "dev" by default) after
// loading a .env file if one exists. HUB_* variables override the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).Str("cache", cfg.Cache.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("mode: unknown %q", c.Mode))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port: out of range %d", c.Port))
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn: required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown %q", c.Store.Driver))
	}
	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if c.Cache.URL == "" {
			errs = append(errs, errors.New("cache.url: required for driver \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unknown %q", c.Cache.Driver))
	}
	for name, d := range map[string]time.Duration{
		"ping_period":         c.PingPeriod,
		"pong_wait":           c.PongWait,
		"write_wait":          c.WriteWait,
		"identity.timeout":    c.Identity.Timeout,
		"hub.ring_timeout":    c.Hub.RingTimeout,
		"hub.room_cache_ttl":  c.Hub.RoomCacheTTL,
		"hub.profile_ttl":     c.Hub.ProfileTTL,
		"hub.call_status_ttl": c.Hub.CallStatusTTL,
		"ratelimit.interval":  c.RateLimit.Interval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive", name))
		}
	}
	if c.PingPeriod >= c.PongWait {
		errs = append(errs, errors.New("ping_period: must be shorter than pong_wait"))
	}
	if c.Hub.RecentMessages <= 0 || c.Hub.PageSize <= 0 {
		errs = append(errs, errors.New("hub: recent_messages and page_size must be positive"))
	}
	return errors.Join(errs...)
}
