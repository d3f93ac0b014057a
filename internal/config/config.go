package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// AgentConfig configures the on-device visit agent.
type AgentConfig struct {
	Env          string       `yaml:"env" env:"ENV" env-default:"local"`
	StoragePath  string       `yaml:"storage_path" env:"STORAGE_PATH" env-default:"./data/agent.db"`
	Log          Log          `yaml:"log"`
	Device       Device       `yaml:"device"`
	Backend      Backend      `yaml:"backend"`
	Sync         Sync         `yaml:"sync"`
	Connectivity Connectivity `yaml:"connectivity"`
	Geolocation  Geolocation  `yaml:"geolocation"`
	Server       LocalServer  `yaml:"server"`
	Cache        Cache        `yaml:"cache"`
}

type Device struct {
	ID   string `yaml:"id" env:"DEVICE_ID"`
	Name string `yaml:"name" env:"DEVICE_NAME"`
}

type Backend struct {
	BaseURL string        `yaml:"base_url" env:"BACKEND_BASE_URL"`
	Token   string        `yaml:"token" env:"BACKEND_TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"BACKEND_TIMEOUT" env-default:"10s"`
}

type Sync struct {
	Interval        time.Duration `yaml:"interval" env:"SYNC_INTERVAL" env-default:"60s"`
	MaxRetries      int           `yaml:"max_retries" env:"SYNC_MAX_RETRIES" env-default:"3"`
	RetryRejections bool          `yaml:"retry_rejections" env:"SYNC_RETRY_REJECTIONS"`
	MaxBackoff      time.Duration `yaml:"max_backoff" env:"SYNC_MAX_BACKOFF" env-default:"1h"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"SYNC_REFRESH_INTERVAL" env-default:"30s"`
}

type Connectivity struct {
	ProbeInterval time.Duration `yaml:"probe_interval" env:"CONNECTIVITY_PROBE_INTERVAL" env-default:"10s"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" env:"CONNECTIVITY_PROBE_TIMEOUT" env-default:"3s"`
}

// Geolocation configures the agent's own position source. Most requests
// carry coordinates from the UI; a fixed position serves kiosk devices.
type Geolocation struct {
	Enabled   bool          `yaml:"enabled" env:"GEO_ENABLED"`
	Latitude  float64       `yaml:"latitude" env:"GEO_LATITUDE"`
	Longitude float64       `yaml:"longitude" env:"GEO_LONGITUDE"`
	Timeout   time.Duration `yaml:"timeout" env:"GEO_TIMEOUT" env-default:"15s"`
}

type LocalServer struct {
	Port int `yaml:"port" env:"AGENT_PORT" env-default:"8787"`
}

// Cache configures the shell/API response cache. Origin serves the shell
// routes and defaults to the backend base URL.
type Cache struct {
	Origin      string   `yaml:"origin" env:"CACHE_ORIGIN"`
	ShellRoutes []string `yaml:"shell_routes" env:"CACHE_SHELL_ROUTES" env-default:"/,/app/checkin,/app/companies,/app/dashboard,/manifest.webmanifest,/icons/icon-192x192.svg,/icons/icon-512x512.svg"`
}

// ServerConfig configures the authoritative visit API.
type ServerConfig struct {
	Env         string      `yaml:"env" env:"ENV" env-default:"local"`
	Log         Log         `yaml:"log"`
	Database    Database    `yaml:"database"`
	HTTP        HTTP        `yaml:"http"`
	Auth        Auth        `yaml:"auth"`
	Redis       Redis       `yaml:"redis"`
	Idempotency Idempotency `yaml:"idempotency"`
}

type Database struct {
	Driver string `yaml:"driver" env:"DATABASE_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"dsn" env:"DATABASE_DSN" env-default:"./data/server.db"`
}

type HTTP struct {
	Port         int           `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"JWT_TOKEN_TTL" env-default:"720h"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type Idempotency struct {
	TTL time.Duration `yaml:"ttl" env:"IDEMPOTENCY_TTL" env-default:"24h"`
}

// LoadAgentConfig reads the agent configuration from path, falling back to
// the environment alone when the file does not exist.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadServerConfig reads the server configuration from path, falling back
// to the environment alone when the file does not exist.
func LoadServerConfig(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string, cfg any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return fmt.Errorf("failed to read config %s: %w", path, err)
			}
			return nil
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("failed to read config from environment: %w", err)
	}
	return nil
}

func (c *AgentConfig) validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Cache.Origin == "" {
		c.Cache.Origin = c.Backend.BaseURL
	}
	c.Cache.Origin = strings.TrimRight(c.Cache.Origin, "/")
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be positive, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.Interval <= 0 || c.Connectivity.ProbeInterval <= 0 {
		return errors.New("sync.interval and connectivity.probe_interval must be positive")
	}
	if c.Geolocation.Timeout <= 0 {
		return errors.New("geolocation.timeout must be positive")
	}
	return nil
}

func (c *ServerConfig) validate() error {
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("database.driver must be sqlite or pgx, got %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}
