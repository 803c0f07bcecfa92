package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration of the pipeline. Module options stay as
// raw YAML nodes; each module decodes its own block in Setup.
type Config struct {
	Client  Client               `yaml:"client"`
	Log     Log                  `yaml:"log"`
	Modules map[string]yaml.Node `yaml:"modules"`
	Cache   Cache                `yaml:"cache"`
	Redis   Redis                `yaml:"redis"`
	Metrics Metrics              `yaml:"metrics"`
}

// Client configures the inbound IRC connection.
type Client struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port"`
	Nick     string   `yaml:"nick"`
	Username string   `yaml:"username"`
	Realname string   `yaml:"realname"`
	Retries  int      `yaml:"retries"`
	Channels Channels `yaml:"channels"`
	Users    Channels `yaml:"users"`
}

// Channels names the three feed channels, or the expected sender nick of
// each when used as Client.Users.
type Channels struct {
	RC          string `yaml:"rc"`
	Discussions string `yaml:"discussions"`
	Newusers    string `yaml:"newusers"`
}

// Log configures logging output. Discord is accepted for compatibility with
// deployments that relay logs to a webhook, but the core never reads it.
type Log struct {
	Level   string    `yaml:"level"`
	Dir     string    `yaml:"dir"`
	Discord yaml.Node `yaml:"discord"`
	Stdout  bool      `yaml:"stdout"`
	File    bool      `yaml:"file"`
	Debug   bool      `yaml:"debug"`
}

// Cache configures the on-disk message cache and the page-title TTL of the
// Redis enrichment cache.
type Cache struct {
	Dir      string        `yaml:"dir"`
	TitleTTL time.Duration `yaml:"title_ttl"`
}

// Redis configures the enrichment cache connection. Socket wins over Addr
// when both are set.
type Redis struct {
	Socket string `yaml:"socket"`
	Addr   string `yaml:"addr"`
	DB     int    `yaml:"db"`
}

// Metrics configures the Prometheus endpoint. An explicit port 0 disables
// the server; the pointer keeps "unset" apart from 0 so the default applies
// only when the key is absent.
type Metrics struct {
	Port *int `yaml:"port"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&config)
	overrideWithEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for optional fields.
func setDefaults(config *Config) {
	if config.Client.Server == "" {
		config.Client.Server = "irc.fandom.com"
	}
	if config.Client.Port == 0 {
		config.Client.Port = 6667
	}
	if config.Client.Retries == 0 {
		config.Client.Retries = 5
	}
	if config.Client.Username == "" {
		config.Client.Username = config.Client.Nick
	}
	if config.Client.Realname == "" {
		config.Client.Realname = config.Client.Nick
	}
	if config.Client.Channels.RC == "" {
		config.Client.Channels.RC = "#wikia-rc"
	}
	if config.Client.Channels.Discussions == "" {
		config.Client.Channels.Discussions = "#wikia-discussions"
	}
	if config.Client.Channels.Newusers == "" {
		config.Client.Channels.Newusers = "#wikia-newusers"
	}
	if config.Client.Users.RC == "" {
		config.Client.Users.RC = "rc-pmtpa"
	}
	if config.Client.Users.Discussions == "" {
		config.Client.Users.Discussions = "discussions"
	}
	if config.Client.Users.Newusers == "" {
		config.Client.Users.Newusers = "newusers"
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Dir == "" {
		config.Log.Dir = "logs"
	}

	if config.Cache.Dir == "" {
		config.Cache.Dir = "cache"
	}
	if config.Cache.TitleTTL == 0 {
		config.Cache.TitleTTL = 30 * 24 * time.Hour
	}

	if config.Redis.Socket == "" && config.Redis.Addr == "" {
		config.Redis.Socket = "/tmp/redis_kockalogger.sock"
	}

	if config.Metrics.Port == nil {
		port := 9041
		config.Metrics.Port = &port
	}
}

// overrideWithEnv overrides configuration with environment variables.
func overrideWithEnv(config *Config) {
	if server := os.Getenv("KOCKALOGGER_SERVER"); server != "" {
		config.Client.Server = server
	}
	if nick := os.Getenv("KOCKALOGGER_NICK"); nick != "" {
		config.Client.Nick = nick
	}
	if addr := os.Getenv("KOCKALOGGER_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
		config.Redis.Socket = ""
	}
	if port := os.Getenv("KOCKALOGGER_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = &p
		}
	}
	if level := os.Getenv("KOCKALOGGER_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Client.Nick == "" {
		return fmt.Errorf("client nick must not be empty")
	}
	if config.Client.Port <= 0 || config.Client.Port > 65535 {
		return fmt.Errorf("client port must be in 1-65535")
	}
	if config.Client.Retries < 0 {
		return fmt.Errorf("client retries must not be negative")
	}
	switch config.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", config.Log.Level)
	}
	if config.Redis.Socket == "" && config.Redis.Addr == "" {
		return fmt.Errorf("redis socket or addr must be set")
	}
	if config.Cache.TitleTTL < 0 {
		return fmt.Errorf("cache title_ttl must not be negative")
	}
	if *config.Metrics.Port < 0 || *config.Metrics.Port > 65535 {
		return fmt.Errorf("metrics port must be in 0-65535")
	}
	return nil
}
