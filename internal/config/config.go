package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "siteline.yml"

// Duration is a time.Duration that reads Go duration strings from YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config models siteline.yml.
type Config struct {
	Store struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`
	Cache struct {
		RedisAddr     string   `yaml:"redis_addr"`
		RedisPassword string   `yaml:"redis_password"`
		RedisDB       int      `yaml:"redis_db"`
		TTL           Duration `yaml:"ttl"`
	} `yaml:"cache"`
	Recompute struct {
		Workers            int      `yaml:"workers"`
		WriteDelay         Duration `yaml:"write_delay"`
		Deadline           Duration `yaml:"deadline"`
		Interval           Duration `yaml:"interval"`
		PreserveManual     bool     `yaml:"preserve_manual"`
		LegacyUnitFallback bool     `yaml:"legacy_unit_fallback"`
	} `yaml:"recompute"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Notify struct {
		AMQPURL  string `yaml:"amqp_url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"notify"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config.store.dsn is required for driver postgres")
		}
	default:
		return fmt.Errorf("config.store.driver must be 'sqlite' or 'postgres', got %q", c.Store.Driver)
	}
	if c.Cache.RedisAddr != "" && c.Cache.TTL <= 0 {
		return fmt.Errorf("config.cache.ttl must be positive when redis_addr is set")
	}
	if c.Recompute.Workers < 1 {
		return fmt.Errorf("config.recompute.workers must be at least 1")
	}
	if c.Recompute.WriteDelay < 0 {
		return fmt.Errorf("config.recompute.write_delay must not be negative")
	}
	if c.Recompute.Deadline < 0 {
		return fmt.Errorf("config.recompute.deadline must not be negative")
	}
	if c.Recompute.Interval < 0 {
		return fmt.Errorf("config.recompute.interval must not be negative")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	if c.Notify.AMQPURL != "" && c.Notify.Exchange == "" {
		return fmt.Errorf("config.notify.exchange is required when amqp_url is set")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `store:
  driver: sqlite
  dsn: ""

cache:
  redis_addr: ""
  redis_password: ""
  redis_db: 0
  ttl: 5m

recompute:
  workers: 4
  write_delay: 50ms
  deadline: 10m
  interval: 1h
  preserve_manual: true
  legacy_unit_fallback: false

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""

notify:
  amqp_url: ""
  exchange: siteline.events

log:
  level: info
  development: false
`
