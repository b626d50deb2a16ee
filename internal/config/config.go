package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is read from the environment, after an optional .env file.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`

	StoragePath      string        `env:"STORAGE_PATH" envDefault:"datastore.json"`
	AutoSaveInterval time.Duration `env:"STORAGE_AUTOSAVE" envDefault:"30s"`
	BackupCount      int           `env:"STORAGE_BACKUPS" envDefault:"3"`
	TriggerLogPath   string        `env:"TRIGGER_LOG_PATH" envDefault:"triggers.db"`
	PruneInterval    time.Duration `env:"TRIGGER_LOG_PRUNE_INTERVAL" envDefault:"1h"`
	Retention        time.Duration `env:"TRIGGER_LOG_RETENTION" envDefault:"720h"`

	// TablesDir overrides individual embedded YAML tables by file name.
	TablesDir string `env:"BEHAVIOR_TABLES_DIR"`

	// RedisAddr enables the redis consent store when set.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	ConsentPrefix string `env:"CONSENT_PREFIX" envDefault:"consent"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	APIKey          string        `env:"API_KEY"` // empty leaves the HTTP API open
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// RateLimit is messages per second per agent; RateBurst the bucket size.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"2"`
	RateBurst int     `env:"RATE_BURST" envDefault:"5"`

	Workers int `env:"WORKERS" envDefault:"4"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"console"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`

	HistorySize int  `env:"HISTORY_SIZE" envDefault:"20"`
	Explicit    bool `env:"EXPLICIT_MODE" envDefault:"false"`
}

var ErrMissingToken = errors.New("DISCORD_TOKEN is not set")

// LoadDotEnv loads .env into the process environment when the file exists.
// It reports whether a file was loaded.
func LoadDotEnv(files ...string) bool {
	if err := godotenv.Load(files...); err != nil {
		return false
	}
	return true
}

// New parses the environment.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RateLimit < 0 {
		return fmt.Errorf("RATE_LIMIT must not be negative, got %v", c.RateLimit)
	}
	if c.RateBurst < 1 {
		return fmt.Errorf("RATE_BURST must be at least 1, got %d", c.RateBurst)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// RequireDiscord checks the settings only the Discord host needs.
func (c *Config) RequireDiscord() error {
	if c.DiscordToken == "" {
		return ErrMissingToken
	}
	return nil
}

// TablesFS returns the override directory as a file system, or nil when
// no directory is configured.
func (c *Config) TablesFS() (fs.FS, error) {
	if c.TablesDir == "" {
		return nil, nil
	}
	fi, err := os.Stat(c.TablesDir)
	if err != nil {
		return nil, fmt.Errorf("BEHAVIOR_TABLES_DIR: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("BEHAVIOR_TABLES_DIR: %s is not a directory", c.TablesDir)
	}
	return os.DirFS(c.TablesDir), nil
}
