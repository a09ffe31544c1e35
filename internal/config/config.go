// Package config loads calllog CLI settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Storage backends selectable with CALLLOG_BACKEND.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config is the CLI configuration.
type Config struct {
	Backend     string `env:"CALLLOG_BACKEND" envDefault:"sqlite"`
	DBPath      string `env:"CALLLOG_DB_PATH" envDefault:"calllog.db"`
	PostgresDSN string `env:"CALLLOG_POSTGRES_DSN"`
	MongoURI    string `env:"CALLLOG_MONGO_URI"`
	MongoDB     string `env:"CALLLOG_MONGO_DATABASE" envDefault:"calllog"`

	FetchLimit       int           `env:"CALLLOG_FETCH_LIMIT" envDefault:"1000"`
	QueueSize        int           `env:"CALLLOG_QUEUE_SIZE" envDefault:"64"`
	OperationTimeout time.Duration `env:"CALLLOG_OPERATION_TIMEOUT" envDefault:"30s"`

	// SlotAccounts maps SIM slots to phone accounts, "0=acct-a,1=acct-b|acct-c".
	SlotAccounts string `env:"CALLLOG_SLOT_ACCOUNTS"`
	StrictSlots  bool   `env:"CALLLOG_STRICT_SLOTS" envDefault:"false"`

	RedisAddr string `env:"CALLLOG_REDIS_ADDR"`

	LogLevel  string `env:"CALLLOG_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"CALLLOG_LOG_FORMAT" envDefault:"text"`
}

// Load reads the given .env files (".env" when none are given) and parses
// the environment. A missing default .env file is not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("load %v: %w", files, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if c.DBPath == "" {
			return errors.New("config: CALLLOG_DB_PATH is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("config: CALLLOG_POSTGRES_DSN is required for the postgres backend")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("config: CALLLOG_MONGO_URI is required for the mongo backend")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if _, err := ParseSlotAccounts(c.SlotAccounts); err != nil {
		return err
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Slots returns the parsed CALLLOG_SLOT_ACCOUNTS value.
func (c *Config) Slots() map[int][]string {
	slots, _ := ParseSlotAccounts(c.SlotAccounts)
	return slots
}

// ParseSlotAccounts parses "slot=account|account,slot=account". Empty
// input yields an empty map.
func ParseSlotAccounts(s string) (map[int][]string, error) {
	slots := make(map[int][]string)
	if strings.TrimSpace(s) == "" {
		return slots, nil
	}
	for _, entry := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("config: slot entry %q is not slot=account", entry)
		}
		slot, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || slot < 0 {
			return nil, fmt.Errorf("config: invalid slot %q", key)
		}
		for _, acct := range strings.Split(value, "|") {
			if acct = strings.TrimSpace(acct); acct != "" {
				slots[slot] = append(slots[slot], acct)
			}
		}
	}
	return slots, nil
}

// Logger builds a slog logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q", s)
	}
	return level, nil
}
