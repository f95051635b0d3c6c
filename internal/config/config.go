package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/DoyleJ11/lobby-sync/internal/engine"
	"github.com/DoyleJ11/lobby-sync/internal/roster"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Lobby    LobbyConfig    `toml:"lobby"`
}

type ServerConfig struct {
	Addr            string        `toml:"addr"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL string `toml:"url"` // empty keeps results in memory
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type LobbyConfig struct {
	MaxSeats       int           `toml:"max_seats"`
	Policy         string        `toml:"policy"`           // "strict" or "permissive"
	CloseDelay     time.Duration `toml:"close_delay"`      // closing -> hand-off
	BootFlushDelay time.Duration `toml:"boot_flush_delay"` // reason -> close, 0 still waits one loop round
	RetireDelay    time.Duration `toml:"retire_delay"`     // hand-off -> lobby stops and its code is freed
	NextScene      string        `toml:"next_scene"`
	LobbyScene     int32         `toml:"lobby_scene"`
}

// Load builds the configuration in layers: defaults, then the TOML file at
// path (skipped when path is empty), then .env files, then the process
// environment.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := loadDotenv(envFiles); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Lobby: LobbyConfig{
			MaxSeats:    8,
			Policy:      string(engine.PolicyStrict),
			CloseDelay:  3 * time.Second,
			RetireDelay: 5 * time.Second,
			NextScene:   "GameRoom",
			LobbyScene:  1,
		},
	}
}

// loadDotenv never overrides variables already set in the environment. A
// missing default .env is fine; a missing explicit file is not.
func loadDotenv(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("LOBBY_ADDR", &c.Server.Addr)
	str("DATABASE_URL", &c.Database.URL)
	str("LOBBY_DATABASE_URL", &c.Database.URL)
	str("LOBBY_LOG_LEVEL", &c.Logging.Level)
	str("LOBBY_LOG_FORMAT", &c.Logging.Format)
	str("LOBBY_POLICY", &c.Lobby.Policy)
	str("LOBBY_NEXT_SCENE", &c.Lobby.NextScene)

	if v, ok := os.LookupEnv("LOBBY_MAX_SEATS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOBBY_MAX_SEATS: %w", err)
		}
		c.Lobby.MaxSeats = n
	}
	if v, ok := os.LookupEnv("LOBBY_SCENE"); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("LOBBY_SCENE: %w", err)
		}
		c.Lobby.LobbyScene = int32(n)
	}
	for key, dst := range map[string]*time.Duration{
		"LOBBY_CLOSE_DELAY":      &c.Lobby.CloseDelay,
		"LOBBY_BOOT_FLUSH_DELAY": &c.Lobby.BootFlushDelay,
		"LOBBY_RETIRE_DELAY":     &c.Lobby.RetireDelay,
		"LOBBY_SHUTDOWN_TIMEOUT": &c.Server.ShutdownTimeout,
	} {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Lobby.MaxSeats <= 0 || c.Lobby.MaxSeats > roster.MaxSeatsLimit {
		return fmt.Errorf("lobby.max_seats must be between 1 and %d, got %d", roster.MaxSeatsLimit, c.Lobby.MaxSeats)
	}
	if _, err := engine.ParsePolicy(c.Lobby.Policy); err != nil {
		return err
	}
	if c.Lobby.CloseDelay < 0 || c.Lobby.BootFlushDelay < 0 || c.Lobby.RetireDelay < 0 {
		return fmt.Errorf("lobby delays must not be negative")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

// Rules converts the lobby section into engine rules. Call after Validate.
func (c *Config) Rules() engine.Rules {
	policy, _ := engine.ParsePolicy(c.Lobby.Policy)
	return engine.Rules{
		MaxSeats:       c.Lobby.MaxSeats,
		Policy:         policy,
		CloseDelay:     c.Lobby.CloseDelay,
		BootFlushDelay: c.Lobby.BootFlushDelay,
		RetireDelay:    c.Lobby.RetireDelay,
		NextScene:      c.Lobby.NextScene,
		LobbyScene:     c.Lobby.LobbyScene,
	}
}
