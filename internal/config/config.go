// Package config provides viper-based configuration loading for the room server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// WebsocketConfig holds settings for the per-client websocket channel.
type WebsocketConfig struct {
	// Subprotocol is the required websocket subprotocol. Empty accepts any client.
	Subprotocol    string        `mapstructure:"subprotocol"`
	OriginPatterns []string      `mapstructure:"origin_patterns"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadLimit      int64         `mapstructure:"read_limit"`
}

// RoomsConfig holds room lifecycle timing and id allocation settings.
type RoomsConfig struct {
	// ReconnectGrace is how long a disconnected player's record is retained.
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
	// EmptyGrace is how long a room without live connections survives before removal.
	EmptyGrace time.Duration `mapstructure:"empty_grace"`
	IDLength   int           `mapstructure:"id_length"`
	IDAlphabet string        `mapstructure:"id_alphabet"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "text".
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig holds the Redis client and queue names.
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	DB           int    `mapstructure:"db"`
	ActionQueue  string `mapstructure:"action_queue"`
	SessionQueue string `mapstructure:"session_queue"`
}

// Persistence modes for finished game sessions.
const (
	PersistNone   = "none"
	PersistDirect = "direct"
	PersistQueue  = "queue"
)

// PersistenceConfig selects where finished session records go.
type PersistenceConfig struct {
	// Mode is "none" (log only), "direct" (postgres) or "queue" (redis, drained by the historian).
	Mode    string        `mapstructure:"mode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HistorianConfig holds batching settings for the queue consumer.
type HistorianConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	PopTimeout    time.Duration `mapstructure:"pop_timeout"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Websocket   WebsocketConfig   `mapstructure:"websocket"`
	Rooms       RoomsConfig       `mapstructure:"rooms"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Historian   HistorianConfig   `mapstructure:"historian"`
}

// Validate checks all configuration invariants and reports every violation at once.
func (c Config) Validate() error {
	var errs []string
	add := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	add(validateServer(c.Server))
	add(validateWebsocket(c.Websocket))
	add(validateRooms(c.Rooms))
	add(validateLogging(c.Logging))
	if c.Database.Enabled {
		add(validateDatabase(c.Database))
	}
	if c.Redis.Enabled {
		add(validateRedis(c.Redis))
	}
	add(validatePersistence(c))
	add(validateHistorian(c.Historian))

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if s.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must not be negative")
	}
	return nil
}

func validateWebsocket(w WebsocketConfig) error {
	var errs []string
	if w.PingInterval <= 0 {
		errs = append(errs, "websocket.ping_interval must be positive")
	}
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	if w.ReadLimit < 0 {
		errs = append(errs, "websocket.read_limit must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateRooms(r RoomsConfig) error {
	var errs []string
	if r.ReconnectGrace < 0 {
		errs = append(errs, "rooms.reconnect_grace must not be negative")
	}
	if r.EmptyGrace < 0 {
		errs = append(errs, "rooms.empty_grace must not be negative")
	}
	if r.IDLength < 4 {
		errs = append(errs, fmt.Sprintf("rooms.id_length must be >= 4, got %d", r.IDLength))
	}
	if len(r.IDAlphabet) < 2 {
		errs = append(errs, "rooms.id_alphabet must have at least two characters")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, text], got %q", l.Format)
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 || d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must be between 0 and database.max_conns")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateRedis(r RedisConfig) error {
	var errs []string
	if r.Addr == "" {
		errs = append(errs, "redis.addr must not be empty")
	}
	if r.ActionQueue == "" || r.SessionQueue == "" {
		errs = append(errs, "redis.action_queue and redis.session_queue must not be empty")
	}
	if r.ActionQueue == r.SessionQueue {
		errs = append(errs, "redis.action_queue and redis.session_queue must differ")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validatePersistence(c Config) error {
	switch c.Persistence.Mode {
	case PersistNone:
	case PersistDirect:
		if !c.Database.Enabled {
			return errors.New("persistence.mode=direct requires database.enabled")
		}
	case PersistQueue:
		if !c.Redis.Enabled {
			return errors.New("persistence.mode=queue requires redis.enabled")
		}
	default:
		return fmt.Errorf("persistence.mode must be one of [none, direct, queue], got %q", c.Persistence.Mode)
	}
	if c.Persistence.Timeout <= 0 {
		return errors.New("persistence.timeout must be positive")
	}
	return nil
}

func validateHistorian(h HistorianConfig) error {
	if h.BatchSize < 1 {
		return fmt.Errorf("historian.batch_size must be >= 1, got %d", h.BatchSize)
	}
	if h.FlushInterval <= 0 || h.PopTimeout <= 0 {
		return errors.New("historian.flush_interval and historian.pop_timeout must be positive")
	}
	return nil
}

// Load reads configuration from an optional YAML file, a local .env file and
// ROOMS_-prefixed environment variables, then validates the result.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ROOMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("websocket.subprotocol", "")
	v.SetDefault("websocket.origin_patterns", []string{"*"})
	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.write_timeout", 5*time.Second)
	v.SetDefault("websocket.read_limit", 64*1024)

	v.SetDefault("rooms.reconnect_grace", 5*time.Second)
	v.SetDefault("rooms.empty_grace", 30*time.Second)
	v.SetDefault("rooms.id_length", 8)
	v.SetDefault("rooms.id_alphabet", "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "rooms")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.action_queue", "room_actions")
	v.SetDefault("redis.session_queue", "room_sessions")

	v.SetDefault("persistence.mode", PersistNone)
	v.SetDefault("persistence.timeout", 5*time.Second)

	v.SetDefault("historian.batch_size", 50)
	v.SetDefault("historian.flush_interval", 5*time.Second)
	v.SetDefault("historian.pop_timeout", 2*time.Second)
}
