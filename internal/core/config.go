package core

import (
	"time"
)

const (
	// DefaultServerHost binds the HTTP API on all interfaces.
	DefaultServerHost = "0.0.0.0"
	// DefaultServerPort is the HTTP API port.
	DefaultServerPort = 8080
	// DefaultHistoryLimit is the retention ceiling of the play history log.
	DefaultHistoryLimit = 250
	// DefaultTopPlayedLimit caps the top-played leaderboard.
	DefaultTopPlayedLimit = 100
	// DefaultDisabledWriteTimeoutSecs bounds disabled-song writes.
	DefaultDisabledWriteTimeoutSecs = 10
	// DefaultRequestLimitPerMinute is the per-client limit on mutating requests.
	DefaultRequestLimitPerMinute = 20
	// DefaultMaxActiveParties is how many party controllers stay open at once.
	DefaultMaxActiveParties = 64
	// DefaultLanguage is used for user-facing error messages.
	DefaultLanguage = "en"

	// StoreDriverMemory keeps all party state in process memory.
	StoreDriverMemory = "memory"
	// StoreDriverSQLite persists party documents to a SQLite file.
	StoreDriverSQLite = "sqlite"
)

type Config struct {
	Server ServerConfig
	Log    LogConfig
	Store  StoreConfig
	App    AppConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	Driver string
	Path   string
}

type AppConfig struct {
	HistoryLimit             int
	TopPlayedLimit           int
	DisabledWriteTimeoutSecs int
	RequestLimitPerMinute    int
	MaxActiveParties         int
	Language                 string
	CatalogDir               string
}

// DisabledWriteTimeout returns the disabled-song write bound as a duration.
func (c AppConfig) DisabledWriteTimeout() time.Duration {
	return time.Duration(c.DisabledWriteTimeoutSecs) * time.Second
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultServerHost,
			Port:         DefaultServerPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Driver: StoreDriverMemory,
			Path:   "./karaoke.db",
		},
		App: AppConfig{
			HistoryLimit:             DefaultHistoryLimit,
			TopPlayedLimit:           DefaultTopPlayedLimit,
			DisabledWriteTimeoutSecs: DefaultDisabledWriteTimeoutSecs,
			RequestLimitPerMinute:    DefaultRequestLimitPerMinute,
			MaxActiveParties:         DefaultMaxActiveParties,
			Language:                 DefaultLanguage,
		},
	}
}
