package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Sessions  SessionsConfig  `json:"sessions,omitempty"`
	Retention RetentionConfig `json:"retention,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and provided via the BOT_TOKEN
	// environment variable instead. With neither set, startup fails.
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	// Path of the sqlite database file.
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// BroadcastConfig tunes the fan-out. Live-reloadable.
type BroadcastConfig struct {
	Workers    int `json:"workers,omitempty"`      // default 4
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 25
}

// SessionsConfig controls the admin-flow state machine.
type SessionsConfig struct {
	// TTL is a Go duration string; abandoned flows are reset after it.
	// Default "30m".
	TTL string `json:"ttl,omitempty"`
}

// RetentionConfig controls pruning of old broadcast records.
// With MaxAge omitted the log is kept forever.
type RetentionConfig struct {
	// MaxAge is a Go duration string (e.g. "2160h" for 90 days).
	MaxAge string `json:"max_age,omitempty"`
	// Schedule is a cron spec; default "0 3 * * *".
	Schedule string `json:"schedule,omitempty"`
}
