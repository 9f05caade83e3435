package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Pacing holds knobs shared by every account engine.
	Pacing PacingConfig `json:"pacing,omitempty"`

	// Accounts lists the outreach accounts this daemon paces. Each gets
	// its own engine (ledger + queue + ticker).
	Accounts []AccountConfig `json:"accounts"`

	// Plans overrides/extends the built-in plan catalog.
	Plans map[string]PlanLimits `json:"plans,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

type AccountConfig struct {
	ID   string `json:"id"`
	Plan string `json:"plan"`
}

// PlanLimits mirrors quota.Limits in config form. Zero values are rejected
// at load time so the admission controller never divides by zero.
type PlanLimits struct {
	HourlyLimit uint `json:"hourly_limit"`
	DailyLimit  uint `json:"daily_limit"`
}

// PacingConfig controls window alignment.
//
// Timezone is an IANA name (e.g. "America/New_York"); daily quota resets
// at midnight in that zone. Empty means the host's local zone.
type PacingConfig struct {
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the operator-ping pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true
// with only the log sink attached.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	StateChanges    bool   `json:"state_changes,omitempty"`

	// Command runs a desktop notifier program per ping (e.g. notify-send).
	Command *CommandSinkConfig `json:"command,omitempty"`

	// Telegram pings an operator chat.
	Telegram *TelegramSinkConfig `json:"telegram,omitempty"`
}

type CommandSinkConfig struct {
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
}

type TelegramSinkConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./sendgate.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
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
