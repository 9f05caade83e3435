package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json state + jsonl send log)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and the engine runs
// with fresh in-memory state.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SendLogEntry records the outcome of one queue head.
// Keep it compact and schema-stable.
type SendLogEntry struct {
	At          time.Time
	Account     string
	ItemID      string
	Destination string
	Outcome     string // "sent" or "skipped"
	HourlySent  uint
	DailySent   uint
}
