// Package quota tracks outbound-send consumption against two wall-clock
// aligned windows (current hour, current local day) plus a punitive
// cooldown armed when the hourly cap is hit.
//
// The ledger is a plain state machine: it never reads the system clock and
// is not safe for concurrent use. The owning engine serializes access and
// persists State after every mutation.
package quota

import (
	"errors"
	"fmt"
	"time"
)

// CooldownDuration is the forced pause after the hourly cap is reached.
const CooldownDuration = 30 * time.Minute

var ErrBadLimits = errors.New("quota: limits must be at least 1 per window")

// Limits is the per-plan cap pair. Immutable for the lifetime of a Ledger;
// a plan change builds a fresh ledger around the surviving State.
type Limits struct {
	Hourly uint `json:"hourly"`
	Daily  uint `json:"daily"`
}

func (l Limits) Validate() error {
	if l.Hourly == 0 || l.Daily == 0 {
		return ErrBadLimits
	}
	if l.Daily < l.Hourly {
		return fmt.Errorf("quota: daily limit %d below hourly limit %d", l.Daily, l.Hourly)
	}
	return nil
}

// State is the persisted quota bookkeeping.
//
// Counts only ever increase within a window; sends cannot be undone.
// Reset timestamps are always in the future relative to the last Reconcile.
type State struct {
	HourlySent    uint       `json:"hourly_sent"`
	HourlyResetAt time.Time  `json:"hourly_reset_at"`
	DailySent     uint       `json:"daily_sent"`
	DailyResetAt  time.Time  `json:"daily_reset_at"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastSentAt    *time.Time `json:"last_sent_at,omitempty"`
}

// Snapshot is the read-only view handed to status callers.
type Snapshot struct {
	HourlySent    uint
	HourlyLimit   uint
	HourlyResetAt time.Time
	DailySent     uint
	DailyLimit    uint
	DailyResetAt  time.Time
	CooldownUntil *time.Time
	LastSentAt    *time.Time
}
