package engine

import (
	"time"

	"sendgate/internal/admission"
	"sendgate/internal/queue"
)

// Status is the read-only view handed to UI/automation consumers. When
// sending is blocked it always carries enough context (tier + block) to
// explain why, never just a bare boolean.
type Status struct {
	Account string `json:"account"`
	Plan    string `json:"plan"`

	HourlySent  uint `json:"hourly_sent"`
	HourlyLimit uint `json:"hourly_limit"`
	DailySent   uint `json:"daily_sent"`
	DailyLimit  uint `json:"daily_limit"`

	Tier    admission.Tier   `json:"tier"`
	Blocked *admission.Block `json:"blocked,omitempty"`

	QueueLen int  `json:"queue_len"`
	Paused   bool `json:"paused"`

	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
}

// CooldownRemaining is a convenience for presentation code; zero means no
// active cooldown.
func (s Status) CooldownRemaining() time.Duration {
	if s.Blocked == nil || s.Blocked.Kind != admission.BlockCooldown {
		return 0
	}
	return s.Blocked.Remaining
}

// ReadyEvent is published once per not-ready -> ready transition of the
// queue head (eventbus.TypeSendReady).
type ReadyEvent struct {
	Account    string     `json:"account"`
	Item       queue.Item `json:"item"`
	EligibleAt time.Time  `json:"eligible_at"`
}

// StateEvent is published after every externally visible state change
// (eventbus.TypeStateChange).
type StateEvent struct {
	Account string `json:"account"`
	Reason  string `json:"reason"`
	Status  Status `json:"status"`
}
