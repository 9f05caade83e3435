// Package admission turns quota bookkeeping into yes/no send decisions and
// a spacing-derived schedule for queued items.
package admission

import (
	"fmt"
	"time"

	"sendgate/internal/quota"
)

// BlockKind names the first condition preventing a send.
type BlockKind string

const (
	BlockCooldown BlockKind = "cooldown"
	BlockHourly   BlockKind = "hourly"
	BlockDaily    BlockKind = "daily"
)

// Block describes why sending is currently refused and when it unblocks.
type Block struct {
	Kind      BlockKind
	Until     time.Time
	Remaining time.Duration
}

// Tier is a presentation-only closeness-to-limit classification.
type Tier string

const (
	TierGreen  Tier = "green"
	TierOrange Tier = "orange"
	TierRed    Tier = "red"
)

const (
	tierOrangeAt = 0.80
	tierRedAt    = 1.00
)

// Controller wraps a ledger. All methods are total once construction
// succeeds; malformed limits are rejected here so SpacingInterval can never
// divide by zero.
type Controller struct {
	ledger  *quota.Ledger
	spacing time.Duration
}

func New(ledger *quota.Ledger) (*Controller, error) {
	limits := ledger.Limits()
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("admission: %w", err)
	}
	return &Controller{
		ledger:  ledger,
		spacing: time.Hour / time.Duration(limits.Hourly),
	}, nil
}

// SpacingInterval is the minimum enforced gap between two sends: spreading
// the hourly budget evenly keeps bursty confirms inside the window.
func (c *Controller) SpacingInterval() time.Duration { return c.spacing }

// CanSend reports whether a send is admissible right now.
func (c *Controller) CanSend(now time.Time) bool {
	_, blocked := c.TimeUntilUnlock(now)
	return !blocked
}

// TimeUntilUnlock returns the first applicable block in priority order
// cooldown > hourly > daily, or ok=false when sending is open.
func (c *Controller) TimeUntilUnlock(now time.Time) (Block, bool) {
	s := c.ledger.Status(now)

	if s.CooldownUntil != nil && now.Before(*s.CooldownUntil) {
		return Block{Kind: BlockCooldown, Until: *s.CooldownUntil, Remaining: s.CooldownUntil.Sub(now)}, true
	}
	if s.HourlySent >= s.HourlyLimit {
		return Block{Kind: BlockHourly, Until: s.HourlyResetAt, Remaining: s.HourlyResetAt.Sub(now)}, true
	}
	if s.DailySent >= s.DailyLimit {
		return Block{Kind: BlockDaily, Until: s.DailyResetAt, Remaining: s.DailyResetAt.Sub(now)}, true
	}
	return Block{}, false
}

// NextEligibleTime places the item at queue position pos (0 = next to send)
// on the spacing grid. It deliberately ignores hard blocks; EligibleAt
// combines both.
func (c *Controller) NextEligibleTime(now time.Time, pos uint) time.Time {
	s := c.ledger.Status(now)

	base := now
	if s.LastSentAt != nil {
		if next := s.LastSentAt.Add(c.spacing); next.After(base) {
			base = next
		}
	}
	return base.Add(time.Duration(pos) * c.spacing)
}

// EligibleAt is the schedule the ticker actually enforces: the later of the
// spacing-derived slot and any active hard block.
func (c *Controller) EligibleAt(now time.Time, pos uint) time.Time {
	at := c.NextEligibleTime(now, pos)
	if b, blocked := c.TimeUntilUnlock(now); blocked && b.Until.After(at) {
		return b.Until
	}
	return at
}

// UsageTier classifies consumption for presentation only.
func (c *Controller) UsageTier(now time.Time) Tier {
	s := c.ledger.Status(now)
	h := float64(s.HourlySent) / float64(s.HourlyLimit)
	d := float64(s.DailySent) / float64(s.DailyLimit)
	worst := h
	if d > worst {
		worst = d
	}
	switch {
	case worst >= tierRedAt:
		return TierRed
	case worst >= tierOrangeAt:
		return TierOrange
	default:
		return TierGreen
	}
}
