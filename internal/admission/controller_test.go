package admission

import (
	"testing"
	"time"

	"sendgate/internal/quota"
	logx "sendgate/pkg/logx"
)

func newController(t *testing.T, limits quota.Limits, restored quota.State) *Controller {
	t.Helper()
	c, err := New(quota.NewLedger(limits, time.UTC, restored, logx.Nop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRejectsBadLimits(t *testing.T) {
	_, err := New(quota.NewLedger(quota.Limits{}, time.UTC, quota.State{}, logx.Nop()))
	if err == nil {
		t.Fatalf("expected zero limits to be rejected")
	}
}

func TestSpacingInterval(t *testing.T) {
	cases := []struct {
		hourly uint
		want   time.Duration
	}{
		{5, 12 * time.Minute},
		{10, 6 * time.Minute},
		{20, 3 * time.Minute},
		{1, time.Hour},
	}
	for _, tc := range cases {
		c := newController(t, quota.Limits{Hourly: tc.hourly, Daily: 1000}, quota.State{})
		if got := c.SpacingInterval(); got != tc.want {
			t.Fatalf("hourly=%d: spacing = %v, want %v", tc.hourly, got, tc.want)
		}
	}
}

func TestNextEligibleTimePositions(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// No prior send: position 0 goes now, later positions step by spacing.
	c := newController(t, quota.Limits{Hourly: 5, Daily: 40}, quota.State{})
	if got := c.NextEligibleTime(now, 0); !got.Equal(now) {
		t.Fatalf("pos 0 = %v, want %v", got, now)
	}
	if got, want := c.NextEligibleTime(now, 2), now.Add(24*time.Minute); !got.Equal(want) {
		t.Fatalf("pos 2 = %v, want %v", got, want)
	}

	// A send 5 minutes ago pushes the base to lastSent+spacing.
	last := now.Add(-5 * time.Minute)
	c = newController(t, quota.Limits{Hourly: 5, Daily: 40}, quota.State{
		HourlySent: 1, DailySent: 1, LastSentAt: &last,
	})
	base := last.Add(12 * time.Minute)
	if got := c.NextEligibleTime(now, 0); !got.Equal(base) {
		t.Fatalf("pos 0 = %v, want %v", got, base)
	}
	if got, want := c.NextEligibleTime(now, 1), base.Add(12*time.Minute); !got.Equal(want) {
		t.Fatalf("pos 1 = %v, want %v", got, want)
	}

	// A send long ago has no effect: the base never moves before now.
	old := now.Add(-3 * time.Hour)
	c = newController(t, quota.Limits{Hourly: 5, Daily: 40}, quota.State{LastSentAt: &old})
	if got := c.NextEligibleTime(now, 0); !got.Equal(now) {
		t.Fatalf("stale lastSent: pos 0 = %v, want %v", got, now)
	}
}

func TestUnlockPriorityCooldownFirst(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cool := now.Add(20 * time.Minute)

	// Hourly cap hit AND cooldown active: cooldown wins the report.
	c := newController(t, quota.Limits{Hourly: 5, Daily: 40}, quota.State{
		HourlySent:    5,
		HourlyResetAt: now.Add(45 * time.Minute),
		DailySent:     40,
		DailyResetAt:  now.Add(12 * time.Hour),
		CooldownUntil: &cool,
	})

	b, blocked := c.TimeUntilUnlock(now)
	if !blocked {
		t.Fatalf("expected a block")
	}
	if b.Kind != BlockCooldown {
		t.Fatalf("block kind = %s, want cooldown", b.Kind)
	}
	if !b.Until.Equal(cool) || b.Remaining != 20*time.Minute {
		t.Fatalf("block = %+v", b)
	}
	if c.CanSend(now) {
		t.Fatalf("CanSend true under cooldown")
	}
}

func TestUnlockPriorityHourlyBeforeDaily(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	c := newController(t, quota.Limits{Hourly: 5, Daily: 40}, quota.State{
		HourlySent:    5,
		HourlyResetAt: now.Add(30 * time.Minute),
		DailySent:     40,
		DailyResetAt:  now.Add(12 * time.Hour),
	})

	b, blocked := c.TimeUntilUnlock(now)
	if !blocked || b.Kind != BlockHourly {
		t.Fatalf("block = %+v, blocked = %v; want hourly", b, blocked)
	}

	// Daily-only exhaustion reports the daily reset.
	c = newController(t, quota.Limits{Hourly: 5, Daily: 40}, quota.State{
		HourlySent:    2,
		HourlyResetAt: now.Add(30 * time.Minute),
		DailySent:     40,
		DailyResetAt:  now.Add(12 * time.Hour),
	})
	b, blocked = c.TimeUntilUnlock(now)
	if !blocked || b.Kind != BlockDaily {
		t.Fatalf("block = %+v, blocked = %v; want daily", b, blocked)
	}
	if b.Remaining != 12*time.Hour {
		t.Fatalf("remaining = %v, want 12h", b.Remaining)
	}
}

func TestBurstHitsCooldownThenHourlyWindow(t *testing.T) {
	// Plan: 5/hour. Five rapid confirms a minute apart exhaust the hour and
	// arm the cooldown from the moment of the fifth send.
	limits := quota.Limits{Hourly: 5, Daily: 40}
	ledger := quota.NewLedger(limits, time.UTC, quota.State{}, logx.Nop())
	c, err := New(ledger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t0 := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ledger.RecordSend(t0.Add(time.Duration(i) * time.Minute))
	}
	fifth := t0.Add(4 * time.Minute)

	// One minute after the burst: blocked by cooldown with ~29m left.
	b, blocked := c.TimeUntilUnlock(t0.Add(5 * time.Minute))
	if !blocked || b.Kind != BlockCooldown {
		t.Fatalf("block = %+v, blocked = %v; want cooldown", b, blocked)
	}
	if want := fifth.Add(quota.CooldownDuration); !b.Until.Equal(want) {
		t.Fatalf("cooldown until = %v, want %v", b.Until, want)
	}
	if b.Remaining != 29*time.Minute {
		t.Fatalf("remaining = %v, want 29m", b.Remaining)
	}

	// Cooldown over at 12:34 but the hourly window is still exhausted.
	afterCooldown := fifth.Add(quota.CooldownDuration)
	b, blocked = c.TimeUntilUnlock(afterCooldown)
	if !blocked || b.Kind != BlockHourly {
		t.Fatalf("after cooldown: block = %+v, blocked = %v; want hourly", b, blocked)
	}
	if want := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC); !b.Until.Equal(want) {
		t.Fatalf("hourly unlock = %v, want %v", b.Until, want)
	}

	// Top of the hour: open again.
	if !c.CanSend(time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("still blocked after the hourly reset")
	}
}

func TestEligibleAtCombinesSpacingAndBlock(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-2 * time.Minute)
	cool := now.Add(30 * time.Minute)

	c := newController(t, quota.Limits{Hourly: 5, Daily: 40}, quota.State{
		HourlySent:    5,
		HourlyResetAt: now.Add(58 * time.Minute),
		DailySent:     5,
		DailyResetAt:  now.Add(12 * time.Hour),
		CooldownUntil: &cool,
		LastSentAt:    &last,
	})

	// Spacing alone would say 12:10, but the cooldown holds until 12:30.
	if got := c.NextEligibleTime(now, 0); !got.Equal(last.Add(12 * time.Minute)) {
		t.Fatalf("spacing slot = %v", got)
	}
	if got := c.EligibleAt(now, 0); !got.Equal(cool) {
		t.Fatalf("eligible at = %v, want cooldown end %v", got, cool)
	}
	// Far positions extend past the block on the spacing grid alone.
	if got, want := c.EligibleAt(now, 4), last.Add(5*12*time.Minute); !got.Equal(want) {
		t.Fatalf("pos 4 eligible at = %v, want %v", got, want)
	}
}

func TestUsageTier(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	reset := quota.State{
		HourlyResetAt: now.Add(time.Hour),
		DailyResetAt:  now.Add(12 * time.Hour),
	}

	cases := []struct {
		hourly, daily uint
		want          Tier
	}{
		{0, 0, TierGreen},
		{3, 3, TierGreen},   // 60%
		{4, 4, TierOrange},  // 80% hourly
		{5, 5, TierRed},     // 100% hourly
		{2, 32, TierOrange}, // 80% daily dominates
		{2, 40, TierRed},    // 100% daily dominates
	}
	for _, tc := range cases {
		st := reset
		st.HourlySent = tc.hourly
		st.DailySent = tc.daily
		c := newController(t, quota.Limits{Hourly: 5, Daily: 40}, st)
		if got := c.UsageTier(now); got != tc.want {
			t.Fatalf("%d/%d: tier = %s, want %s", tc.hourly, tc.daily, got, tc.want)
		}
	}
}
