package quota

import (
	"testing"
	"time"

	logx "sendgate/pkg/logx"
)

func newTestLedger(limits Limits, restored State) *Ledger {
	return NewLedger(limits, time.UTC, restored, logx.Nop())
}

func TestLimitsValidate(t *testing.T) {
	if err := (Limits{Hourly: 5, Daily: 40}).Validate(); err != nil {
		t.Fatalf("valid limits rejected: %v", err)
	}
	if err := (Limits{Hourly: 0, Daily: 40}).Validate(); err == nil {
		t.Fatalf("expected zero hourly limit to be rejected")
	}
	if err := (Limits{Hourly: 5, Daily: 0}).Validate(); err == nil {
		t.Fatalf("expected zero daily limit to be rejected")
	}
	if err := (Limits{Hourly: 10, Daily: 5}).Validate(); err == nil {
		t.Fatalf("expected daily < hourly to be rejected")
	}
}

func TestReconcileInitializesBoundaries(t *testing.T) {
	l := newTestLedger(Limits{Hourly: 5, Daily: 40}, State{})
	now := time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)

	if !l.Reconcile(now) {
		t.Fatalf("first reconcile should report a change")
	}
	st := l.State()
	wantHour := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	wantDay := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	if !st.HourlyResetAt.Equal(wantHour) {
		t.Fatalf("hourly reset = %v, want %v", st.HourlyResetAt, wantHour)
	}
	if !st.DailyResetAt.Equal(wantDay) {
		t.Fatalf("daily reset = %v, want %v", st.DailyResetAt, wantDay)
	}

	if l.Reconcile(now) {
		t.Fatalf("second reconcile at the same instant should be a no-op")
	}
}

func TestBoundaryIsStrictlyAfterNow(t *testing.T) {
	l := newTestLedger(Limits{Hourly: 5, Daily: 40}, State{})
	// Exactly on the hour: the next boundary must be the following hour,
	// never "now" itself.
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l.Reconcile(now)

	st := l.State()
	want := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	if !st.HourlyResetAt.Equal(want) {
		t.Fatalf("hourly reset = %v, want %v", st.HourlyResetAt, want)
	}
}

func TestRecordSendCounts(t *testing.T) {
	l := newTestLedger(Limits{Hourly: 5, Daily: 40}, State{})
	now := time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)

	l.RecordSend(now)
	l.RecordSend(now.Add(time.Minute))

	st := l.State()
	if st.HourlySent != 2 || st.DailySent != 2 {
		t.Fatalf("counts = %d/%d, want 2/2", st.HourlySent, st.DailySent)
	}
	if st.LastSentAt == nil || !st.LastSentAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("last sent = %v, want %v", st.LastSentAt, now.Add(time.Minute))
	}
	if st.CooldownUntil != nil {
		t.Fatalf("cooldown armed below the hourly cap")
	}
}

func TestHourlyRolloverKeepsDailyCount(t *testing.T) {
	l := newTestLedger(Limits{Hourly: 5, Daily: 40}, State{})
	now := time.Date(2025, 3, 10, 12, 50, 0, 0, time.UTC)

	l.RecordSend(now)
	l.RecordSend(now.Add(time.Minute))

	// Cross the top of the hour.
	later := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	if !l.Reconcile(later) {
		t.Fatalf("reconcile across the boundary should report a change")
	}
	st := l.State()
	if st.HourlySent != 0 {
		t.Fatalf("hourly count = %d after rollover, want 0", st.HourlySent)
	}
	if st.DailySent != 2 {
		t.Fatalf("daily count = %d after hourly rollover, want 2", st.DailySent)
	}
	if !st.HourlyResetAt.Equal(time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("next hourly reset = %v", st.HourlyResetAt)
	}
}

func TestDailyRolloverAtMidnight(t *testing.T) {
	l := newTestLedger(Limits{Hourly: 5, Daily: 40}, State{})
	now := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)
	l.RecordSend(now)

	next := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	l.Reconcile(next)

	st := l.State()
	if st.HourlySent != 0 || st.DailySent != 0 {
		t.Fatalf("counts = %d/%d after midnight, want 0/0", st.HourlySent, st.DailySent)
	}
	if !st.DailyResetAt.Equal(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("next daily reset = %v", st.DailyResetAt)
	}
}

func TestCooldownArmedAtHourlyCap(t *testing.T) {
	l := newTestLedger(Limits{Hourly: 2, Daily: 10}, State{})
	now := time.Date(2025, 3, 10, 12, 10, 0, 0, time.UTC)

	l.RecordSend(now)
	if l.State().CooldownUntil != nil {
		t.Fatalf("cooldown armed one send below the cap")
	}

	capAt := now.Add(5 * time.Minute)
	l.RecordSend(capAt)
	st := l.State()
	if st.CooldownUntil == nil {
		t.Fatalf("cooldown not armed at the hourly cap")
	}
	if want := capAt.Add(CooldownDuration); !st.CooldownUntil.Equal(want) {
		t.Fatalf("cooldown until = %v, want %v", st.CooldownUntil, want)
	}

	// Before expiry: stays armed. At expiry: cleared.
	l.Reconcile(capAt.Add(CooldownDuration - time.Second))
	if l.State().CooldownUntil == nil {
		t.Fatalf("cooldown cleared early")
	}
	if !l.Reconcile(capAt.Add(CooldownDuration)) {
		t.Fatalf("clearing the cooldown should report a change")
	}
	if l.State().CooldownUntil != nil {
		t.Fatalf("cooldown survived its expiry")
	}
}

func TestRestoredStateReconciles(t *testing.T) {
	// A restart long after shutdown: persisted boundaries are in the past
	// and must roll forward on the first reconcile.
	stale := State{
		HourlySent:    4,
		HourlyResetAt: time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC),
		DailySent:     12,
		DailyResetAt:  time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
	}
	l := newTestLedger(Limits{Hourly: 5, Daily: 40}, stale)

	now := time.Date(2025, 3, 12, 9, 15, 0, 0, time.UTC)
	if !l.Reconcile(now) {
		t.Fatalf("stale state should reconcile with changes")
	}
	st := l.State()
	if st.HourlySent != 0 || st.DailySent != 0 {
		t.Fatalf("counts = %d/%d after catch-up, want 0/0", st.HourlySent, st.DailySent)
	}
	if !st.HourlyResetAt.Equal(time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("hourly reset = %v", st.HourlyResetAt)
	}
	if !st.DailyResetAt.Equal(time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("daily reset = %v", st.DailyResetAt)
	}
}
