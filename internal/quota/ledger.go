package quota

import (
	"time"

	logx "sendgate/pkg/logx"
)

// Ledger is the single authority over State. All mutation goes through
// RecordSend and Reconcile; nothing else may touch the counters.
type Ledger struct {
	limits Limits
	loc    *time.Location
	state  State

	log logx.Logger
}

// NewLedger builds a ledger around a previously persisted state.
// Pass a zero State for a fresh account; boundaries are initialized on the
// first Reconcile. limits must already be validated (plan catalog does).
func NewLedger(limits Limits, loc *time.Location, restored State, log logx.Logger) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{limits: limits, loc: loc, state: restored, log: log}
}

func (l *Ledger) Limits() Limits { return l.limits }

// State returns a copy of the current bookkeeping for persistence.
func (l *Ledger) State() State { return l.state }

// Reconcile rolls windows forward and clears an elapsed cooldown.
// It is idempotent and safe to call on every tick and before every read.
// Returns true when anything changed (callers persist on change).
func (l *Ledger) Reconcile(now time.Time) bool {
	changed := false

	if l.state.HourlyResetAt.IsZero() {
		l.state.HourlyResetAt = nextHourBoundary(now, l.loc)
		changed = true
	} else if !now.Before(l.state.HourlyResetAt) {
		l.state.HourlySent = 0
		l.state.HourlyResetAt = nextHourBoundary(now, l.loc)
		l.log.Debug("hourly window reset", logx.Time("next_reset", l.state.HourlyResetAt))
		changed = true
	}

	if l.state.DailyResetAt.IsZero() {
		l.state.DailyResetAt = nextMidnight(now, l.loc)
		changed = true
	} else if !now.Before(l.state.DailyResetAt) {
		l.state.DailySent = 0
		l.state.DailyResetAt = nextMidnight(now, l.loc)
		l.log.Debug("daily window reset", logx.Time("next_reset", l.state.DailyResetAt))
		changed = true
	}

	if l.state.CooldownUntil != nil && !now.Before(*l.state.CooldownUntil) {
		l.state.CooldownUntil = nil
		l.log.Debug("cooldown cleared")
		changed = true
	}

	return changed
}

// RecordSend commits one send at now. There is no undo: a delivered message
// cannot be unsent, so counts only move forward.
// Hitting the hourly cap arms the cooldown on top of the window block.
func (l *Ledger) RecordSend(now time.Time) {
	l.Reconcile(now)

	l.state.HourlySent++
	l.state.DailySent++
	sentAt := now
	l.state.LastSentAt = &sentAt

	if l.state.HourlySent >= l.limits.Hourly {
		until := now.Add(CooldownDuration)
		l.state.CooldownUntil = &until
		l.log.Info("hourly cap reached, cooldown armed",
			logx.Uint("hourly_sent", l.state.HourlySent),
			logx.Time("cooldown_until", until))
	}
}

// Status reconciles and returns a consumption snapshot.
func (l *Ledger) Status(now time.Time) Snapshot {
	l.Reconcile(now)
	return Snapshot{
		HourlySent:    l.state.HourlySent,
		HourlyLimit:   l.limits.Hourly,
		HourlyResetAt: l.state.HourlyResetAt,
		DailySent:     l.state.DailySent,
		DailyLimit:    l.limits.Daily,
		DailyResetAt:  l.state.DailyResetAt,
		CooldownUntil: l.state.CooldownUntil,
		LastSentAt:    l.state.LastSentAt,
	}
}
