// Package engine ties the quota ledger, admission controller and delivery
// queue together behind one service per account session.
//
// All externally visible operations are synchronous and serialized by a
// single mutex, so the ticker always evaluates the freshest state. State
// is persisted after every mutation; a restart mid-cooldown or mid-queue
// resumes where it left off.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sendgate/internal/admission"
	"sendgate/internal/clock"
	"sendgate/internal/eventbus"
	"sendgate/internal/queue"
	"sendgate/internal/quota"
	"sendgate/internal/storage"
	logx "sendgate/pkg/logx"
)

// DefaultTickPeriod drives head re-evaluation. One shared ticker per
// engine, no per-item timers: the head is always judged against the
// freshest ledger state and only one notification can be outstanding.
const DefaultTickPeriod = time.Second

type Config struct {
	Account  string
	Plan     string
	Limits   quota.Limits
	Timezone *time.Location

	// TickPeriod overrides DefaultTickPeriod (tests use short periods).
	TickPeriod time.Duration
}

type Service struct {
	mu sync.Mutex

	cfg   Config
	clk   clock.Clock
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store // nil when persistence is disabled

	ledger *quota.Ledger
	adm    *admission.Controller
	q      *queue.Queue

	paused bool

	// Ready latch: the head ID we last notified for. Cleared when the head
	// changes, goes not-ready again, the queue drains, or on pause/resume.
	notifiedHead string

	stopCh chan struct{}
	doneCh chan struct{}
}

// New restores (or freshly creates) the engine for one account.
// A persistence read failure falls back to fresh state with a warning:
// the operator can still send, at the cost of historical accuracy.
func New(cfg Config, clk clock.Clock, store storage.Store, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("engine: account id is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = DefaultTickPeriod
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.Local
	}

	restored := persistedState{}
	if store != nil {
		blob, ok, err := store.LoadState(context.Background(), cfg.Account)
		if err != nil {
			log.Warn("state load failed; starting fresh", logx.Err(err))
		} else if ok {
			ps, err := decodeState(blob)
			if err != nil {
				log.Warn("state decode failed; starting fresh", logx.Err(err))
			} else {
				restored = ps
			}
		}
	}

	ledger := quota.NewLedger(cfg.Limits, cfg.Timezone, restored.Quota, log)
	adm, err := admission.New(ledger)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    cfg,
		clk:    clk,
		log:    log,
		bus:    bus,
		store:  store,
		ledger: ledger,
		adm:    adm,
		q:      queue.New(restored.Queue),
	}

	// Persisted reset boundaries may already be in the past; reconcile
	// before any decision is made.
	now := clk.Now()
	ledger.Reconcile(now)
	s.persistLocked()

	log.Info("engine ready",
		logx.String("plan", cfg.Plan),
		logx.Uint("hourly_limit", cfg.Limits.Hourly),
		logx.Uint("daily_limit", cfg.Limits.Daily),
		logx.Int("queue_len", s.q.Len()))
	return s, nil
}

func (s *Service) Account() string { return s.cfg.Account }
func (s *Service) Plan() string    { return s.cfg.Plan }

// GetStatus reports consumption, tier and the current block (if any).
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(s.clk.Now())
}

func (s *Service) statusLocked(now time.Time) Status {
	snap := s.ledger.Status(now)
	st := Status{
		Account:     s.cfg.Account,
		Plan:        s.cfg.Plan,
		HourlySent:  snap.HourlySent,
		HourlyLimit: snap.HourlyLimit,
		DailySent:   snap.DailySent,
		DailyLimit:  snap.DailyLimit,
		Tier:        s.adm.UsageTier(now),
		QueueLen:    s.q.Len(),
		Paused:      s.paused,
	}
	if b, blocked := s.adm.TimeUntilUnlock(now); blocked {
		blk := b
		st.Blocked = &blk
	}
	if at, ok := s.q.HeadEligibleAt(s.adm, now); ok {
		st.NextEligibleAt = &at
	}
	return st
}

// CanSendNow answers the bare admission question.
func (s *Service) CanSendNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adm.CanSend(s.clk.Now())
}

// Enqueue appends a deliverable and returns its position plus the
// eligibility derived from the current admission snapshot.
func (s *Service) Enqueue(it queue.Item) (pos int, eligibleAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	pos = s.q.Enqueue(it, now)
	eligibleAt, _ = s.q.EligibleAt(s.adm, now, pos)

	s.persistLocked()
	s.publishStateLocked(now, "enqueue")
	s.log.Debug("item enqueued", logx.Int("pos", pos), logx.Time("eligible_at", eligibleAt))
	return pos, eligibleAt
}

// ConfirmSent is the human confirmation callback: the head leaves the
// queue and the send is charged against quota. The two mutations are a
// best-effort pair, not a transaction; a crash between them leaves a
// narrow, accepted inconsistency window.
func (s *Service) ConfirmSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	head, ok := s.q.DequeueHead()
	if !ok {
		return false
	}
	s.ledger.RecordSend(now)
	s.notifiedHead = ""

	s.persistLocked()
	s.appendSendLogLocked(now, head, "sent")
	s.publishStateLocked(now, "confirm")
	s.log.Info("send confirmed",
		logx.String("item", head.ID),
		logx.String("dest", head.Destination),
		logx.Int("queue_len", s.q.Len()))
	return true
}

// Skip discards the head permanently without charging quota.
func (s *Service) Skip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	head, ok := s.q.Skip()
	if !ok {
		return false
	}
	s.notifiedHead = ""

	s.persistLocked()
	s.appendSendLogLocked(now, head, "skipped")
	s.publishStateLocked(now, "skip")
	s.log.Info("item skipped", logx.String("item", head.ID))
	return true
}

// Postpone pushes the head to the tail, not eligible before now+d.
func (s *Service) Postpone(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	if !s.q.Postpone(now, d) {
		return false
	}
	s.notifiedHead = ""

	s.persistLocked()
	s.publishStateLocked(now, "postpone")
	s.log.Info("head postponed", logx.Duration("by", d))
	return true
}

// Reorder moves an item within the queue. Out-of-range indexes no-op.
func (s *Service) Reorder(from, to int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.q.Reorder(from, to) {
		return false
	}
	if from == 0 || to == 0 {
		s.notifiedHead = ""
	}

	now := s.clk.Now()
	s.persistLocked()
	s.publishStateLocked(now, "reorder")
	return true
}

// QueueSnapshot projects the queue with fresh timing for presentation.
func (s *Service) QueueSnapshot() []queue.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Snapshot(s.adm, s.clk.Now())
}

// Pause freezes tick evaluation without mutating queue or ledger.
func (s *Service) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.notifiedHead = ""
	s.publishStateLocked(s.clk.Now(), "pause")
	s.log.Info("engine paused")
}

// Resume re-arms the ready latch fresh against current state.
func (s *Service) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	s.notifiedHead = ""
	s.publishStateLocked(s.clk.Now(), "resume")
	s.log.Info("engine resumed")
}

func (s *Service) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// persistLocked saves the authoritative state. Write failures are logged
// and swallowed: availability beats perfect history.
func (s *Service) persistLocked() {
	if s.store == nil {
		return
	}
	blob, err := encodeState(s.ledger.State(), s.q.Items())
	if err != nil {
		s.log.Warn("state encode failed", logx.Err(err))
		return
	}
	if err := s.store.SaveState(context.Background(), s.cfg.Account, blob); err != nil {
		s.log.Warn("state save failed", logx.Err(err))
	}
}

func (s *Service) appendSendLogLocked(now time.Time, it queue.Item, outcome string) {
	if s.store == nil {
		return
	}
	snap := s.ledger.Status(now)
	err := s.store.AppendSendLog(context.Background(), storage.SendLogEntry{
		At:          now,
		Account:     s.cfg.Account,
		ItemID:      it.ID,
		Destination: it.Destination,
		Outcome:     outcome,
		HourlySent:  snap.HourlySent,
		DailySent:   snap.DailySent,
	})
	if err != nil {
		s.log.Warn("send log append failed", logx.Err(err))
	}
}

func (s *Service) publishStateLocked(now time.Time, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type:    eventbus.TypeStateChange,
		Account: s.cfg.Account,
		Time:    now,
		Data:    StateEvent{Account: s.cfg.Account, Reason: reason, Status: s.statusLocked(now)},
	})
}
