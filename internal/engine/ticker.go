package engine

import (
	"context"
	"time"

	"sendgate/internal/eventbus"
	logx "sendgate/pkg/logx"
)

// Start launches the tick loop. Stopping the loop never touches queue or
// ledger state; both are already durable independent of the ticker.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	period := s.cfg.TickPeriod
	s.mu.Unlock()

	go s.run(ctx, period, stopCh, doneCh)
	s.log.Debug("ticker started", logx.Duration("period", period))
}

// Stop halts the tick loop, waiting until it exits or ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	doneCh := s.doneCh
	s.doneCh = nil
	s.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
	}
	s.log.Debug("ticker stopped")
}

func (s *Service) run(ctx context.Context, period time.Duration, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-t.C:
			s.Tick()
		}
	}
}

// Tick re-evaluates the queue head against admission state and fires the
// ready event exactly once per not-ready -> ready transition. Exported so
// tests (and embedded consumers without the loop) can drive it manually.
func (s *Service) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return
	}

	now := s.clk.Now()
	if s.ledger.Reconcile(now) {
		// Window rollover or cooldown expiry; make it durable and visible.
		s.persistLocked()
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{
				Type:    eventbus.TypeQuotaReset,
				Account: s.cfg.Account,
				Time:    now,
				Data:    StateEvent{Account: s.cfg.Account, Reason: "reconcile", Status: s.statusLocked(now)},
			})
		}
	}

	head, ok := s.q.Head()
	if !ok {
		s.notifiedHead = ""
		return
	}

	at, _ := s.q.HeadEligibleAt(s.adm, now)
	if at.After(now) {
		// Not ready. If we had notified for this head, a later transition
		// back to ready should notify again.
		if s.notifiedHead == head.ID {
			s.notifiedHead = ""
		}
		return
	}

	// Ready. The latch makes this a one-shot per transition, not a level
	// trigger firing every tick while the operator hasn't acted.
	if s.notifiedHead == head.ID {
		return
	}
	s.notifiedHead = head.ID

	s.log.Info("head ready",
		logx.String("item", head.ID),
		logx.String("dest", head.Destination))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type:    eventbus.TypeSendReady,
			Account: s.cfg.Account,
			Time:    now,
			Data:    ReadyEvent{Account: s.cfg.Account, Item: head, EligibleAt: at},
		})
	}
}
