package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sendgate/internal/engine"
	"sendgate/internal/eventbus"
	logx "sendgate/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	m Message
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

// Service implements the async notification pipeline:
// bus consumer + queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	runCtx   context.Context
	cancel   context.CancelFunc
	workerWG sync.WaitGroup
	busUnsub func()

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	// In-memory history (operator debugging)
	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sinks []Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		bus:   bus,
		sinks: sinks,
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 500
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.runCtx, s.cancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	runCtx := s.runCtx
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.workerLoop(runCtx, q)
		}()
	}

	if s.bus != nil {
		events, unsub := s.bus.Subscribe(64)
		s.mu.Lock()
		s.busUnsub = unsub
		s.mu.Unlock()
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.consumeBus(runCtx, events)
		}()
	}

	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("sinks", len(s.sinks)))
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.cancel
	unsub := s.busUnsub
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.busUnsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	// Wait for in-flight enqueues, then close the queue so workers drain.
	ch := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.queue = nil
	s.runCtx = nil
	s.cancel = nil
	s.mu.Unlock()
	s.log.Info("notifier stopped", logx.Int("delivered", len(s.Snapshot())))
}

// Notify enqueues one message for delivery to all sinks.
func (s *Service) Notify(ctx context.Context, m Message) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	dedupWindow := s.cfg.DedupWindow
	dedupMax := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(m)
	if dedupWindow > 0 && !s.dedupAllow(key, dedupWindow, dedupMax) {
		s.log.Debug("notification deduped", logx.String("kind", m.Kind), logx.String("account", m.Account))
		return nil
	}

	select {
	case q <- job{m: m, dedupKey: key}:
		return nil
	default:
		s.log.Warn("notification dropped, queue full", logx.String("kind", m.Kind))
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 200 {
		s.history = s.history[len(s.history)-200:]
	}
	s.hmu.Unlock()
}

// consumeBus translates engine events into operator messages.
func (s *Service) consumeBus(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m, ok := s.render(e)
			if !ok {
				continue
			}
			_ = s.Notify(ctx, m)
		}
	}
}

func (s *Service) render(e eventbus.Event) (Message, bool) {
	s.mu.Lock()
	stateChanges := s.cfg.StateChanges
	s.mu.Unlock()

	switch e.Type {
	case eventbus.TypeSendReady:
		re, ok := e.Data.(engine.ReadyEvent)
		if !ok {
			return Message{}, false
		}
		body := "next in queue"
		if re.Item.Destination != "" {
			body = "to " + re.Item.Destination
		}
		return Message{
			Account: e.Account,
			Kind:    e.Type,
			Title:   "Message ready to send",
			Body:    fmt.Sprintf("%s (account %s)", body, e.Account),
			At:      e.Time,
		}, true

	case eventbus.TypeStateChange, eventbus.TypeQuotaReset:
		if !stateChanges {
			return Message{}, false
		}
		se, ok := e.Data.(engine.StateEvent)
		if !ok {
			return Message{}, false
		}
		return Message{
			Account: e.Account,
			Kind:    e.Type,
			Title:   "Sending state changed",
			Body: fmt.Sprintf("%s: %d/%d this hour, %d/%d today (%s)",
				se.Reason, se.Status.HourlySent, se.Status.HourlyLimit,
				se.Status.DailySent, se.Status.DailyLimit, se.Status.Tier),
			At: e.Time,
		}, true
	}
	return Message{}, false
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for j := range q {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.deliver(ctx, j)
	}
}

// deliver fans one message out to all sinks with rate limiting and bounded
// retry. Failures are logged and dropped; notifications are UX, not a
// correctness dependency.
func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sinks := s.sinks
	s.mu.Unlock()

	if len(sinks) == 0 {
		return
	}

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}

	maxAttempts := 1 + cfg.RetryMax
	for _, sink := range sinks {
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			callCtx, cancelCall := context.WithTimeout(ctx, 10*time.Second)
			err := sink.Send(callCtx, j.m)
			cancelCall()
			if err == nil {
				lastErr = nil
				break
			}
			lastErr = err
			if attempt >= maxAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay(cfg, attempt)):
			}
		}
		if lastErr != nil {
			s.log.Debug("sink delivery failed",
				logx.String("sink", sink.Name()),
				logx.String("kind", j.m.Kind),
				logx.Err(lastErr))
		}
	}
	s.appendHistory(j.m.Title + " " + j.m.Body)
}

func dedupKey(m Message) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(m.Account))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(m.Kind))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(m.Title))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(m.Body))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, max int) bool {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	// Prune expired and cap.
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if minKey == "" {
			break
		}
		delete(s.dedup, minKey)
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	maxD := cfg.RetryMaxDelay

	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
