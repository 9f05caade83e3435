// Package app wires config, logging, storage, the per-account pacing
// engines and the notifier into one process, and owns hot reload plus
// ordered shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sendgate/internal/clock"
	"sendgate/internal/config"
	"sendgate/internal/engine"
	"sendgate/internal/eventbus"
	"sendgate/internal/notifier"
	"sendgate/internal/plans"
	"sendgate/internal/runtime/lifecycle"
	"sendgate/internal/runtime/supervisor"
	"sendgate/internal/storage"
	logx "sendgate/pkg/logx"
)

type StopReason = lifecycle.StopReason

const (
	StopUnknown    = lifecycle.StopUnknown
	StopSIGINT     = lifecycle.StopSIGINT
	StopSIGTERM    = lifecycle.StopSIGTERM
	StopFatalError = lifecycle.StopFatalError
	StopAppStop    = lifecycle.StopAppStop
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clk   clock.Clock

	notif *notifier.Service

	// engMu guards the registry; engines are rebuilt on plan/timezone
	// changes while the rest keep running.
	engMu   sync.Mutex
	engines map[string]*engine.Service
	catalog *plans.Catalog
	loc     *time.Location
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	catalog, err := buildCatalog(cfg)
	if err != nil {
		return nil, err
	}
	if err := validateAccounts(cfg, catalog); err != nil {
		return nil, err
	}
	loc, err := resolveTimezone(cfg)
	if err != nil {
		return nil, err
	}

	clk := clock.System{}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		clk:     clk,
		engines: map[string]*engine.Service{},
		catalog: catalog,
		loc:     loc,
	}

	for _, ac := range cfg.Accounts {
		eng, err := a.buildEngine(ac.ID, ac.Plan)
		if err != nil {
			return nil, err
		}
		a.engines[ac.ID] = eng
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	sinks, err := buildSinks(cfg, log)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, sinks, log.With(logx.String("comp", "notifier")), bus)

	return a, nil
}

func (a *App) buildEngine(account, plan string) (*engine.Service, error) {
	limits, err := a.catalog.LimitsFor(plan)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", account, err)
	}
	return engine.New(engine.Config{
		Account:  account,
		Plan:     plan,
		Limits:   limits,
		Timezone: a.loc,
	}, a.clk, a.store, a.bus, a.log.With(logx.String("comp", "engine"), logx.String("account", account)))
}

// Engine returns the pacing engine for one account.
func (a *App) Engine(account string) (*engine.Service, bool) {
	a.engMu.Lock()
	defer a.engMu.Unlock()
	eng, ok := a.engines[account]
	return eng, ok
}

func (a *App) Accounts() []string {
	a.engMu.Lock()
	defer a.engMu.Unlock()
	out := make([]string, 0, len(a.engines))
	for id := range a.engines {
		out = append(out, id)
	}
	return out
}

func (a *App) Notifier() *notifier.Service { return a.notif }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Transactional reload: a config that fails validation is never
	// committed or published.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		catalog, err := buildCatalog(cfg)
		if err != nil {
			return err
		}
		if err := validateAccounts(cfg, catalog); err != nil {
			return err
		}
		if _, err := resolveTimezone(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	a.engMu.Lock()
	for _, eng := range a.engines {
		eng.Start(a.sup.Context())
	}
	a.engMu.Unlock()

	if a.notif != nil && a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	// Debug trace of bus traffic; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.String("account", e.Account),
					logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	// The watcher already recreates itself on fsnotify failures; the
	// restart loop is the outer net for anything it cannot absorb.
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("accounts", len(a.Accounts())))
	return nil
}

// applyReload hot-applies a validated config: logging and notifier live,
// engines rebuilt only where plan or timezone actually changed.
func (a *App) applyReload(ctx context.Context, old, cfg *config.Config) {
	sections := config.SummarizeChange(old, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Debug("config change summary", logx.String("changed", strings.Join(sections, ",")))

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	a.logs.Apply(mapLogConfig(cfg))

	// Plans / timezone feed engine construction; refresh them first.
	catalog, err := buildCatalog(cfg)
	if err != nil {
		a.log.Warn("invalid plans config; keeping previous", logx.Err(err))
		catalog = nil
	}
	loc, err := resolveTimezone(cfg)
	if err != nil {
		a.log.Warn("invalid timezone; keeping previous", logx.Err(err))
		loc = nil
	}

	a.engMu.Lock()
	if catalog != nil {
		a.catalog = catalog
	}
	tzChanged := false
	if loc != nil && loc.String() != a.loc.String() {
		a.loc = loc
		tzChanged = true
	}
	a.engMu.Unlock()

	a.reconcileEngines(ctx, old, cfg, tzChanged || sectionChanged(sections, "plans"))

	// Notifier applies live; enable/disable transitions start/stop it.
	if a.notif != nil {
		prevEnabled := a.notif.Enabled()
		ncfg, err := mapNotifierConfig(cfg)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
			if prevEnabled && !ncfg.Enabled {
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			} else if !prevEnabled && ncfg.Enabled {
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func sectionChanged(sections []string, name string) bool {
	for _, s := range sections {
		if s == name {
			return true
		}
	}
	return false
}

// reconcileEngines rebuilds engines whose plan changed, adds new accounts
// and retires removed ones. Rebuilding restores durable state from the
// store, so counters and queue survive a plan switch.
func (a *App) reconcileEngines(ctx context.Context, old, cfg *config.Config, rebuildAll bool) {
	changed, added, removed := config.AccountsChanged(old, cfg)
	if rebuildAll {
		changed = nil
		for _, ac := range cfg.Accounts {
			changed = append(changed, ac.ID)
		}
		added = nil
	}
	if len(changed) == 0 && len(added) == 0 && len(removed) == 0 {
		return
	}

	planOf := map[string]string{}
	for _, ac := range cfg.Accounts {
		planOf[ac.ID] = ac.Plan
	}

	stop := func(eng *engine.Service) {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		eng.Stop(stopCtx)
		cancel()
	}

	a.engMu.Lock()
	defer a.engMu.Unlock()

	for _, id := range removed {
		if eng, ok := a.engines[id]; ok {
			stop(eng)
			delete(a.engines, id)
			a.log.Info("account retired", logx.String("account", id))
		}
	}

	rebuild := append(append([]string(nil), changed...), added...)
	for _, id := range rebuild {
		plan, ok := planOf[id]
		if !ok {
			continue
		}
		if prev, ok := a.engines[id]; ok {
			if !rebuildAll && prev.Plan() == plan {
				continue
			}
			stop(prev)
		}
		eng, err := a.buildEngine(id, plan)
		if err != nil {
			a.log.Warn("engine rebuild failed; account offline until next reload",
				logx.String("account", id), logx.Err(err))
			delete(a.engines, id)
			continue
		}
		a.engines[id] = eng
		eng.Start(ctx)
		a.log.Info("engine rebuilt", logx.String("account", id), logx.String("plan", plan))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("engines", 3*time.Second, func(c context.Context) error {
		a.engMu.Lock()
		engines := make([]*engine.Service, 0, len(a.engines))
		for _, eng := range a.engines {
			engines = append(engines, eng)
		}
		a.engMu.Unlock()
		for _, eng := range engines {
			eng.Stop(c)
		}
		return nil
	})
	step("notifier", 2*time.Second, func(c context.Context) error {
		if a.notif != nil {
			a.notif.Stop(c)
		}
		return nil
	})
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
