package app

import (
	"fmt"
	"strings"
	"time"

	"sendgate/internal/config"
	"sendgate/internal/notifier"
	"sendgate/internal/plans"
	"sendgate/internal/quota"
	"sendgate/internal/storage"
	logx "sendgate/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapNotifierConfig parses the duration strings up front so a bad value is
// rejected at load/reload time, not at delivery time.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	// Omitted section: enabled with the log sink only.
	if cfg == nil || cfg.Notifier == nil {
		return notifier.Config{Enabled: true}, nil
	}
	nc := cfg.Notifier

	retryBase, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	if nc.Workers < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	}
	if nc.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if nc.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}

	return notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: nc.DedupMaxEntries,
		StateChanges:    nc.StateChanges,
	}, nil
}

// buildSinks assembles the sink list from config. The log sink is always
// attached so pings are never silently lost.
func buildSinks(cfg *config.Config, log logx.Logger) ([]notifier.Sink, error) {
	sinks := []notifier.Sink{notifier.LogSink{Log: log.With(logx.String("comp", "ping"))}}

	if cfg == nil || cfg.Notifier == nil {
		return sinks, nil
	}
	if cs := cfg.Notifier.Command; cs != nil {
		if strings.TrimSpace(cs.Program) == "" {
			return nil, fmt.Errorf("notifier.command.program is required")
		}
		sinks = append(sinks, notifier.CommandSink{Program: cs.Program, Args: cs.Args})
	}
	if ts := cfg.Notifier.Telegram; ts != nil {
		sink, err := notifier.NewTelegramSink(notifier.TelegramConfig{Token: ts.Token, ChatID: ts.ChatID})
		if err != nil {
			return nil, fmt.Errorf("notifier.telegram: %w", err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

func mapPlanOverrides(cfg *config.Config) map[string]quota.Limits {
	if cfg == nil || len(cfg.Plans) == 0 {
		return nil
	}
	out := make(map[string]quota.Limits, len(cfg.Plans))
	for id, pl := range cfg.Plans {
		out[id] = quota.Limits{Hourly: pl.HourlyLimit, Daily: pl.DailyLimit}
	}
	return out
}

func buildCatalog(cfg *config.Config) (*plans.Catalog, error) {
	return plans.NewCatalog(mapPlanOverrides(cfg))
}

// resolveTimezone maps pacing.timezone to a location; empty means host local.
func resolveTimezone(cfg *config.Config) (*time.Location, error) {
	if cfg == nil {
		return time.Local, nil
	}
	tz := strings.TrimSpace(cfg.Pacing.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("pacing.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// validateAccounts checks IDs for uniqueness and plans against the catalog.
func validateAccounts(cfg *config.Config, catalog *plans.Catalog) error {
	if cfg == nil || len(cfg.Accounts) == 0 {
		return fmt.Errorf("accounts: at least one account is required")
	}
	seen := map[string]bool{}
	for i, a := range cfg.Accounts {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("accounts: duplicate id %q", id)
		}
		seen[id] = true
		if _, err := catalog.LimitsFor(a.Plan); err != nil {
			return fmt.Errorf("accounts[%d] (%s): %w (known: %s)",
				i, id, err, strings.Join(catalog.IDs(), ", "))
		}
	}
	return nil
}
