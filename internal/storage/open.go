package storage

import (
	"context"
	"errors"
	"strings"

	logx "sendgate/pkg/logx"
)

// Store is the persistence API used by the engine.
//
// LoadState returns ok=false (not an error) when the account has no
// persisted state yet. Writes must be durable when they return: the
// engine calls SaveState after every mutation and relies on it for crash
// recovery.
type Store interface {
	LoadState(ctx context.Context, account string) (blob []byte, ok bool, err error)
	SaveState(ctx context.Context, account string, blob []byte) error
	AppendSendLog(ctx context.Context, e SendLogEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
