package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "sendgate/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.<account>.json (atomic snapshot, rewritten per save)
//   - <prefix>.sendlog.jsonl        (append-only JSON Lines)
//
// State saves go through a temp file + rename so a crash mid-write leaves
// the previous snapshot intact.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	prefix  string
	sendLog *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	lf, err := os.OpenFile(prefix+".sendlog.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, prefix: prefix, sendLog: lf}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendLog != nil {
		err := s.sendLog.Close()
		s.sendLog = nil
		return err
	}
	return nil
}

func (s *fileStore) statePath(account string) string {
	return s.prefix + ".state." + sanitizeAccount(account) + ".json"
}

func (s *fileStore) LoadState(ctx context.Context, account string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.statePath(account))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *fileStore) SaveState(ctx context.Context, account string, blob []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.statePath(account)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) AppendSendLog(ctx context.Context, e SendLogEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendLog == nil {
		return errors.New("send log closed")
	}
	return json.NewEncoder(s.sendLog).Encode(e)
}

// sanitizeAccount keeps account IDs filesystem-safe.
func sanitizeAccount(account string) string {
	var b strings.Builder
	for _, r := range account {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
