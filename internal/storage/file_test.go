package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "sendgate/pkg/logx"
)

func openTestFileStore(t *testing.T) Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "sendgate.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestFileStateRoundTrip(t *testing.T) {
	st := openTestFileStore(t)
	ctx := context.Background()

	if _, ok, err := st.LoadState(ctx, "acct-1"); err != nil || ok {
		t.Fatalf("fresh load: ok=%v err=%v, want absent", ok, err)
	}

	blob := []byte(`{"version":1,"quota":{"hourly_sent":3}}`)
	if err := st.SaveState(ctx, "acct-1", blob); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	got, ok, err := st.LoadState(ctx, "acct-1")
	if err != nil || !ok {
		t.Fatalf("LoadState: ok=%v err=%v", ok, err)
	}
	if string(got) != string(blob) {
		t.Fatalf("blob = %s, want %s", got, blob)
	}

	// Accounts are isolated.
	if _, ok, _ := st.LoadState(ctx, "acct-2"); ok {
		t.Fatalf("cross-account state leak")
	}

	// Overwrite wins.
	blob2 := []byte(`{"version":1,"quota":{"hourly_sent":4}}`)
	if err := st.SaveState(ctx, "acct-1", blob2); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, _, _ = st.LoadState(ctx, "acct-1")
	if string(got) != string(blob2) {
		t.Fatalf("overwrite lost: %s", got)
	}
}

func TestFileSendLogAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sendgate.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, outcome := range []string{"sent", "skipped"} {
		err := st.AppendSendLog(ctx, SendLogEntry{
			At: at.Add(time.Duration(i) * time.Minute), Account: "acct-1",
			ItemID: "item", Destination: "alice", Outcome: outcome,
		})
		if err != nil {
			t.Fatalf("AppendSendLog: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "sendgate.sendlog.jsonl"))
	if err != nil {
		t.Fatalf("open send log: %v", err)
	}
	defer f.Close()

	var entries []SendLogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e SendLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad log line: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("log entries = %d, want 2", len(entries))
	}
	if entries[0].Outcome != "sent" || entries[1].Outcome != "skipped" {
		t.Fatalf("outcomes = %s,%s", entries[0].Outcome, entries[1].Outcome)
	}
}

func TestSanitizeAccount(t *testing.T) {
	cases := map[string]string{
		"acct-1":     "acct-1",
		"a b/c":      "a_b_c",
		"":           "default",
		"UPPER_ok-9": "UPPER_ok-9",
	}
	for in, want := range cases {
		if got := sanitizeAccount(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
