package config

import (
	"fmt"
	"strings"
	"time"
)

// Timing knobs (notifier retry/dedup, storage busy timeout) arrive as Go
// duration strings so configs stay hand-editable. Parsing happens once at
// load/reload; a bad value rejects the whole config instead of surfacing
// mid-delivery.

// ParseDurationField parses one duration-valued config field. An empty or
// blank value means "unset" and parses to zero; path names the field in
// errors (e.g. "notifier.retry_base").
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: cannot parse %q as a duration (want e.g. \"500ms\", \"10s\", \"1m\"): %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q is not allowed", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with an unset/zero fallback.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
