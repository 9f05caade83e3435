package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int

	// StateChanges forwards pause/resume/reset events in addition to the
	// always-on ready pings.
	StateChanges bool
}

// Message is one operator ping, already rendered for humans.
type Message struct {
	Account string
	Kind    string // eventbus type that produced it
	Title   string
	Body    string
	At      time.Time
}

type HistoryItem struct {
	At   time.Time
	Text string
}
