// Package lifecycle holds small shared types for process lifecycle
// bookkeeping.
package lifecycle

// StopReason tags a shutdown so logs can tell a signal from a fatal
// error from a deliberate stop.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)
