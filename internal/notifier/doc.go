// Package notifier delivers operator-facing pings ("next message is
// ready", pause/resume, quota resets) to configured sinks.
//
// Delivery is strictly best-effort: a sink failing or the OS denying
// notifications must never block the engine's ready latch or the queue.
// The pipeline is asynchronous (bounded queue + worker pool) with rate
// limiting, bounded retry and a dedup window, and feeds off the event bus
// rather than being called by the engine directly.
package notifier
