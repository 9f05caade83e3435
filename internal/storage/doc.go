// Package storage persists engine state across restarts.
//
// It currently supports:
//   - Versioned per-account state blobs (quota + queue), saved after every
//     engine mutation
//   - An append-only send log (audit trail of confirmed/skipped items)
package storage
