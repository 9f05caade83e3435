// Package clock provides an injectable time source.
//
// Reset boundaries, cooldowns and spacing math all depend on "now"; routing
// every read through a Clock keeps that math deterministic under test.
package clock

import (
	"sync"
	"time"
)

// Clock is the single time authority for quota, admission and scheduling.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Mock is a manually driven clock for tests.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMock(at time.Time) *Mock {
	return &Mock{now: at}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by d and returns the new time.
func (m *Mock) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Set jumps the mock clock to an absolute time.
func (m *Mock) Set(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = at
}
