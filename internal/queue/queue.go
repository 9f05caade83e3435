// Package queue holds the ordered set of pending deliverables.
//
// Order is insertion order (FIFO) unless the operator explicitly reorders
// or postpones. Eligibility is never stored on items: it is derived from
// the live admission snapshot on every read, so quota changes and
// reorders can never leave stale timing behind.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"sendgate/internal/admission"
)

// Item is one pending deliverable. Identity is the ID; content is opaque
// to the engine. Items are immutable after enqueue except for the
// postpone marker.
type Item struct {
	ID             string          `json:"id"`
	Destination    string          `json:"destination"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	PostponedUntil *time.Time      `json:"postponed_until,omitempty"`
}

// Entry is a presentation row: item plus derived timing.
type Entry struct {
	Item          Item
	Position      int
	EligibleAt    time.Time
	WaitRemaining time.Duration
}

// Queue is single-writer; the owning engine serializes access.
type Queue struct {
	items []Item
}

// New restores a queue from persisted items (nil for a fresh account).
func New(restored []Item) *Queue {
	return &Queue{items: append([]Item(nil), restored...)}
}

func (q *Queue) Len() int { return len(q.items) }

// Items returns a copy of the ordered items for persistence.
func (q *Queue) Items() []Item {
	return append([]Item(nil), q.items...)
}

func (q *Queue) Head() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Enqueue appends to the tail and returns the resulting position.
// A missing ID is filled with a fresh UUID.
func (q *Queue) Enqueue(it Item, now time.Time) int {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = now
	}
	q.items = append(q.items, it)
	return len(q.items) - 1
}

// DequeueHead removes and returns the head. The engine pairs this with
// recording the send on the quota ledger.
func (q *Queue) DequeueHead() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// Skip discards the head permanently without charging quota.
func (q *Queue) Skip() (Item, bool) {
	return q.DequeueHead()
}

// Postpone moves the head to the tail and pins its earliest eligibility to
// now+d. The pin is independent of the item's new position; spacing for
// the items promoted ahead of it shifts automatically on the next read.
func (q *Queue) Postpone(now time.Time, d time.Duration) bool {
	if len(q.items) == 0 || d <= 0 {
		return false
	}
	head := q.items[0]
	until := now.Add(d)
	head.PostponedUntil = &until
	q.items = append(q.items[1:], head)
	return true
}

// Reorder moves the item at from to position to. Out-of-range indexes are
// a no-op. Derived eligibility needs no invalidation: nothing is cached.
func (q *Queue) Reorder(from, to int) bool {
	n := len(q.items)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return false
	}
	it := q.items[from]
	rest := append(q.items[:from], q.items[from+1:]...)
	q.items = append(rest[:to], append([]Item{it}, rest[to:]...)...)
	return true
}

// EligibleAt derives when the item at idx may send: the later of its
// spacing slot (including any hard block) and its postpone pin.
func (q *Queue) EligibleAt(adm *admission.Controller, now time.Time, idx int) (time.Time, bool) {
	if idx < 0 || idx >= len(q.items) {
		return time.Time{}, false
	}
	at := adm.EligibleAt(now, uint(idx))
	if p := q.items[idx].PostponedUntil; p != nil && p.After(at) {
		at = *p
	}
	return at, true
}

// HeadEligibleAt is the ticker's one question: when may the head go out.
func (q *Queue) HeadEligibleAt(adm *admission.Controller, now time.Time) (time.Time, bool) {
	return q.EligibleAt(adm, now, 0)
}

// Snapshot projects the whole queue with fresh timing. It is recomputed on
// demand and never persisted; the authoritative state is the bare ordered
// item list.
func (q *Queue) Snapshot(adm *admission.Controller, now time.Time) []Entry {
	out := make([]Entry, 0, len(q.items))
	for i, it := range q.items {
		at, _ := q.EligibleAt(adm, now, i)
		wait := at.Sub(now)
		if wait < 0 {
			wait = 0
		}
		out = append(out, Entry{Item: it, Position: i, EligibleAt: at, WaitRemaining: wait})
	}
	return out
}
