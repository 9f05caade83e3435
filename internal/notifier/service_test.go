package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"sendgate/internal/engine"
	"sendgate/internal/eventbus"
	"sendgate/internal/queue"
	logx "sendgate/pkg/logx"
)

type captureSink struct {
	mu   sync.Mutex
	got  []Message
	fail int // fail the first n sends
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return context.DeadlineExceeded
	}
	s.got = append(s.got, m)
	return nil
}

func (s *captureSink) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.got...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestNotifyDeliversToSink(t *testing.T) {
	sink := &captureSink{}
	s := New(Config{Enabled: true, RatePerSec: 100}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.Stop(ctx)
		cancel()
	}()

	if err := s.Notify(context.Background(), Message{Account: "a", Kind: "test", Title: "hi", Body: "there"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(sink.messages()) == 1 })

	// Delivery is recorded in the in-memory history ring.
	hist := s.Snapshot()
	if len(hist) != 1 {
		t.Fatalf("history = %d entries, want 1", len(hist))
	}
	if hist[0].Text != "hi there" {
		t.Fatalf("history text = %q", hist[0].Text)
	}
	if hist[0].At.IsZero() {
		t.Fatalf("history entry missing timestamp")
	}
}

func TestNotifyDisabled(t *testing.T) {
	s := New(Config{Enabled: false}, nil, logx.Nop(), nil)
	if err := s.Notify(context.Background(), Message{}); err != ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestRetryRecoversTransientFailure(t *testing.T) {
	sink := &captureSink{fail: 2}
	s := New(Config{
		Enabled:    true,
		RatePerSec: 100,
		RetryMax:   3,
		RetryBase:  time.Millisecond,
	}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.Stop(ctx)
		cancel()
	}()

	if err := s.Notify(context.Background(), Message{Title: "retry me"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(sink.messages()) == 1 })
}

func TestDedupSuppressesRepeats(t *testing.T) {
	sink := &captureSink{}
	s := New(Config{
		Enabled:     true,
		RatePerSec:  100,
		DedupWindow: time.Minute,
	}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.Stop(ctx)
		cancel()
	}()

	m := Message{Account: "a", Kind: "k", Title: "same", Body: "same"}
	for i := 0; i < 5; i++ {
		if err := s.Notify(context.Background(), m); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	// Distinct body is a distinct key.
	other := m
	other.Body = "different"
	if err := s.Notify(context.Background(), other); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	waitFor(t, func() bool { return len(sink.messages()) == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := len(sink.messages()); got != 2 {
		t.Fatalf("delivered = %d, want 2", got)
	}
}

func TestRenderReadyEvent(t *testing.T) {
	s := New(Config{Enabled: true}, nil, logx.Nop(), nil)

	e := eventbus.Event{
		Type:    eventbus.TypeSendReady,
		Account: "acct-1",
		Time:    time.Now(),
		Data: engine.ReadyEvent{
			Account: "acct-1",
			Item:    queue.Item{ID: "x", Destination: "alice"},
		},
	}
	m, ok := s.render(e)
	if !ok {
		t.Fatalf("ready event not rendered")
	}
	if m.Title != "Message ready to send" || m.Account != "acct-1" {
		t.Fatalf("message = %+v", m)
	}

	// State changes are opt-in.
	se := eventbus.Event{Type: eventbus.TypeStateChange, Data: engine.StateEvent{}}
	if _, ok := s.render(se); ok {
		t.Fatalf("state change rendered while disabled")
	}
	s.Apply(Config{Enabled: true, StateChanges: true})
	if _, ok := s.render(se); !ok {
		t.Fatalf("state change not rendered when enabled")
	}
}

func TestBusReadyEventFlowsToSink(t *testing.T) {
	sink := &captureSink{}
	bus := eventbus.New()
	s := New(Config{Enabled: true, RatePerSec: 100}, []Sink{sink}, logx.Nop(), bus)
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.Stop(ctx)
		cancel()
	}()

	bus.Publish(eventbus.Event{
		Type:    eventbus.TypeSendReady,
		Account: "acct-1",
		Data:    engine.ReadyEvent{Account: "acct-1", Item: queue.Item{ID: "x"}},
	})
	waitFor(t, func() bool { return len(sink.messages()) == 1 })
}
