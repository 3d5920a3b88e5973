package registrar

import (
	"context"
	"sync"
	"testing"
	"time"

	"medicared/internal/eventbus"
	logx "medicared/pkg/logx"
)

func testConfig() Config {
	return Config{Enabled: true, Workers: 1, QueueSize: 16, HistorySize: 8, HandlerTimeout: time.Second}
}

func TestRegisterDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop(), nil)
	err := s.Register(1001, time.Now().Add(time.Hour), Payload{MedicineID: 1})
	if err != ErrDisabled {
		t.Fatalf("Register on disabled registrar = %v, want ErrDisabled", err)
	}
}

func TestRegisterRejectsZeroInstant(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), logx.Nop(), nil)
	if err := s.Register(1001, time.Time{}, Payload{}); err == nil {
		t.Fatal("expected error for zero instant")
	}
}

func TestRegisterReplacesSameID(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), logx.Nop(), nil)
	at1 := time.Now().Add(time.Hour)
	at2 := at1.Add(time.Hour)

	if err := s.Register(2001, at1, Payload{MedicineID: 2, Slot: 1}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := s.Register(2001, at2, Payload{MedicineID: 2, Slot: 1}); err != nil {
		t.Fatalf("second register: %v", err)
	}

	pending := s.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d entries, want 1", len(pending))
	}
	if !pending[0].At.Equal(at2) {
		t.Fatalf("pending instant = %v, want %v", pending[0].At, at2)
	}
}

func TestCancelUnknownIsNoOp(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), logx.Nop(), nil)
	s.Cancel(9999) // must not panic or error
	if n := len(s.Pending()); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestCancelRemovesPending(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), logx.Nop(), nil)
	if err := s.Register(3001, time.Now().Add(time.Hour), Payload{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Cancel(3001)
	if n := len(s.Pending()); n != 0 {
		t.Fatalf("pending after cancel = %d, want 0", n)
	}
	s.Cancel(3001) // second cancel still a no-op
}

func TestPastInstantFiresImmediately(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), logx.Nop(), nil)

	fired := make(chan Registration, 1)
	s.SetHandler(func(ctx context.Context, r Registration) error {
		select {
		case fired <- r:
		default:
		}
		return nil
	})

	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Register(4001, time.Now().Add(-time.Minute), Payload{MedicineID: 4, Time: "08:00"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	select {
	case r := <-fired:
		if r.ID != 4001 {
			t.Fatalf("fired id = %d, want 4001", r.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire")
	}

	if n := len(s.Pending()); n != 0 {
		t.Fatalf("pending after fire = %d, want 0", n)
	}
}

func TestRegistrationsSurviveRestart(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), logx.Nop(), nil)

	var mu sync.Mutex
	var firedIDs []int64
	s.SetHandler(func(ctx context.Context, r Registration) error {
		mu.Lock()
		firedIDs = append(firedIDs, r.ID)
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	s.Start(ctx)
	if err := s.Register(5001, time.Now().Add(time.Hour), Payload{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Stop(ctx)

	if n := len(s.Pending()); n != 1 {
		t.Fatalf("pending after stop = %d, want 1", n)
	}

	// Restart: the definition must be re-armed.
	s.Start(ctx)
	defer s.Stop(ctx)
	if n := len(s.Pending()); n != 1 {
		t.Fatalf("pending after restart = %d, want 1", n)
	}
	mu.Lock()
	n := len(firedIDs)
	mu.Unlock()
	if n != 0 {
		t.Fatalf("future alarm fired during restart: %v", firedIDs)
	}
}

func TestAlarmLifecycleEventsPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(testConfig(), logx.Nop(), bus)
	s.SetHandler(func(ctx context.Context, r Registration) error { return nil })
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Register(7001, time.Now().Add(-time.Second), Payload{MedicineID: 7}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(7002, time.Now().Add(time.Hour), Payload{MedicineID: 7}); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Cancel(7002)

	want := map[string]bool{"alarm.registered": false, "alarm.fired": false, "alarm.cancelled": false}
	deadline := time.After(2 * time.Second)
	for {
		done := true
		for _, seen := range want {
			if !seen {
				done = false
			}
		}
		if done {
			return
		}
		select {
		case e := <-events:
			if _, ok := want[e.Type]; ok {
				want[e.Type] = true
			}
			if ev, ok := e.Data.(AlarmEvent); ok && ev.ID != 7001 && ev.ID != 7002 {
				t.Fatalf("event for unexpected alarm id %d", ev.ID)
			}
		case <-deadline:
			t.Fatalf("missing events: %v", want)
		}
	}
}

func TestHandlerFailureRecordedInHistory(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), logx.Nop(), nil)

	done := make(chan struct{}, 1)
	s.SetHandler(func(ctx context.Context, r Registration) error {
		defer func() {
			select {
			case done <- struct{}{}:
			default:
			}
		}()
		return context.DeadlineExceeded
	})

	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Register(6001, time.Now().Add(-time.Second), Payload{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	// History append happens right after the handler returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := s.Snapshot()
		if len(snap.History) == 1 {
			if snap.History[0].Error == "" {
				t.Fatal("history item missing error")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("history = %d items, want 1", len(snap.History))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
