package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"medicared/internal/eventbus"
	"medicared/internal/transport"
	logx "medicared/pkg/logx"
)

type captureAdapter struct {
	mu    sync.Mutex
	sent  []string
	chats []int64
	fail  int // fail this many sends before succeeding
}

func (c *captureAdapter) Start(ctx context.Context) error { return nil }
func (c *captureAdapter) Stop(ctx context.Context) error  { return nil }

func (c *captureAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return transport.MessageRef{}, errors.New("telegram unavailable")
	}
	c.sent = append(c.sent, text)
	c.chats = append(c.chats, to.ChatID)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(c.sent)}, nil
}

func (c *captureAdapter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func testCfg() Config {
	return Config{
		Enabled:    true,
		Workers:    1,
		QueueSize:  16,
		RatePerSec: 1000,
		RetryMax:   2,
		RetryBase:  time.Millisecond,
	}
}

func waitSent(t *testing.T, ad *captureAdapter, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for ad.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("sent %d messages, want %d", ad.count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeliverSendsFormattedMessage(t *testing.T) {
	t.Parallel()
	ad := &captureAdapter{}
	s := New(testCfg(), ad, logx.Nop(), nil)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	err := s.Deliver(ctx, Reminder{
		UserID: 1, MedicineID: 7, Slot: 0,
		Name: "Aspirin", Dosage: "100mg", Time: "08:00",
		Chat: transport.ChatTarget{ChatID: 555},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	waitSent(t, ad, 1)

	msg := ad.sent[0]
	if !strings.Contains(msg, "Aspirin") || !strings.Contains(msg, "100mg") || !strings.Contains(msg, "08:00") {
		t.Fatalf("message = %q", msg)
	}
	if ad.chats[0] != 555 {
		t.Fatalf("sent to chat %d, want 555", ad.chats[0])
	}
}

func TestDeliverRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	ad := &captureAdapter{fail: 2}
	s := New(testCfg(), ad, logx.Nop(), nil)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Deliver(ctx, Reminder{MedicineID: 8, Name: "X", Chat: transport.ChatTarget{ChatID: 1}}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	waitSent(t, ad, 1)
}

func TestDeliverDedupSameDay(t *testing.T) {
	t.Parallel()
	cfg := testCfg()
	cfg.DedupWindow = time.Hour
	ad := &captureAdapter{}
	s := New(cfg, ad, logx.Nop(), nil)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	r := Reminder{MedicineID: 9, Slot: 1, Name: "X", Chat: transport.ChatTarget{ChatID: 2}}
	for i := 0; i < 3; i++ {
		if err := s.Deliver(ctx, r); err != nil {
			t.Fatalf("Deliver #%d: %v", i, err)
		}
	}
	waitSent(t, ad, 1)
	time.Sleep(50 * time.Millisecond)
	if ad.count() != 1 {
		t.Fatalf("sent %d messages, want 1 (deduped)", ad.count())
	}

	// Different slot is a different reminder.
	r.Slot = 2
	if err := s.Deliver(ctx, r); err != nil {
		t.Fatalf("Deliver other slot: %v", err)
	}
	waitSent(t, ad, 2)
}

func TestDeliverWithoutChatLogsOnly(t *testing.T) {
	t.Parallel()
	ad := &captureAdapter{}
	s := New(testCfg(), ad, logx.Nop(), nil)
	ctx := context.Background()
	s.Start(ctx)

	if err := s.Deliver(ctx, Reminder{MedicineID: 10, Name: "X"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	s.Stop(ctx) // drains the queue
	if ad.count() != 0 {
		t.Fatalf("adapter received %d sends for chatless reminder", ad.count())
	}
	if len(s.Snapshot()) != 1 {
		t.Fatalf("history = %d items, want 1", len(s.Snapshot()))
	}
}

func TestDeliveryEventsPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	cfg := testCfg()
	cfg.DedupWindow = time.Hour
	ad := &captureAdapter{}
	s := New(cfg, ad, logx.Nop(), bus)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	r := Reminder{MedicineID: 11, Slot: 0, Name: "X", Chat: transport.ChatTarget{ChatID: 3}}
	if err := s.Deliver(ctx, r); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	waitSent(t, ad, 1)
	// Second delivery of the same (medicine, slot, chat, day) is suppressed.
	if err := s.Deliver(ctx, r); err != nil {
		t.Fatalf("Deliver duplicate: %v", err)
	}

	want := map[string]bool{"notify.sent": false, "notify.deduped": false}
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
			if ev, ok := e.Data.(DeliveryEvent); ok && ev.MedicineID != 11 {
				t.Fatalf("event for unexpected medicine %d", ev.MedicineID)
			}
		case <-deadline:
			t.Fatalf("missing events: %v", want)
		}
	}
}

func TestDeliverDisabled(t *testing.T) {
	t.Parallel()
	cfg := testCfg()
	cfg.Enabled = false
	s := New(cfg, &captureAdapter{}, logx.Nop(), nil)
	if err := s.Deliver(context.Background(), Reminder{MedicineID: 1}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Deliver = %v, want ErrDisabled", err)
	}
}

func TestDeliverAfterStop(t *testing.T) {
	t.Parallel()
	s := New(testCfg(), &captureAdapter{}, logx.Nop(), nil)
	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)
	if err := s.Deliver(ctx, Reminder{MedicineID: 1}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Deliver = %v, want ErrStopped", err)
	}
}
