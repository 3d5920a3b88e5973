package reminders

import (
	"context"
	"testing"
	"time"

	logx "medicared/pkg/logx"
)

func TestResyncRejectsBadSpec(t *testing.T) {
	t.Parallel()
	sched := NewScheduler(logx.Nop(), newFakeRegistrar(), newMemStore(), time.UTC)
	r := NewResync(logx.Nop(), sched, "not a cron spec", time.UTC)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestResyncDefaultSpec(t *testing.T) {
	t.Parallel()
	sched := NewScheduler(logx.Nop(), newFakeRegistrar(), newMemStore(), time.UTC)
	r := NewResync(logx.Nop(), sched, "", time.UTC)
	if r.spec != DefaultResyncSpec {
		t.Fatalf("spec = %q, want %q", r.spec, DefaultResyncSpec)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
}
