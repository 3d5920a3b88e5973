package reminders

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "medicared/pkg/logx"
)

// DefaultResyncSpec runs the nightly resync shortly after midnight, after
// every same-day alarm has rolled over.
const DefaultResyncSpec = "5 0 * * *"

// Resync periodically rebuilds every alarm from storage. Day-to-day the
// re-arm on fire keeps alarms alive; the resync is the safety net that
// repairs drift after crashes, clock jumps, or missed fires.
type Resync struct {
	mu    sync.Mutex
	log   logx.Logger
	sched *Scheduler
	spec  string

	cron  *cron.Cron
	entry cron.EntryID
}

func NewResync(log logx.Logger, sched *Scheduler, spec string, loc *time.Location) *Resync {
	if spec == "" {
		spec = DefaultResyncSpec
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resync{
		log:   log,
		sched: sched,
		spec:  spec,
		cron:  cron.New(cron.WithLocation(loc)),
	}
}

func (r *Resync) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.cron.AddFunc(r.spec, func() { r.run(ctx) })
	if err != nil {
		return err
	}
	r.entry = id
	r.cron.Start()
	r.log.Info("resync scheduled", logx.String("spec", r.spec))
	return nil
}

func (r *Resync) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
}

func (r *Resync) run(ctx context.Context) {
	start := time.Now()
	err := r.sched.RescheduleEveryone(ctx)
	if err != nil {
		r.log.Warn("resync finished with failures", logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	r.log.Info("resync complete", logx.Duration("took", time.Since(start)))
}
