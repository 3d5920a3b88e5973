package registrar

import (
	"context"
	"errors"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"medicared/internal/eventbus"
	logx "medicared/pkg/logx"
)

// Service is an in-process one-shot alarm timer keyed by integer alarm id.
//
// Semantics mirror a platform alarm manager:
//   - Register with an id that is already pending REPLACES the prior
//     registration (last writer wins).
//   - Cancel of an unknown id is a no-op, never an error.
//   - An instant already in the past fires immediately.
//
// Registrations survive Stop/Start cycles in-process: Stop() tears down the
// runtime timers but keeps the pending definitions, and Start() re-arms them.
type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	bus eventbus.Bus

	handler func(ctx context.Context, r Registration) error

	queue    chan Registration
	stopCh   chan struct{}
	runCtx   context.Context
	cancel   context.CancelFunc
	workerWG sync.WaitGroup

	// tmu guards the pending alarm state. timers are runtime-only; pending
	// and ver are the persistent definitions rebuilt on Start().
	tmu     sync.Mutex
	timers  map[int64]*time.Timer
	pending map[int64]Registration
	ver     map[int64]uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		timers:  map[int64]*time.Timer{},
		pending: map[int64]Registration{},
		ver:     map[int64]uint64{},
	}
}

// SetHandler installs the fire callback. Must be called before Start().
func (s *Service) SetHandler(fn func(ctx context.Context, r Registration) error) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply updates runtime knobs. Worker pool size changes take effect on the
// next Start().
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	if !s.cfg.Enabled {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.cancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	size := s.cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	// Fresh queue per run so stale firings from a previous run are dropped.
	s.queue = make(chan Registration, size)

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in registrar worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}

	s.rearmPendingLocked()
	s.log.Info("registrar started", logx.Int("workers", workers), logx.Int("pending", len(s.pending)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.cancel
	s.stopCh = nil
	s.cancel = nil
	s.queue = nil
	s.runCtx = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	// Stop runtime timers; keep pending definitions for the next Start().
	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[int64]*time.Timer{}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// workers finish in background
	}
	s.log.Info("registrar stopped")
}

// Register schedules (or replaces) the one-shot alarm with the given id.
func (s *Service) Register(id int64, at time.Time, p Payload) error {
	if at.IsZero() {
		return errors.New("registration instant required")
	}
	s.mu.Lock()
	enabled := s.cfg.Enabled
	running := s.stopCh != nil
	s.mu.Unlock()
	if !enabled {
		return ErrDisabled
	}

	r := Registration{ID: id, At: at, Payload: p}

	s.tmu.Lock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	// Bump the version so callbacks from a replaced timer are ignored.
	ver := s.ver[id] + 1
	s.ver[id] = ver
	s.pending[id] = r
	if running {
		s.armLocked(r, ver)
	}
	s.tmu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "alarm.registered", Data: AlarmEvent{ID: id, MedicineID: p.MedicineID, Slot: p.Slot, At: at}})
	}
	s.log.Debug("alarm registered",
		logx.Int64("alarm_id", id),
		logx.Int64("medicine_id", p.MedicineID),
		logx.Int("slot", p.Slot),
		logx.Time("at", at),
	)
	return nil
}

// Cancel removes the pending alarm with the given id. Cancelling an id that
// was never registered (or already fired) is a no-op.
func (s *Service) Cancel(id int64) {
	s.tmu.Lock()
	t, hadTimer := s.timers[id]
	_, hadPending := s.pending[id]
	if hadTimer {
		_ = t.Stop()
		delete(s.timers, id)
	}
	delete(s.pending, id)
	delete(s.ver, id)
	s.tmu.Unlock()

	if !hadTimer && !hadPending {
		return
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "alarm.cancelled", Data: AlarmEvent{ID: id}})
	}
	s.log.Debug("alarm cancelled", logx.Int64("alarm_id", id))
}

// Pending returns the outstanding registrations sorted by instant.
func (s *Service) Pending() []Registration {
	s.tmu.Lock()
	out := make([]Registration, 0, len(s.pending))
	for _, r := range s.pending {
		out = append(out, r)
	}
	s.tmu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	s.hmu.Lock()
	hist := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return Snapshot{Enabled: cfg.Enabled, Workers: cfg.Workers, Pending: s.Pending(), History: hist}
}

// armLocked creates the runtime timer for r. Call with tmu held.
func (s *Service) armLocked(r Registration, ver uint64) {
	delay := time.Until(r.At)
	if delay < 0 {
		// Missed instants fire immediately; the handler decides whether a
		// late fire is still worth delivering.
		delay = 0
	}
	id := r.ID
	localVer := ver
	s.timers[id] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		cur, ok := s.pending[id]
		if !ok || s.ver[id] != localVer {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, id)
		delete(s.pending, id)
		delete(s.ver, id)
		s.tmu.Unlock()
		s.enqueue(cur)
	})
}

// rearmPendingLocked recreates runtime timers from pending definitions.
// Call with mu held.
func (s *Service) rearmPendingLocked() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[int64]*time.Timer{}
	for id, r := range s.pending {
		ver := s.ver[id]
		if ver == 0 {
			ver = 1
			s.ver[id] = ver
		}
		s.armLocked(r, ver)
	}
}

func (s *Service) enqueue(r Registration) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		// Fired while stopped; put it back so the next Start() re-arms it.
		s.tmu.Lock()
		s.pending[r.ID] = r
		s.ver[r.ID]++
		s.tmu.Unlock()
		return
	}
	select {
	case q <- r:
	default:
		s.log.Warn("registrar queue full, dropping alarm", logx.Int64("alarm_id", r.ID))
	}
}

func (s *Service) worker(ctx context.Context, stopCh chan struct{}, queue chan Registration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case r := <-queue:
			s.fire(ctx, r)
		}
	}
}

func (s *Service) fire(ctx context.Context, r Registration) {
	s.mu.Lock()
	fn := s.handler
	timeout := s.cfg.HandlerTimeout
	histSize := s.cfg.HistorySize
	s.mu.Unlock()

	start := time.Now()
	var err error
	if fn == nil {
		err = errors.New("no fire handler installed")
	} else {
		runCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		err = fn(runCtx, r)
	}

	item := HistoryItem{ID: r.ID, At: r.At, Fired: start, Duration: time.Since(start)}
	ev := AlarmEvent{ID: r.ID, MedicineID: r.Payload.MedicineID, Slot: r.Payload.Slot, At: r.At}
	if err != nil {
		item.Error = err.Error()
		ev.Error = err.Error()
		s.log.Warn("alarm handler failed", logx.Int64("alarm_id", r.ID), logx.Int64("medicine_id", r.Payload.MedicineID), logx.Err(err))
	} else {
		s.log.Info("alarm fired", logx.Int64("alarm_id", r.ID), logx.Int64("medicine_id", r.Payload.MedicineID), logx.String("time", r.Payload.Time))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "alarm.fired", Data: ev})
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if histSize > 0 && len(s.history) > histSize {
		s.history = s.history[len(s.history)-histSize:]
	}
	s.hmu.Unlock()
}
