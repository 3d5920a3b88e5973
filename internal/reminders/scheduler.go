package reminders

import (
	"context"
	"time"

	"medicared/internal/medicine"
	"medicared/internal/registrar"
	logx "medicared/pkg/logx"
)

// Registrar is the slice of the alarm registrar the scheduler needs.
type Registrar interface {
	Register(id int64, at time.Time, p registrar.Payload) error
	Cancel(id int64)
}

// Store is the slice of persistent storage the scheduler needs.
type Store interface {
	MedicineByID(ctx context.Context, id int64) (medicine.Medicine, error)
	ActiveMedicines(ctx context.Context, userID int64) ([]medicine.Medicine, error)
	ActiveUserIDs(ctx context.Context) ([]int64, error)
}

// DeliverFunc delivers a due reminder to the user. The scheduler treats
// delivery as fire-and-report: a delivery failure never blocks re-arming.
type DeliverFunc func(ctx context.Context, m medicine.Medicine, p registrar.Payload) error

// Scheduler turns medicine definitions into concrete one-shot alarms and
// keeps them armed day after day.
type Scheduler struct {
	log     logx.Logger
	reg     Registrar
	store   Store
	loc     *time.Location
	now     func() time.Time
	deliver DeliverFunc
}

func NewScheduler(log logx.Logger, reg Registrar, store Store, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		log:   log,
		reg:   reg,
		store: store,
		loc:   loc,
		now:   time.Now,
	}
}

// SetDeliver installs the delivery callback invoked when an alarm fires.
func (s *Scheduler) SetDeliver(fn DeliverFunc) { s.deliver = fn }

// SetNow overrides the clock. Tests only.
func (s *Scheduler) SetNow(fn func() time.Time) { s.now = fn }

// Schedule registers one alarm per reminder time of m, each at its next
// occurrence. Re-scheduling an already scheduled medicine replaces its
// alarms in place because alarm ids are deterministic.
//
// Registration is best-effort: a failing slot does not prevent the remaining
// slots from being registered. If any slot fails the returned error is a
// *SchedulingError listing exactly which ones.
func (s *Scheduler) Schedule(ctx context.Context, m medicine.Medicine) error {
	if !m.Active {
		// Deactivation sweeps any alarms left from the active period, but it
		// is still a "nothing to schedule" outcome for the caller.
		s.Cancel(ctx, m)
		return ErrNothingToSchedule
	}
	if m.Times.Len() == 0 {
		return ErrNothingToSchedule
	}

	now := s.now()
	times := m.Times.Times()
	var failed []*SlotError
	for i, slot := range times {
		at := NextInstant(now, slot, s.loc)
		p := registrar.Payload{
			MedicineID: m.ID,
			UserID:     m.UserID,
			Slot:       i,
			Name:       m.Name,
			Dosage:     m.Dosage,
			Time:       slot.String(),
		}
		if err := s.reg.Register(AlarmID(m.ID, i), at, p); err != nil {
			failed = append(failed, &SlotError{MedicineID: m.ID, Slot: i, Err: err})
			continue
		}
		s.log.Debug("reminder scheduled",
			logx.Int64("medicine_id", m.ID),
			logx.String("name", m.Name),
			logx.String("time", slot.String()),
			logx.Time("at", at),
		)
	}
	if len(failed) > 0 {
		return &SchedulingError{Slots: failed}
	}
	return nil
}

// Cancel removes every alarm belonging to m. Cancelling a medicine that was
// never scheduled is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, m medicine.Medicine) {
	n := m.Times.Len()
	if n == 0 {
		// The stored time list may already have been cleared; sweep the
		// whole id range so stale alarms cannot linger.
		n = medicine.AsNeededCap
	}
	for i := 0; i < n; i++ {
		s.reg.Cancel(AlarmID(m.ID, i))
	}
	s.log.Debug("reminders cancelled", logx.Int64("medicine_id", m.ID), logx.Int("slots", n))
}

// RescheduleAll re-registers alarms for every active medicine of one user.
// Medicines without reminder times are skipped, not errors. Per-medicine
// failures are collected; the rest of the batch still runs.
func (s *Scheduler) RescheduleAll(ctx context.Context, userID int64) error {
	meds, err := s.store.ActiveMedicines(ctx, userID)
	if err != nil {
		return err
	}
	var failed []*SlotError
	scheduled := 0
	for _, m := range meds {
		err := s.Schedule(ctx, m)
		switch e := err.(type) {
		case nil:
			scheduled++
		case *SchedulingError:
			failed = append(failed, e.Slots...)
		default:
			if err == ErrNothingToSchedule {
				continue
			}
			failed = append(failed, &SlotError{MedicineID: m.ID, Err: err})
		}
	}
	s.log.Info("reminders rescheduled",
		logx.Int64("user_id", userID),
		logx.Int("medicines", scheduled),
		logx.Int("failed", len(failed)),
	)
	if len(failed) > 0 {
		return &SchedulingError{Slots: failed}
	}
	return nil
}

// RescheduleEveryone rebuilds alarms for all users with active medicines.
// Used at daemon startup and by the nightly resync.
func (s *Scheduler) RescheduleEveryone(ctx context.Context) error {
	ids, err := s.store.ActiveUserIDs(ctx)
	if err != nil {
		return err
	}
	var failed []*SlotError
	for _, uid := range ids {
		if err := s.RescheduleAll(ctx, uid); err != nil {
			if se, ok := err.(*SchedulingError); ok {
				failed = append(failed, se.Slots...)
			} else {
				s.log.Warn("reschedule failed", logx.Int64("user_id", uid), logx.Err(err))
			}
		}
	}
	if len(failed) > 0 {
		return &SchedulingError{Slots: failed}
	}
	return nil
}

// HandleFired is installed as the registrar's fire handler. It delivers the
// reminder and, if the medicine is still active with that time slot, re-arms
// the alarm for the next day.
func (s *Scheduler) HandleFired(ctx context.Context, r registrar.Registration) error {
	m, err := s.store.MedicineByID(ctx, r.Payload.MedicineID)
	if err != nil {
		s.log.Warn("fired alarm for unknown medicine",
			logx.Int64("medicine_id", r.Payload.MedicineID), logx.Err(err))
		return nil
	}
	if !m.Active {
		s.log.Debug("fired alarm for inactive medicine, dropping",
			logx.Int64("medicine_id", m.ID))
		return nil
	}

	var deliverErr error
	if s.deliver != nil {
		deliverErr = s.deliver(ctx, m, r.Payload)
	}

	// Re-arm from the medicine's current time list; the slot may have been
	// edited since the alarm was registered. The slot's index may also have
	// shifted while the fire was in flight, so the re-arm always targets the
	// id derived from the current index and drops the stale one.
	slot, perr := medicine.ParseClockTime(r.Payload.Time)
	if perr == nil {
		if idx := m.Times.IndexOf(slot); idx >= 0 {
			id := AlarmID(m.ID, idx)
			if id != r.ID {
				s.reg.Cancel(r.ID)
			}
			p := r.Payload
			p.Slot = idx
			at := NextInstant(s.now(), slot, s.loc)
			if err := s.reg.Register(id, at, p); err != nil {
				s.log.Warn("re-arm failed", logx.Int64("alarm_id", id), logx.Err(err))
			}
		}
	}
	return deliverErr
}
