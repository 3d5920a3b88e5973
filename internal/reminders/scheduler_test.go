package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medicared/internal/medicine"
	"medicared/internal/registrar"
	logx "medicared/pkg/logx"
)

type fakeRegistrar struct {
	mu     sync.Mutex
	alarms map[int64]registrar.Registration
	failID int64 // Register fails for this alarm id
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{alarms: map[int64]registrar.Registration{}}
}

func (f *fakeRegistrar) Register(id int64, at time.Time, p registrar.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failID != 0 && id == f.failID {
		return errors.New("platform refused registration")
	}
	f.alarms[id] = registrar.Registration{ID: id, At: at, Payload: p}
	return nil
}

func (f *fakeRegistrar) Cancel(id int64) {
	f.mu.Lock()
	delete(f.alarms, id)
	f.mu.Unlock()
}

func (f *fakeRegistrar) get(id int64) (registrar.Registration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.alarms[id]
	return r, ok
}

func (f *fakeRegistrar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alarms)
}

type memStore struct {
	mu   sync.Mutex
	meds map[int64]medicine.Medicine
}

func newMemStore(meds ...medicine.Medicine) *memStore {
	s := &memStore{meds: map[int64]medicine.Medicine{}}
	for _, m := range meds {
		s.meds[m.ID] = m
	}
	return s
}

func (s *memStore) MedicineByID(ctx context.Context, id int64) (medicine.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meds[id]
	if !ok {
		return medicine.Medicine{}, errors.New("not found")
	}
	return m, nil
}

func (s *memStore) ActiveMedicines(ctx context.Context, userID int64) ([]medicine.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []medicine.Medicine
	for _, m := range s.meds {
		if m.UserID == userID && m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) ActiveUserIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]bool{}
	var out []int64
	for _, m := range s.meds {
		if m.Active && !seen[m.UserID] {
			seen[m.UserID] = true
			out = append(out, m.UserID)
		}
	}
	return out, nil
}

func testMed(id, userID int64, times ...string) medicine.Medicine {
	set, err := medicine.ParseSlotSet(times)
	if err != nil {
		panic(err)
	}
	return medicine.Medicine{
		ID:        id,
		UserID:    userID,
		Name:      "Aspirin",
		Dosage:    "100mg",
		Frequency: medicine.TwiceDaily,
		Times:     set,
		Active:    true,
	}
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestScheduleTwiceDaily(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistrar()
	m := testMed(7, 1, "08:00", "20:00")
	sched := NewScheduler(logx.Nop(), reg, newMemStore(m), time.UTC)
	sched.SetNow(fixedClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)))

	if err := sched.Schedule(context.Background(), m); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if reg.count() != 2 {
		t.Fatalf("registered %d alarms, want 2", reg.count())
	}

	// 08:00 already passed: tomorrow. 20:00 still ahead: today.
	r0, ok := reg.get(AlarmID(7, 0))
	if !ok {
		t.Fatal("slot 0 not registered")
	}
	if want := time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC); !r0.At.Equal(want) {
		t.Fatalf("slot 0 at %v, want %v", r0.At, want)
	}
	r1, ok := reg.get(AlarmID(7, 1))
	if !ok {
		t.Fatal("slot 1 not registered")
	}
	if want := time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC); !r1.At.Equal(want) {
		t.Fatalf("slot 1 at %v, want %v", r1.At, want)
	}
	if r1.Payload.Name != "Aspirin" || r1.Payload.Time != "20:00" {
		t.Fatalf("payload = %+v", r1.Payload)
	}
}

func TestScheduleEmptyTimes(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistrar()
	m := testMed(8, 1)
	sched := NewScheduler(logx.Nop(), reg, newMemStore(m), time.UTC)
	if err := sched.Schedule(context.Background(), m); !errors.Is(err, ErrNothingToSchedule) {
		t.Fatalf("Schedule = %v, want ErrNothingToSchedule", err)
	}
	if reg.count() != 0 {
		t.Fatalf("registered %d alarms, want 0", reg.count())
	}
}

func TestScheduleInactiveCancels(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistrar()
	m := testMed(9, 1, "08:00")
	sched := NewScheduler(logx.Nop(), reg, newMemStore(m), time.UTC)
	if err := sched.Schedule(context.Background(), m); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	m.Active = false
	if err := sched.Schedule(context.Background(), m); !errors.Is(err, ErrNothingToSchedule) {
		t.Fatalf("Schedule inactive = %v, want ErrNothingToSchedule", err)
	}
	if reg.count() != 0 {
		t.Fatalf("alarms after deactivation = %d, want 0", reg.count())
	}
}

func TestSchedulePartialFailure(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistrar()
	m := testMed(10, 1, "08:00", "20:00")
	reg.failID = AlarmID(10, 1)
	sched := NewScheduler(logx.Nop(), reg, newMemStore(m), time.UTC)

	err := sched.Schedule(context.Background(), m)
	var se *SchedulingError
	if !errors.As(err, &se) {
		t.Fatalf("Schedule = %v, want *SchedulingError", err)
	}
	if len(se.Slots) != 1 || se.Slots[0].Slot != 1 {
		t.Fatalf("failed slots = %+v, want slot 1 only", se.Slots)
	}
	// The other slot stayed registered.
	if _, ok := reg.get(AlarmID(10, 0)); !ok {
		t.Fatal("slot 0 should remain registered after partial failure")
	}
}

func TestCancelNeverScheduled(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistrar()
	sched := NewScheduler(logx.Nop(), reg, newMemStore(), time.UTC)
	sched.Cancel(context.Background(), testMed(11, 1, "08:00"))
	if reg.count() != 0 {
		t.Fatalf("alarms = %d, want 0", reg.count())
	}
}

func TestRescheduleAllIdempotent(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistrar()
	store := newMemStore(
		testMed(20, 5, "08:00", "20:00"),
		testMed(21, 5, "12:00"),
	)
	sched := NewScheduler(logx.Nop(), reg, store, time.UTC)
	sched.SetNow(fixedClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)))

	for i := 0; i < 3; i++ {
		if err := sched.RescheduleAll(context.Background(), 5); err != nil {
			t.Fatalf("RescheduleAll #%d: %v", i, err)
		}
	}
	if reg.count() != 3 {
		t.Fatalf("alarms = %d, want 3 (idempotent)", reg.count())
	}
}

func TestRescheduleEveryone(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistrar()
	inactive := testMed(32, 7, "09:00")
	inactive.Active = false
	store := newMemStore(
		testMed(30, 5, "08:00"),
		testMed(31, 6, "08:00", "20:00"),
		inactive,
	)
	sched := NewScheduler(logx.Nop(), reg, store, time.UTC)
	if err := sched.RescheduleEveryone(context.Background()); err != nil {
		t.Fatalf("RescheduleEveryone: %v", err)
	}
	if reg.count() != 3 {
		t.Fatalf("alarms = %d, want 3", reg.count())
	}
}

func TestHandleFiredRearmsNextDay(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistrar()
	m := testMed(40, 1, "08:00")
	store := newMemStore(m)
	sched := NewScheduler(logx.Nop(), reg, store, time.UTC)
	now := time.Date(2024, 1, 15, 8, 0, 5, 0, time.UTC)
	sched.SetNow(fixedClock(now))

	var delivered []registrar.Payload
	sched.SetDeliver(func(ctx context.Context, dm medicine.Medicine, p registrar.Payload) error {
		delivered = append(delivered, p)
		return nil
	})

	r := registrar.Registration{
		ID: AlarmID(40, 0),
		At: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		Payload: registrar.Payload{
			MedicineID: 40, UserID: 1, Slot: 0, Name: "Aspirin", Time: "08:00",
		},
	}
	if err := sched.HandleFired(context.Background(), r); err != nil {
		t.Fatalf("HandleFired: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("delivered %d reminders, want 1", len(delivered))
	}
	got, ok := reg.get(AlarmID(40, 0))
	if !ok {
		t.Fatal("alarm not re-armed")
	}
	if want := time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC); !got.At.Equal(want) {
		t.Fatalf("re-armed at %v, want %v", got.At, want)
	}
}

func TestHandleFiredShiftedSlotRearmsCurrentID(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistrar()
	// "20:00" now lives at index 0; the firing registration predates an edit
	// that removed an earlier slot, so it carries the old index 1.
	m := testMed(50, 1, "20:00")
	sched := NewScheduler(logx.Nop(), reg, newMemStore(m), time.UTC)
	now := time.Date(2024, 1, 15, 20, 0, 5, 0, time.UTC)
	sched.SetNow(fixedClock(now))

	if err := sched.Schedule(context.Background(), m); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	r := registrar.Registration{
		ID:      AlarmID(50, 1),
		At:      time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC),
		Payload: registrar.Payload{MedicineID: 50, UserID: 1, Slot: 1, Name: "Aspirin", Time: "20:00"},
	}
	if err := sched.HandleFired(context.Background(), r); err != nil {
		t.Fatalf("HandleFired: %v", err)
	}

	// Exactly one alarm for the (medicine, time) pair: the current id.
	if reg.count() != 1 {
		t.Fatalf("alarms = %d, want 1", reg.count())
	}
	if _, ok := reg.get(AlarmID(50, 1)); ok {
		t.Fatal("stale alarm id must not be re-armed")
	}
	got, ok := reg.get(AlarmID(50, 0))
	if !ok {
		t.Fatal("current alarm id not re-armed")
	}
	if want := time.Date(2024, 1, 16, 20, 0, 0, 0, time.UTC); !got.At.Equal(want) {
		t.Fatalf("re-armed at %v, want %v", got.At, want)
	}
	if got.Payload.Slot != 0 {
		t.Fatalf("re-armed payload slot = %d, want 0", got.Payload.Slot)
	}
}

func TestHandleFiredInactiveNotRearmed(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistrar()
	m := testMed(41, 1, "08:00")
	m.Active = false
	sched := NewScheduler(logx.Nop(), reg, newMemStore(m), time.UTC)

	r := registrar.Registration{
		ID:      AlarmID(41, 0),
		Payload: registrar.Payload{MedicineID: 41, Time: "08:00"},
	}
	if err := sched.HandleFired(context.Background(), r); err != nil {
		t.Fatalf("HandleFired: %v", err)
	}
	if reg.count() != 0 {
		t.Fatal("inactive medicine must not be re-armed")
	}
}

func TestHandleFiredRemovedSlotNotRearmed(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistrar()
	// Medicine still active but 08:00 was edited away.
	m := testMed(42, 1, "09:00")
	sched := NewScheduler(logx.Nop(), reg, newMemStore(m), time.UTC)

	r := registrar.Registration{
		ID:      AlarmID(42, 0),
		Payload: registrar.Payload{MedicineID: 42, Time: "08:00"},
	}
	if err := sched.HandleFired(context.Background(), r); err != nil {
		t.Fatalf("HandleFired: %v", err)
	}
	if reg.count() != 0 {
		t.Fatal("removed slot must not be re-armed")
	}
}
