package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking/internal/config"
	"github.com/clinicdesk/booking/internal/gateway"
	"github.com/clinicdesk/booking/internal/notify"
	redisclient "github.com/clinicdesk/booking/internal/redis"
	"github.com/clinicdesk/booking/internal/slot"
)

// memStore implements Store in memory, including the active-appointment-
// per-slot uniqueness rule the partial index enforces in Postgres.
type memStore struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]*slot.Slot
	appointments map[uuid.UUID]*Appointment
	payments     map[uuid.UUID]*Payment // keyed by appointment id
	requests     map[uuid.UUID]*CancellationRequest
	logs         []AppointmentLog
}

func newMemStore() *memStore {
	return &memStore{
		slots:        make(map[uuid.UUID]*slot.Slot),
		appointments: make(map[uuid.UUID]*Appointment),
		payments:     make(map[uuid.UUID]*Payment),
		requests:     make(map[uuid.UUID]*CancellationRequest),
	}
}

func (m *memStore) InTx(_ context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *memStore) activeForSlot(slotID uuid.UUID) *Appointment {
	for _, a := range m.appointments {
		if a.SlotID == slotID && !a.Status.Terminal() {
			return a
		}
	}
	return nil
}

// Slots

func (m *memStore) CreateSlot(_ context.Context, sl *slot.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.slots {
		if other.DoctorID == sl.DoctorID && !other.Deleted() &&
			slot.Overlaps(sl.StartTime, sl.EndTime, other.StartTime, other.EndTime) {
			return ErrSlotOverlap
		}
	}
	now := time.Now()
	sl.CreatedAt, sl.UpdatedAt = now, now
	cp := *sl
	m.slots[sl.ID] = &cp
	return nil
}

func (m *memStore) GetSlotByID(_ context.Context, id uuid.UUID) (*slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[id]
	if !ok || sl.Deleted() {
		return nil, ErrSlotNotFound
	}
	cp := *sl
	return &cp, nil
}

func (m *memStore) FindAvailableSlots(_ context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []slot.Slot
	for _, sl := range m.slots {
		if sl.ClinicID != clinicID || sl.Deleted() || sl.Kind != slot.KindAppointment || sl.Status != slot.StatusOpen {
			continue
		}
		if doctorID != uuid.Nil && sl.DoctorID != doctorID {
			continue
		}
		if sl.StartTime.Before(from) || !sl.StartTime.Before(to) {
			continue
		}
		out = append(out, *sl)
	}
	return out, nil
}

func (m *memStore) UpdateSlotStatus(_ context.Context, id uuid.UUID, status slot.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[id]
	if !ok || sl.Deleted() {
		return ErrSlotNotFound
	}
	sl.Status = status
	return nil
}

func (m *memStore) BlockSlot(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[id]
	if !ok || sl.Deleted() {
		return ErrSlotNotFound
	}
	sl.Status = slot.StatusBlocked
	sl.BlockReason = reason
	return nil
}

func (m *memStore) UnblockSlot(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[id]
	if !ok || sl.Deleted() {
		return ErrSlotNotFound
	}
	sl.Status = slot.StatusOpen
	sl.BlockReason = ""
	return nil
}

func (m *memStore) SoftDeleteSlot(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[id]
	if !ok || sl.Deleted() {
		return ErrSlotNotFound
	}
	now := time.Now()
	sl.DeletedAt = &now
	return nil
}

// Appointments

func (m *memStore) CreateAppointment(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !a.Status.Terminal() && m.activeForSlot(a.SlotID) != nil {
		return ErrSlotTaken
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *memStore) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.DeletedAt != nil {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) GetActiveAppointmentForSlot(_ context.Context, slotID uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.activeForSlot(slotID)
	if a == nil {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateAppointment(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	if !a.Status.Terminal() {
		if holder := m.activeForSlot(a.SlotID); holder != nil && holder.ID != a.ID {
			return ErrSlotTaken
		}
	}
	a.UpdatedAt = time.Now()
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *memStore) FindExpiredHolds(_ context.Context, now time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusPendingPayment && a.HoldExpiresAt != nil && a.HoldExpiresAt.Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

// Payments

func (m *memStore) UpsertPayment(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if existing, ok := m.payments[p.AppointmentID]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	m.payments[p.AppointmentID] = &cp
	return nil
}

func (m *memStore) GetPaymentByOrderRef(_ context.Context, orderRef string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OrderRef == orderRef {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *memStore) GetPaymentByAppointmentID(_ context.Context, appointmentID uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[appointmentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

// Cancellation requests

func (m *memStore) CreateCancellationRequest(_ context.Context, r *CancellationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.CreatedAt = time.Now()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *memStore) GetCancellationRequestByID(_ context.Context, id uuid.UUID) (*CancellationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetOpenCancellationRequestForAppointment(_ context.Context, appointmentID uuid.UUID) (*CancellationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.AppointmentID == appointmentID && (r.Status == RequestPending || r.Status == RequestApproved) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRequestNotFound
}

func (m *memStore) UpdateCancellationRequest(_ context.Context, r *CancellationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; !ok {
		return ErrRequestNotFound
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

// History

func (m *memStore) AppendLog(_ context.Context, l *AppointmentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.CreatedAt = time.Now()
	l.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, *l)
	return nil
}

func (m *memStore) logActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.logs))
	for i, l := range m.logs {
		out[i] = l.Action
	}
	return out
}

// Test fixture

type recordEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordEmitter) Emit(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordEmitter) byType(t notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc     *Service
	store   *memStore
	gw      *gateway.Stub
	emitter *recordEmitter
	now     time.Time
}

func newFixture() *fixture {
	store := newMemStore()
	gw := gateway.NewStub("t3st-s3cret")
	emitter := &recordEmitter{}

	cfg := config.Config{
		Currency:           "INR",
		PaymentHoldTTL:     10 * time.Minute,
		CancelNoticeWindow: 24 * time.Hour,
		RescheduleLimit:    1,
	}

	svc := NewService(store, redisclient.NopLocker{}, gw, "stub", emitter, cfg, zap.NewNop())

	f := &fixture{
		svc:     svc,
		store:   store,
		gw:      gw,
		emitter: emitter,
		now:     time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addSlot(startIn time.Duration, price int64, mode slot.PaymentMode) *slot.Slot {
	sl := &slot.Slot{
		ID:          uuid.New(),
		ClinicID:    uuid.New(),
		DoctorID:    uuid.New(),
		StartTime:   f.now.Add(startIn),
		EndTime:     f.now.Add(startIn + 30*time.Minute),
		Price:       price,
		PaymentMode: mode,
		Kind:        slot.KindAppointment,
		Status:      slot.StatusOpen,
	}
	if err := f.store.CreateSlot(context.Background(), sl); err != nil {
		panic(err)
	}
	return sl
}

// signFor produces the signature the stub gateway expects for a webhook.
func (f *fixture) signFor(orderRef, paymentRef string) string {
	return gateway.Sign(f.gw.Secret, orderRef, paymentRef)
}
