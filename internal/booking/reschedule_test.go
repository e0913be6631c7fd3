package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/booking/internal/gateway"
	"github.com/clinicdesk/booking/internal/notify"
	"github.com/clinicdesk/booking/internal/slot"
)

func TestReconcile(t *testing.T) {
	mk := func(price int64, mode slot.PaymentMode) *slot.Slot {
		return &slot.Slot{Price: price, PaymentMode: mode}
	}

	tests := []struct {
		name     string
		old      *slot.Slot
		target   *slot.Slot
		oldPaid  int64
		wantFin  FinancialStatus
		wantDiff int64
	}{
		{
			name:     "offline to online at equal price charges the full price",
			old:      mk(500, slot.PaymentModeOffline),
			target:   mk(500, slot.PaymentModeOnline),
			oldPaid:  0,
			wantFin:  FinancialOfflineToOnline,
			wantDiff: 500,
		},
		{
			name:     "dearer target charges the difference",
			old:      mk(500, slot.PaymentModeOnline),
			target:   mk(800, slot.PaymentModeOnline),
			oldPaid:  500,
			wantFin:  FinancialPayDifference,
			wantDiff: 300,
		},
		{
			name:     "cheaper target refunds the difference at the clinic",
			old:      mk(500, slot.PaymentModeOnline),
			target:   mk(300, slot.PaymentModeOnline),
			oldPaid:  500,
			wantFin:  FinancialRefundAtClinic,
			wantDiff: 200,
		},
		{
			name:     "equal price paid online changes nothing",
			old:      mk(500, slot.PaymentModeOnline),
			target:   mk(500, slot.PaymentModeOnline),
			oldPaid:  500,
			wantFin:  FinancialNoChange,
			wantDiff: 0,
		},
		{
			name:     "offline to dearer online is a plain difference on zero paid",
			old:      mk(500, slot.PaymentModeOffline),
			target:   mk(800, slot.PaymentModeOnline),
			oldPaid:  0,
			wantFin:  FinancialPayDifference,
			wantDiff: 800,
		},
		{
			name:     "free to free changes nothing",
			old:      mk(0, slot.PaymentModeFree),
			target:   mk(0, slot.PaymentModeFree),
			oldPaid:  0,
			wantFin:  FinancialNoChange,
			wantDiff: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fin, diff := reconcile(tt.old, tt.target, tt.oldPaid)
			assert.Equal(t, tt.wantFin, fin)
			assert.Equal(t, tt.wantDiff, diff)
		})
	}
}

func TestReschedule_OfflineMoveConfirmsImmediately(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	from := f.addSlot(48*time.Hour, 300, slot.PaymentModeOffline)
	to := f.addSlot(72*time.Hour, 300, slot.PaymentModeOffline)

	booked, err := f.svc.Book(ctx, bookParams(from, Capabilities{}))
	require.NoError(t, err)

	res, err := f.svc.Reschedule(ctx, RescheduleParams{
		AppointmentID: booked.Appointment.ID,
		TargetSlotID:  to.ID,
		Actor:         ActorPatient,
		Reason:        "conflict at work",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, res.Appointment.Status)
	assert.Equal(t, to.ID, res.Appointment.SlotID)
	assert.Equal(t, 1, res.Appointment.RescheduleCount)
	assert.Empty(t, res.OrderRef, "offline differences settle at the clinic")

	oldSlot, err := f.store.GetSlotByID(ctx, from.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusOpen, oldSlot.Status)

	newSlot, err := f.store.GetSlotByID(ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusBooked, newSlot.Status)

	assert.Len(t, f.emitter.byType(notify.EventReschedule), 1)
}

func TestReschedule_DearerOnlineTargetNeedsDifferencePayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	from := f.addSlot(48*time.Hour, 500, slot.PaymentModeOnline)
	to := f.addSlot(72*time.Hour, 800, slot.PaymentModeOnline)

	appt := f.bookPaid(t, from)

	res, err := f.svc.Reschedule(ctx, RescheduleParams{
		AppointmentID: appt.ID,
		TargetSlotID:  to.ID,
		Actor:         ActorPatient,
		Caps:          Capabilities{OnlinePayment: true},
	})
	require.NoError(t, err)

	assert.Equal(t, FinancialPayDifference, res.FinancialStatus)
	assert.Equal(t, int64(300), res.Diff)
	require.NotEmpty(t, res.OrderRef)
	assert.Equal(t, StatusPendingPayment, res.Appointment.Status)
	assert.Equal(t, 0, res.Appointment.RescheduleCount, "counter waits for the difference payment")

	newSlot, err := f.store.GetSlotByID(ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusHeld, newSlot.Status)

	pay, err := f.store.GetPaymentByOrderRef(ctx, res.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, int64(300), pay.Amount)

	// Paying the difference completes the reschedule.
	confirmed, err := f.svc.ConfirmPayment(ctx, res.OrderRef, "pay_diff", f.signFor(res.OrderRef, "pay_diff"))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Equal(t, 1, confirmed.RescheduleCount)
	assert.Zero(t, confirmed.DiffAmount)

	newSlot, err = f.store.GetSlotByID(ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusBooked, newSlot.Status)
}

func TestReschedule_CheaperTargetRefundsAtClinic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	from := f.addSlot(48*time.Hour, 500, slot.PaymentModeOnline)
	to := f.addSlot(72*time.Hour, 300, slot.PaymentModeOnline)

	appt := f.bookPaid(t, from)

	res, err := f.svc.Reschedule(ctx, RescheduleParams{
		AppointmentID: appt.ID,
		TargetSlotID:  to.ID,
		Actor:         ActorPatient,
		Caps:          Capabilities{OnlinePayment: true},
	})
	require.NoError(t, err)

	assert.Equal(t, FinancialRefundAtClinic, res.FinancialStatus)
	assert.Equal(t, int64(200), res.Diff)
	assert.Empty(t, res.OrderRef, "refunds settle at the clinic, not through the gateway")
	assert.Equal(t, StatusConfirmed, res.Appointment.Status)
	assert.Equal(t, 1, res.Appointment.RescheduleCount)
	assert.Empty(t, f.gw.Refunds)
}

func TestReschedule_OfflineToOnlineChargesFullPrice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	from := f.addSlot(48*time.Hour, 500, slot.PaymentModeOffline)
	to := f.addSlot(72*time.Hour, 500, slot.PaymentModeOnline)

	booked, err := f.svc.Book(ctx, bookParams(from, Capabilities{}))
	require.NoError(t, err)

	res, err := f.svc.Reschedule(ctx, RescheduleParams{
		AppointmentID: booked.Appointment.ID,
		TargetSlotID:  to.ID,
		Actor:         ActorPatient,
		Caps:          Capabilities{OnlinePayment: true},
	})
	require.NoError(t, err)

	assert.Equal(t, FinancialOfflineToOnline, res.FinancialStatus)
	assert.Equal(t, int64(500), res.Diff)
	require.NotEmpty(t, res.OrderRef)

	pay, err := f.store.GetPaymentByOrderRef(ctx, res.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, int64(500), pay.Amount, "nothing was collected online, the full price is due")
}

func TestReschedule_LimitEnforced(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.addSlot(48*time.Hour, 300, slot.PaymentModeOffline)
	second := f.addSlot(72*time.Hour, 300, slot.PaymentModeOffline)
	third := f.addSlot(96*time.Hour, 300, slot.PaymentModeOffline)

	booked, err := f.svc.Book(ctx, bookParams(first, Capabilities{}))
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, RescheduleParams{
		AppointmentID: booked.Appointment.ID,
		TargetSlotID:  second.ID,
		Actor:         ActorPatient,
	})
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, RescheduleParams{
		AppointmentID: booked.Appointment.ID,
		TargetSlotID:  third.ID,
		Actor:         ActorPatient,
	})
	assert.ErrorIs(t, err, ErrPolicy)
}

func TestReschedule_TargetAlreadyClaimed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	from := f.addSlot(48*time.Hour, 300, slot.PaymentModeOffline)
	to := f.addSlot(72*time.Hour, 300, slot.PaymentModeOffline)

	booked, err := f.svc.Book(ctx, bookParams(from, Capabilities{}))
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, bookParams(to, Capabilities{}))
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, RescheduleParams{
		AppointmentID: booked.Appointment.ID,
		TargetSlotID:  to.ID,
		Actor:         ActorPatient,
	})
	assert.ErrorIs(t, err, ErrSlotTaken)

	// Original booking is untouched by the failed move.
	appt, err := f.store.GetAppointmentByID(ctx, booked.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, from.ID, appt.SlotID)
	assert.Zero(t, appt.RescheduleCount)
}

func TestReschedule_RejectedStates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	from := f.addSlot(48*time.Hour, 300, slot.PaymentModeOffline)
	to := f.addSlot(72*time.Hour, 300, slot.PaymentModeOffline)

	booked, err := f.svc.Book(ctx, bookParams(from, Capabilities{}))
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, RescheduleParams{
		AppointmentID: booked.Appointment.ID,
		TargetSlotID:  from.ID,
		Actor:         ActorPatient,
	})
	assert.ErrorIs(t, err, ErrPolicy, "moving to the current slot is pointless")

	_, err = f.svc.UpdateStatus(ctx, booked.Appointment.ID, StatusCancelled, ActorStaff, "closed")
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, RescheduleParams{
		AppointmentID: booked.Appointment.ID,
		TargetSlotID:  to.ID,
		Actor:         ActorPatient,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Reschedule(ctx, RescheduleParams{
		AppointmentID: uuid.New(),
		TargetSlotID:  to.ID,
		Actor:         ActorPatient,
	})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestReschedule_GatewayFailureLeavesBookingUntouched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	from := f.addSlot(48*time.Hour, 500, slot.PaymentModeOnline)
	to := f.addSlot(72*time.Hour, 800, slot.PaymentModeOnline)

	appt := f.bookPaid(t, from)
	f.gw.Fail = true

	_, err := f.svc.Reschedule(ctx, RescheduleParams{
		AppointmentID: appt.ID,
		TargetSlotID:  to.ID,
		Actor:         ActorPatient,
		Caps:          Capabilities{OnlinePayment: true},
	})
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	got, err := f.store.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, from.ID, got.SlotID)
	assert.Equal(t, StatusConfirmed, got.Status)

	targetSlot, err := f.store.GetSlotByID(ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusOpen, targetSlot.Status)
}
