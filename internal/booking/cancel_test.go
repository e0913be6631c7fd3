package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/booking/internal/notify"
	"github.com/clinicdesk/booking/internal/slot"
)

func TestRequestCancellation_OfflineWithNoticeCancelsInstantly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sl := f.addSlot(48*time.Hour, 300, slot.PaymentModeOffline)

	booked, err := f.svc.Book(ctx, bookParams(sl, Capabilities{}))
	require.NoError(t, err)

	out, err := f.svc.RequestCancellation(ctx, booked.Appointment.ID, ActorPatient, "feeling better")
	require.NoError(t, err)

	assert.True(t, out.Cancelled)
	assert.Nil(t, out.Request)
	assert.Equal(t, StatusCancelled, out.Appointment.Status)
	assert.Equal(t, ActorPatient, out.Appointment.CancelledBy)

	got, err := f.store.GetSlotByID(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusOpen, got.Status)

	assert.Len(t, f.emitter.byType(notify.EventCancellation), 1)
}

func TestRequestCancellation_OfflineInsideNoticeWindow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sl := f.addSlot(2*time.Hour, 300, slot.PaymentModeOffline)

	booked, err := f.svc.Book(ctx, bookParams(sl, Capabilities{}))
	require.NoError(t, err)

	_, err = f.svc.RequestCancellation(ctx, booked.Appointment.ID, ActorPatient, "")
	assert.ErrorIs(t, err, ErrPolicy)

	appt, err := f.store.GetAppointmentByID(ctx, booked.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
}

func TestRequestCancellation_FreeSlot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sl := f.addSlot(48*time.Hour, 0, slot.PaymentModeFree)

	booked, err := f.svc.Book(ctx, bookParams(sl, Capabilities{}))
	require.NoError(t, err)

	out, err := f.svc.RequestCancellation(ctx, booked.Appointment.ID, ActorPatient, "")
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
}

func TestRequestCancellation_UnpaidOnlineCancelsInstantly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sl := f.addSlot(2*time.Hour, 500, slot.PaymentModeOnline)

	booked, err := f.svc.Book(ctx, bookParams(sl, Capabilities{OnlinePayment: true}))
	require.NoError(t, err)

	// No money moved yet, so no staff approval and no notice requirement.
	out, err := f.svc.RequestCancellation(ctx, booked.Appointment.ID, ActorPatient, "changed my mind")
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Nil(t, out.Request)

	got, err := f.store.GetSlotByID(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusOpen, got.Status)
}

func TestRequestCancellation_PaidOnlineOpensRequest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sl := f.addSlot(48*time.Hour, 500, slot.PaymentModeOnline)

	appt := f.bookPaid(t, sl)

	out, err := f.svc.RequestCancellation(ctx, appt.ID, ActorPatient, "travelling")
	require.NoError(t, err)

	assert.False(t, out.Cancelled)
	require.NotNil(t, out.Request)
	assert.Equal(t, RequestPending, out.Request.Status)
	assert.Equal(t, StatusConfirmed, out.Request.PriorStatus)
	assert.Equal(t, StatusCancelRequested, out.Appointment.Status)

	// The slot stays claimed until staff decide.
	got, err := f.store.GetSlotByID(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusBooked, got.Status)

	events := f.emitter.byType(notify.EventCancelRequest)
	require.Len(t, events, 1)
	assert.Equal(t, "high", events[0].Priority)

	// A second request while one is open is rejected.
	_, err = f.svc.RequestCancellation(ctx, appt.ID, ActorPatient, "again")
	assert.ErrorIs(t, err, ErrDuplicateCancelRequest)
}

func TestResolveCancellation_ApproveRefundsAndReleases(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sl := f.addSlot(48*time.Hour, 500, slot.PaymentModeOnline)

	appt := f.bookPaid(t, sl)
	out, err := f.svc.RequestCancellation(ctx, appt.ID, ActorPatient, "travelling")
	require.NoError(t, err)

	staff := uuid.New()
	req, err := f.svc.ResolveCancellation(ctx, out.Request.ID, true, staff, "approved per policy")
	require.NoError(t, err)

	assert.Equal(t, RequestApproved, req.Status)
	require.NotNil(t, req.ProcessedBy)
	assert.Equal(t, staff, *req.ProcessedBy)
	assert.NotNil(t, req.ProcessedAt)

	got, err := f.store.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, PaymentRefunded, got.PaymentStatus)

	freed, err := f.store.GetSlotByID(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusOpen, freed.Status)

	pay, err := f.store.GetPaymentByAppointmentID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, pay.Status)
	assert.Equal(t, int64(500), f.gw.Refunds[pay.GatewayRef])

	assert.Len(t, f.emitter.byType(notify.EventCancellation), 1)
}

func TestResolveCancellation_RejectRestoresAppointment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sl := f.addSlot(48*time.Hour, 500, slot.PaymentModeOnline)

	appt := f.bookPaid(t, sl)
	out, err := f.svc.RequestCancellation(ctx, appt.ID, ActorPatient, "travelling")
	require.NoError(t, err)

	staff := uuid.New()
	req, err := f.svc.ResolveCancellation(ctx, out.Request.ID, false, staff, "inside notice window")
	require.NoError(t, err)
	assert.Equal(t, RequestRejected, req.Status)

	got, err := f.store.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status, "rejection restores the pre-request status")
	assert.Equal(t, PaymentPaid, got.PaymentStatus)
	assert.Empty(t, f.gw.Refunds)

	held, err := f.store.GetSlotByID(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusBooked, held.Status)

	// A rejected request can be followed by a fresh one.
	_, err = f.svc.RequestCancellation(ctx, appt.ID, ActorPatient, "second try")
	assert.NoError(t, err)
}

func TestResolveCancellation_SingleResolution(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sl := f.addSlot(48*time.Hour, 500, slot.PaymentModeOnline)

	appt := f.bookPaid(t, sl)
	out, err := f.svc.RequestCancellation(ctx, appt.ID, ActorPatient, "travelling")
	require.NoError(t, err)

	staff := uuid.New()
	_, err = f.svc.ResolveCancellation(ctx, out.Request.ID, true, staff, "")
	require.NoError(t, err)

	_, err = f.svc.ResolveCancellation(ctx, out.Request.ID, false, staff, "")
	assert.ErrorIs(t, err, ErrRequestResolved)

	_, err = f.svc.ResolveCancellation(ctx, uuid.New(), true, staff, "")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestResolveCancellation_StaleAfterDirectCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sl := f.addSlot(48*time.Hour, 500, slot.PaymentModeOnline)

	appt := f.bookPaid(t, sl)
	out, err := f.svc.RequestCancellation(ctx, appt.ID, ActorPatient, "travelling")
	require.NoError(t, err)

	// Staff close the appointment directly while the request is still open.
	_, err = f.svc.UpdateStatus(ctx, appt.ID, StatusCancelled, ActorStaff, "clinic closed that day")
	require.NoError(t, err)

	staff := uuid.New()

	// Rejecting the stale request must not resurrect a cancelled appointment.
	_, err = f.svc.ResolveCancellation(ctx, out.Request.ID, false, staff, "")
	assert.ErrorIs(t, err, ErrRequestStale)

	got, err := f.store.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	// Approving must not re-release a slot that is open for rebooking.
	_, err = f.svc.ResolveCancellation(ctx, out.Request.ID, true, staff, "")
	assert.ErrorIs(t, err, ErrRequestStale)

	freed, err := f.store.GetSlotByID(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusOpen, freed.Status)
	assert.Empty(t, f.gw.Refunds, "no gateway refund for a stale resolution")
}

func TestRequestCancellation_TerminalAppointment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sl := f.addSlot(48*time.Hour, 300, slot.PaymentModeOffline)

	booked, err := f.svc.Book(ctx, bookParams(sl, Capabilities{}))
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, booked.Appointment.ID, StatusConfirmed, ActorStaff, "")
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, booked.Appointment.ID, StatusCompleted, ActorStaff, "")
	require.NoError(t, err)

	_, err = f.svc.RequestCancellation(ctx, booked.Appointment.ID, ActorPatient, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
