package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/booking/internal/slot"
)

// Store contains all persistence the engine needs. InTx runs fn against a
// transactional view of the same store; every slot-affecting operation
// performs its writes inside one InTx call so partial application is never
// observable.
type Store interface {
	InTx(ctx context.Context, fn func(Store) error) error

	// Slots
	CreateSlot(ctx context.Context, s *slot.Slot) error
	GetSlotByID(ctx context.Context, id uuid.UUID) (*slot.Slot, error)
	FindAvailableSlots(ctx context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]slot.Slot, error)
	UpdateSlotStatus(ctx context.Context, id uuid.UUID, status slot.Status) error
	BlockSlot(ctx context.Context, id uuid.UUID, reason string) error
	UnblockSlot(ctx context.Context, id uuid.UUID) error
	SoftDeleteSlot(ctx context.Context, id uuid.UUID) error

	// Appointments
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetActiveAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment) error
	FindExpiredHolds(ctx context.Context, now time.Time) ([]Appointment, error)

	// Payments
	UpsertPayment(ctx context.Context, p *Payment) error
	GetPaymentByOrderRef(ctx context.Context, orderRef string) (*Payment, error)
	GetPaymentByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)

	// Cancellation requests
	CreateCancellationRequest(ctx context.Context, r *CancellationRequest) error
	GetCancellationRequestByID(ctx context.Context, id uuid.UUID) (*CancellationRequest, error)
	GetOpenCancellationRequestForAppointment(ctx context.Context, appointmentID uuid.UUID) (*CancellationRequest, error)
	UpdateCancellationRequest(ctx context.Context, r *CancellationRequest) error

	// History
	AppendLog(ctx context.Context, l *AppointmentLog) error
}
