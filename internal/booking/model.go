package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusPendingPayment  Status = "pending_payment"
	StatusConfirmed       Status = "confirmed"
	StatusCancelRequested Status = "cancel_requested"
	StatusCompleted       Status = "completed"
	StatusNoShow          Status = "no_show"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether the status ends the lifecycle. Terminal
// appointments no longer hold their slot.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNoShow, StatusCancelled:
		return true
	}
	return false
}

type PaymentState string

const (
	PaymentNone     PaymentState = "none"
	PaymentPending  PaymentState = "pending"
	PaymentPaid     PaymentState = "paid"
	PaymentRefunded PaymentState = "refunded"
)

// FinancialStatus classifies the monetary effect of a reschedule.
type FinancialStatus string

const (
	FinancialNone            FinancialStatus = "none"
	FinancialNoChange        FinancialStatus = "no_change"
	FinancialPayDifference   FinancialStatus = "pay_difference"
	FinancialRefundAtClinic  FinancialStatus = "refund_at_clinic"
	FinancialOfflineToOnline FinancialStatus = "offline_to_online"
)

type Appointment struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	DoctorID        uuid.UUID
	ClinicID        uuid.UUID
	SlotID          uuid.UUID
	Status          Status
	PaymentStatus   PaymentState
	FinancialStatus FinancialStatus
	Amount          int64 // minor currency units
	DiffAmount      int64
	RescheduleCount int
	CancelReason    string
	CancelledBy     string
	HoldExpiresAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Payment is the single gateway record for an appointment. The row is
// upserted keyed by appointment id, never duplicated; webhook replays
// refresh it in place.
type Payment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Provider      string
	OrderRef      string
	GatewayRef    string
	Amount        int64
	Status        PaymentState
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// CancellationRequest is the staff-approval workflow for online-paid
// cancellations. PriorStatus is what the appointment reverts to on
// rejection.
type CancellationRequest struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Status        RequestStatus
	Reason        string
	PriorStatus   Status
	ProcessedBy   *uuid.UUID
	ProcessedAt   *time.Time
	CreatedAt     time.Time
}

// AppointmentLog is an append-only history entry; one per booking,
// reschedule or cancellation event.
type AppointmentLog struct {
	ID            int64
	AppointmentID uuid.UUID
	Action        string
	OldStart      *time.Time
	NewStart      *time.Time
	Actor         string
	Reason        string
	Metadata      []byte
	CreatedAt     time.Time
}

// Capabilities carries the plan gate for the clinic, resolved by the caller.
// The engine never looks plans up on its own.
type Capabilities struct {
	OnlinePayment bool
}
