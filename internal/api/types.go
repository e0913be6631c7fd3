package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/booking/internal/booking"
	"github.com/clinicdesk/booking/internal/slot"
)

type CreateSlotRequest struct {
	ClinicID    string    `json:"clinic_id" validate:"required,uuid"`
	DoctorID    string    `json:"doctor_id" validate:"required,uuid"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time" validate:"required"`
	Price       int64     `json:"price" validate:"gte=0"`
	PaymentMode string    `json:"payment_mode" validate:"required,oneof=free online offline"`
	Kind        string    `json:"kind" validate:"omitempty,oneof=appointment break"`
}

type BulkSlotRequest struct {
	ClinicID        string    `json:"clinic_id" validate:"required,uuid"`
	DoctorID        string    `json:"doctor_id" validate:"required,uuid"`
	WindowStart     time.Time `json:"window_start" validate:"required"`
	WindowEnd       time.Time `json:"window_end" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,gt=0"`
	Price           int64     `json:"price" validate:"gte=0"`
	PaymentMode     string    `json:"payment_mode" validate:"required,oneof=free online offline"`
}

type BlockSlotRequest struct {
	Reason string `json:"reason"`
	Force  bool   `json:"force"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	ClinicID    uuid.UUID `json:"clinic_id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Price       int64     `json:"price"`
	PaymentMode string    `json:"payment_mode"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
}

func toSlotResponse(sl *slot.Slot) SlotResponse {
	return SlotResponse{
		ID:          sl.ID,
		ClinicID:    sl.ClinicID,
		DoctorID:    sl.DoctorID,
		StartTime:   sl.StartTime,
		EndTime:     sl.EndTime,
		Price:       sl.Price,
		PaymentMode: string(sl.PaymentMode),
		Kind:        string(sl.Kind),
		Status:      string(sl.Status),
	}
}

type BookAppointmentRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	SlotID string `json:"slot_id" validate:"required,uuid"`
	// OnlinePaymentEnabled is the clinic's plan gate, resolved by the caller.
	// Doctor and clinic are taken from the slot, not the request.
	OnlinePaymentEnabled bool `json:"online_payment_enabled"`
}

type RescheduleRequest struct {
	TargetSlotID         string `json:"target_slot_id" validate:"required,uuid"`
	Actor                string `json:"actor" validate:"required,oneof=patient staff"`
	Reason               string `json:"reason"`
	OnlinePaymentEnabled bool   `json:"online_payment_enabled"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed completed no_show cancelled"`
	Actor  string `json:"actor" validate:"required,oneof=patient staff"`
	Reason string `json:"reason"`
}

type CancelAppointmentRequest struct {
	Actor  string `json:"actor" validate:"required,oneof=patient staff"`
	Reason string `json:"reason"`
}

type ConfirmPaymentRequest struct {
	OrderRef   string `json:"order_ref" validate:"required"`
	PaymentRef string `json:"payment_ref" validate:"required"`
	Signature  string `json:"signature" validate:"required"`
}

type ResolveCancellationRequest struct {
	Approve bool   `json:"approve"`
	StaffID string `json:"staff_id" validate:"required,uuid"`
	Reason  string `json:"reason"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	ClinicID        uuid.UUID  `json:"clinic_id"`
	SlotID          uuid.UUID  `json:"slot_id"`
	Status          string     `json:"status"`
	PaymentStatus   string     `json:"payment_status"`
	FinancialStatus string     `json:"financial_status"`
	Amount          int64      `json:"amount"`
	DiffAmount      int64      `json:"diff_amount,omitempty"`
	RescheduleCount int        `json:"reschedule_count"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CancelledBy     string     `json:"cancelled_by,omitempty"`
	HoldExpiresAt   *time.Time `json:"hold_expires_at,omitempty"`
	// OrderRef is set when the caller still owes an online payment.
	OrderRef string `json:"order_ref,omitempty"`
}

func toAppointmentResponse(appt *booking.Appointment, orderRef string) AppointmentResponse {
	return AppointmentResponse{
		ID:              appt.ID,
		UserID:          appt.UserID,
		DoctorID:        appt.DoctorID,
		ClinicID:        appt.ClinicID,
		SlotID:          appt.SlotID,
		Status:          string(appt.Status),
		PaymentStatus:   string(appt.PaymentStatus),
		FinancialStatus: string(appt.FinancialStatus),
		Amount:          appt.Amount,
		DiffAmount:      appt.DiffAmount,
		RescheduleCount: appt.RescheduleCount,
		CancelReason:    appt.CancelReason,
		CancelledBy:     appt.CancelledBy,
		HoldExpiresAt:   appt.HoldExpiresAt,
		OrderRef:        orderRef,
	}
}

type CancellationRequestResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	ProcessedBy   *uuid.UUID `json:"processed_by,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

func toCancellationRequestResponse(req *booking.CancellationRequest) CancellationRequestResponse {
	return CancellationRequestResponse{
		ID:            req.ID,
		AppointmentID: req.AppointmentID,
		Status:        string(req.Status),
		Reason:        req.Reason,
		ProcessedBy:   req.ProcessedBy,
		ProcessedAt:   req.ProcessedAt,
	}
}

type CancellationOutcomeResponse struct {
	Appointment AppointmentResponse          `json:"appointment"`
	Request     *CancellationRequestResponse `json:"request,omitempty"`
	Cancelled   bool                         `json:"cancelled"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
