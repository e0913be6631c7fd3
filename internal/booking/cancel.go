package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking/internal/notify"
	"github.com/clinicdesk/booking/internal/slot"
)

type CancellationOutcome struct {
	Appointment *Appointment
	// Request is set when the cancellation needs staff approval; the
	// appointment stays in cancel_requested and keeps its slot until then.
	Request   *CancellationRequest
	Cancelled bool
}

// RequestCancellation resolves a holder's cancellation. Offline and free
// appointments cancel instantly when the notice window is respected;
// online-paid ones open a staff-approval request because money has to flow
// back.
func (s *Service) RequestCancellation(ctx context.Context, appointmentID uuid.UUID, actor, reason string) (*CancellationOutcome, error) {
	appt, err := s.store.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return nil, ErrInvalidTransition
	}
	if appt.Status == StatusCancelRequested {
		return nil, ErrDuplicateCancelRequest
	}

	sl, err := s.store.GetSlotByID(ctx, appt.SlotID)
	if err != nil {
		return nil, err
	}

	onlinePaid := sl.PaymentMode == slot.PaymentModeOnline && appt.PaymentStatus == PaymentPaid

	if !onlinePaid {
		// Nothing to refund through the gateway. Offline and free
		// appointments still owe the clinic minimum notice.
		if sl.PaymentMode != slot.PaymentModeOnline {
			notice := sl.StartTime.Sub(s.now())
			if notice < s.cfg.CancelNoticeWindow {
				return nil, policyErr("cancel_notice",
					"cancellation requires at least %s notice before the slot time", s.cfg.CancelNoticeWindow)
			}
		}
		if err := s.cancelNow(ctx, appt, actor, reason); err != nil {
			return nil, err
		}
		return &CancellationOutcome{Appointment: appt, Cancelled: true}, nil
	}

	existing, err := s.store.GetOpenCancellationRequestForAppointment(ctx, appt.ID)
	if err != nil && !errors.Is(err, ErrRequestNotFound) {
		return nil, fmt.Errorf("check open cancellation request: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateCancelRequest
	}

	req := &CancellationRequest{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		Status:        RequestPending,
		Reason:        reason,
		PriorStatus:   appt.Status,
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.CreateCancellationRequest(ctx, req); err != nil {
			return err
		}
		appt.Status = StatusCancelRequested
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		return tx.AppendLog(ctx, &AppointmentLog{
			AppointmentID: appt.ID,
			Action:        "cancel_requested",
			Actor:         actor,
			Reason:        reason,
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.Event{
		ClinicID: appt.ClinicID,
		Type:     notify.EventCancelRequest,
		EntityID: appt.ID,
		Message:  "cancellation requested, staff decision required",
		Priority: "high",
	})

	return &CancellationOutcome{Appointment: appt, Request: req}, nil
}

// ResolveCancellation is the staff decision on a pending request. Only one
// resolution is accepted per request.
func (s *Service) ResolveCancellation(ctx context.Context, requestID uuid.UUID, approve bool, staffID uuid.UUID, reason string) (*CancellationRequest, error) {
	req, err := s.store.GetCancellationRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != RequestPending {
		return nil, ErrRequestResolved
	}

	appt, err := s.store.GetAppointmentByID(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	// The appointment may have been cancelled directly while the request sat
	// open; resolving then would resurrect a terminal appointment (reject) or
	// re-release a slot someone else holds (approve).
	if appt.Status != StatusCancelRequested {
		return nil, ErrRequestStale
	}

	now := s.now()
	req.ProcessedBy = &staffID
	req.ProcessedAt = &now

	if !approve {
		err = s.store.InTx(ctx, func(tx Store) error {
			req.Status = RequestRejected
			if err := tx.UpdateCancellationRequest(ctx, req); err != nil {
				return err
			}
			appt.Status = req.PriorStatus
			if err := tx.UpdateAppointment(ctx, appt); err != nil {
				return err
			}
			return tx.AppendLog(ctx, &AppointmentLog{
				AppointmentID: appt.ID,
				Action:        "cancellation_rejected",
				Actor:         ActorStaff,
				Reason:        reason,
			})
		})
		if err != nil {
			return nil, err
		}
		return req, nil
	}

	var pay *Payment
	err = s.store.InTx(ctx, func(tx Store) error {
		req.Status = RequestApproved
		if err := tx.UpdateCancellationRequest(ctx, req); err != nil {
			return err
		}

		appt.Status = StatusCancelled
		appt.CancelReason = req.Reason
		appt.CancelledBy = ActorStaff
		if appt.PaymentStatus == PaymentPaid {
			appt.PaymentStatus = PaymentRefunded
		}
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		if err := tx.UpdateSlotStatus(ctx, appt.SlotID, slot.StatusOpen); err != nil {
			return err
		}

		p, err := tx.GetPaymentByAppointmentID(ctx, appt.ID)
		if err != nil && !errors.Is(err, ErrPaymentNotFound) {
			return err
		}
		if p != nil {
			p.Status = PaymentRefunded
			if err := tx.UpsertPayment(ctx, p); err != nil {
				return err
			}
			pay = p
		}

		return tx.AppendLog(ctx, &AppointmentLog{
			AppointmentID: appt.ID,
			Action:        "cancellation_approved",
			Actor:         ActorStaff,
			Reason:        reason,
		})
	})
	if err != nil {
		return nil, err
	}

	if pay != nil && pay.GatewayRef != "" {
		// Fire and forget; the refund result is not required for local
		// state transitions.
		if err := s.gw.Refund(ctx, pay.GatewayRef, pay.Amount); err != nil {
			s.log.Error("gateway refund",
				zap.String("appointment_id", appt.ID.String()),
				zap.String("gateway_ref", pay.GatewayRef),
				zap.Error(err),
			)
		}
	}

	s.emit(ctx, notify.Event{
		ClinicID: appt.ClinicID,
		Type:     notify.EventCancellation,
		EntityID: appt.ID,
		Message:  "cancellation approved, appointment cancelled",
	})

	return req, nil
}

func (s *Service) cancelNow(ctx context.Context, appt *Appointment, actor, reason string) error {
	err := s.store.InTx(ctx, func(tx Store) error {
		appt.Status = StatusCancelled
		appt.CancelReason = reason
		appt.CancelledBy = actor
		appt.HoldExpiresAt = nil
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		if err := tx.UpdateSlotStatus(ctx, appt.SlotID, slot.StatusOpen); err != nil {
			return err
		}
		return tx.AppendLog(ctx, &AppointmentLog{
			AppointmentID: appt.ID,
			Action:        "cancelled",
			Actor:         actor,
			Reason:        reason,
		})
	})
	if err != nil {
		return err
	}

	s.emit(ctx, notify.Event{
		ClinicID: appt.ClinicID,
		Type:     notify.EventCancellation,
		EntityID: appt.ID,
		Message:  "appointment cancelled",
	})
	return nil
}
