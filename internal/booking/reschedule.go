package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking/internal/gateway"
	"github.com/clinicdesk/booking/internal/notify"
	redisclient "github.com/clinicdesk/booking/internal/redis"
	"github.com/clinicdesk/booking/internal/slot"
)

type RescheduleParams struct {
	AppointmentID uuid.UUID
	TargetSlotID  uuid.UUID
	Actor         string
	Reason        string
	Caps          Capabilities
}

type RescheduleResult struct {
	Appointment     *Appointment
	FinancialStatus FinancialStatus
	Diff            int64
	// OrderRef is non-empty when the caller must pay the difference before
	// the appointment confirms.
	OrderRef string
}

// reconcile computes the financial effect of moving from the current paid
// amount to the target slot's price.
func reconcile(oldSlot, target *slot.Slot, oldPaid int64) (FinancialStatus, int64) {
	newPrice := target.Price

	switch {
	case oldSlot.PaymentMode != slot.PaymentModeOnline &&
		target.PaymentMode == slot.PaymentModeOnline &&
		newPrice == oldSlot.Price:
		// Same nominal price, but nothing was collected online yet: the
		// full new price is due.
		return FinancialOfflineToOnline, newPrice
	case newPrice > oldPaid:
		return FinancialPayDifference, newPrice - oldPaid
	case newPrice < oldPaid:
		return FinancialRefundAtClinic, oldPaid - newPrice
	default:
		return FinancialNoChange, 0
	}
}

// Reschedule moves an appointment to a different slot, reconciling the
// price delta. At most cfg.RescheduleLimit reschedules are permitted per
// appointment; this is a policy limit, not a technical one.
func (s *Service) Reschedule(ctx context.Context, p RescheduleParams) (*RescheduleResult, error) {
	appt, err := s.store.GetAppointmentByID(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() || appt.Status == StatusCancelRequested {
		return nil, ErrInvalidTransition
	}
	if appt.RescheduleCount >= s.cfg.RescheduleLimit {
		return nil, policyErr("reschedule_limit",
			"at most %d reschedule(s) permitted per appointment", s.cfg.RescheduleLimit)
	}

	oldSlot, err := s.store.GetSlotByID(ctx, appt.SlotID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetSlotByID(ctx, p.TargetSlotID)
	if err != nil {
		return nil, err
	}
	if target.ID == oldSlot.ID {
		return nil, policyErr("same_slot", "target slot is the appointment's current slot")
	}
	if !target.Bookable() {
		return nil, ErrSlotNotBookable
	}

	holder, err := s.store.GetActiveAppointmentForSlot(ctx, target.ID)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("check target slot: %w", err)
	}
	if holder != nil {
		return nil, ErrSlotTaken
	}

	var oldPaid int64
	if appt.PaymentStatus == PaymentPaid {
		oldPaid = appt.Amount
	}
	fin, diff := reconcile(oldSlot, target, oldPaid)

	// A gateway order is only raised when the target collects online; price
	// differences on offline targets settle at the clinic.
	requiresPayment := target.PaymentMode == slot.PaymentModeOnline && diff > 0 &&
		(fin == FinancialPayDifference || fin == FinancialOfflineToOnline)

	if requiresPayment && !p.Caps.OnlinePayment {
		return nil, policyErr("online_payment_disabled", "online payment is not enabled for this clinic")
	}

	var orderRef string
	if requiresPayment {
		// Remote call first; if it fails nothing local has changed, and if
		// the transaction below fails the unused order is simply abandoned.
		orderRef, err = s.gw.CreateOrder(ctx, gateway.OrderRequest{
			Amount:   diff,
			Currency: s.cfg.Currency,
			Metadata: map[string]string{
				"appointment_id": appt.ID.String(),
				"target_slot_id": target.ID.String(),
				"kind":           "reschedule_difference",
			},
		})
		if err != nil {
			return nil, err
		}
	}

	err = s.locker.WithSlotLock(ctx, target.ID, func(lockCtx context.Context) error {
		return s.store.InTx(lockCtx, func(tx Store) error {
			appt.SlotID = target.ID
			appt.FinancialStatus = fin
			appt.DiffAmount = diff
			appt.Amount = target.Price

			targetStatus := slot.StatusBooked
			if requiresPayment {
				holdUntil := s.now().Add(s.cfg.PaymentHoldTTL)
				appt.Status = StatusPendingPayment
				appt.PaymentStatus = PaymentPending
				appt.HoldExpiresAt = &holdUntil
				targetStatus = slot.StatusHeld
			} else {
				appt.Status = StatusConfirmed
				appt.HoldExpiresAt = nil
				// The swap is final, so the policy counter moves now. When a
				// difference payment is pending the counter moves on
				// confirmation instead.
				appt.RescheduleCount++
			}

			// UpdateAppointment hits the active-appointment uniqueness
			// constraint if someone claimed the target since the pre-check.
			if err := tx.UpdateAppointment(lockCtx, appt); err != nil {
				return err
			}
			if err := tx.UpdateSlotStatus(lockCtx, oldSlot.ID, slot.StatusOpen); err != nil {
				return err
			}
			if err := tx.UpdateSlotStatus(lockCtx, target.ID, targetStatus); err != nil {
				return err
			}

			if requiresPayment {
				pay := &Payment{
					ID:            uuid.New(),
					AppointmentID: appt.ID,
					Provider:      s.provider,
					OrderRef:      orderRef,
					Amount:        diff,
					Status:        PaymentPending,
				}
				if err := tx.UpsertPayment(lockCtx, pay); err != nil {
					return err
				}
			}

			return tx.AppendLog(lockCtx, &AppointmentLog{
				AppointmentID: appt.ID,
				Action:        "rescheduled",
				OldStart:      &oldSlot.StartTime,
				NewStart:      &target.StartTime,
				Actor:         p.Actor,
				Reason:        p.Reason,
				Metadata: metadata(map[string]any{
					"financial_status": fin,
					"diff_amount":      diff,
					"old_slot_id":      oldSlot.ID,
					"new_slot_id":      target.ID,
				}),
			})
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("financial_status", string(fin)),
		zap.Int64("diff_amount", diff),
	)

	s.emit(ctx, notify.Event{
		ClinicID: appt.ClinicID,
		Type:     notify.EventReschedule,
		EntityID: appt.ID,
		Message:  fmt.Sprintf("appointment moved to %s", target.StartTime.Format("2006-01-02 15:04")),
	})

	return &RescheduleResult{
		Appointment:     appt,
		FinancialStatus: fin,
		Diff:            diff,
		OrderRef:        orderRef,
	}, nil
}
