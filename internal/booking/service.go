package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking/internal/config"
	"github.com/clinicdesk/booking/internal/gateway"
	"github.com/clinicdesk/booking/internal/notify"
	redisclient "github.com/clinicdesk/booking/internal/redis"
	"github.com/clinicdesk/booking/internal/slot"
)

const (
	ActorPatient = "patient"
	ActorStaff   = "staff"
	ActorSystem  = "system"
	ActorGateway = "gateway"
)

// Service is the appointment lifecycle engine. It is the only component
// that mutates appointment status.
type Service struct {
	store    Store
	locker   redisclient.Locker
	gw       gateway.Gateway
	provider string
	emitter  notify.Emitter
	cfg      config.Config
	log      *zap.Logger

	now func() time.Time
}

func NewService(store Store, locker redisclient.Locker, gw gateway.Gateway, provider string, emitter notify.Emitter, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		locker:   locker,
		gw:       gw,
		provider: provider,
		emitter:  emitter,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

type BookParams struct {
	UserID uuid.UUID
	SlotID uuid.UUID
	Caps   Capabilities
}

type BookResult struct {
	Appointment *Appointment
	// OrderRef is non-empty when the caller must complete an online payment.
	OrderRef string
}

// Book reserves a slot for a user. Online-paid slots produce a gateway order
// and a time-bounded payment hold; free and offline slots book straight into
// pending for staff to confirm on arrival. Losing a race for the slot
// surfaces ErrSlotTaken.
func (s *Service) Book(ctx context.Context, p BookParams) (*BookResult, error) {
	sl, err := s.store.GetSlotByID(ctx, p.SlotID)
	if err != nil {
		return nil, err
	}
	if !sl.Bookable() {
		return nil, ErrSlotNotBookable
	}

	online := sl.PaymentMode == slot.PaymentModeOnline && sl.Price > 0
	if online && !p.Caps.OnlinePayment {
		return nil, policyErr("online_payment_disabled", "online payment is not enabled for this clinic")
	}

	// Doctor and clinic come from the slot itself, never from the caller.
	appt := &Appointment{
		ID:              uuid.New(),
		UserID:          p.UserID,
		DoctorID:        sl.DoctorID,
		ClinicID:        sl.ClinicID,
		SlotID:          sl.ID,
		Status:          StatusPending,
		PaymentStatus:   PaymentNone,
		FinancialStatus: FinancialNone,
		Amount:          sl.Price,
	}

	var orderRef string
	if online {
		// The remote call happens before the committing transaction so a
		// gateway failure leaves no half-claimed slot.
		orderRef, err = s.gw.CreateOrder(ctx, gateway.OrderRequest{
			Amount:   sl.Price,
			Currency: s.cfg.Currency,
			Metadata: map[string]string{
				"appointment_id": appt.ID.String(),
				"slot_id":        sl.ID.String(),
			},
		})
		if err != nil {
			return nil, err
		}

		holdUntil := s.now().Add(s.cfg.PaymentHoldTTL)
		appt.Status = StatusPendingPayment
		appt.PaymentStatus = PaymentPending
		appt.HoldExpiresAt = &holdUntil
	}

	err = s.locker.WithSlotLock(ctx, sl.ID, func(lockCtx context.Context) error {
		return s.store.InTx(lockCtx, func(tx Store) error {
			// Optimistic pre-check; the uniqueness constraint on active
			// appointments per slot is the backstop under races.
			existing, err := tx.GetActiveAppointmentForSlot(lockCtx, sl.ID)
			if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("check active appointment: %w", err)
			}
			if existing != nil {
				return ErrSlotTaken
			}

			if err := tx.CreateAppointment(lockCtx, appt); err != nil {
				return err
			}

			slotStatus := slot.StatusBooked
			if appt.Status == StatusPendingPayment {
				slotStatus = slot.StatusHeld
			}
			if err := tx.UpdateSlotStatus(lockCtx, sl.ID, slotStatus); err != nil {
				return err
			}

			if orderRef != "" {
				pay := &Payment{
					ID:            uuid.New(),
					AppointmentID: appt.ID,
					Provider:      s.provider,
					OrderRef:      orderRef,
					Amount:        sl.Price,
					Status:        PaymentPending,
				}
				if err := tx.UpsertPayment(lockCtx, pay); err != nil {
					return err
				}
			}

			return tx.AppendLog(lockCtx, &AppointmentLog{
				AppointmentID: appt.ID,
				Action:        "booked",
				NewStart:      &sl.StartTime,
				Actor:         ActorPatient,
				Metadata: metadata(map[string]any{
					"payment_mode": sl.PaymentMode,
					"amount":       sl.Price,
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

	s.log.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("slot_id", sl.ID.String()),
		zap.String("status", string(appt.Status)),
	)

	return &BookResult{Appointment: appt, OrderRef: orderRef}, nil
}

// ConfirmPayment finalizes an online payment reported by the gateway
// webhook. Verification happens before any state is touched. Replays for an
// already confirmed appointment refresh the payment row and change nothing
// else; confirmations for closed-out appointments are rejected as stale.
func (s *Service) ConfirmPayment(ctx context.Context, orderRef, paymentRef, signature string) (*Appointment, error) {
	if !s.gw.VerifySignature(orderRef, paymentRef, signature) {
		s.log.Warn("payment signature verification failed",
			zap.String("order_ref", orderRef),
			zap.String("payment_ref", paymentRef),
		)
		return nil, ErrSignatureInvalid
	}

	pay, err := s.store.GetPaymentByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	appt, err := s.store.GetAppointmentByID(ctx, pay.AppointmentID)
	if err != nil {
		return nil, err
	}

	if appt.Status.Terminal() {
		// The hold expired and the slot may already belong to someone else.
		return nil, ErrStaleConfirmation
	}

	if appt.Status == StatusConfirmed {
		// Webhook replay: refresh the payment row only.
		pay.GatewayRef = paymentRef
		pay.Status = PaymentPaid
		if err := s.store.UpsertPayment(ctx, pay); err != nil {
			return nil, err
		}
		return appt, nil
	}

	if appt.Status != StatusPendingPayment {
		return nil, ErrInvalidTransition
	}

	// A paid difference completes the pending reschedule, so the count
	// increments now rather than at swap time.
	reschedulePayment := appt.FinancialStatus == FinancialPayDifference ||
		appt.FinancialStatus == FinancialOfflineToOnline

	err = s.store.InTx(ctx, func(tx Store) error {
		appt.Status = StatusConfirmed
		appt.PaymentStatus = PaymentPaid
		appt.HoldExpiresAt = nil
		if reschedulePayment {
			appt.RescheduleCount++
			appt.DiffAmount = 0
		}
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		if err := tx.UpdateSlotStatus(ctx, appt.SlotID, slot.StatusBooked); err != nil {
			return err
		}

		pay.GatewayRef = paymentRef
		pay.Status = PaymentPaid
		if err := tx.UpsertPayment(ctx, pay); err != nil {
			return err
		}

		return tx.AppendLog(ctx, &AppointmentLog{
			AppointmentID: appt.ID,
			Action:        "payment_confirmed",
			Actor:         ActorGateway,
			Metadata: metadata(map[string]any{
				"order_ref":   orderRef,
				"payment_ref": paymentRef,
				"amount":      pay.Amount,
			}),
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.Event{
		ClinicID: appt.ClinicID,
		Type:     notify.EventConfirmation,
		EntityID: appt.ID,
		Message:  "appointment confirmed after payment",
	})

	return appt, nil
}

// UpdateStatus applies a staff-side transition: pending appointments are
// confirmed on arrival, confirmed appointments can complete or be marked
// no-show, and anything non-terminal can be cancelled.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus Status, actor, reason string) (*Appointment, error) {
	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !allowedTransition(appt.Status, newStatus) {
		return nil, ErrInvalidTransition
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		appt.Status = newStatus
		if newStatus == StatusCancelled {
			appt.CancelReason = reason
			appt.CancelledBy = actor
			appt.HoldExpiresAt = nil
			if err := tx.UpdateSlotStatus(ctx, appt.SlotID, slot.StatusOpen); err != nil {
				return err
			}
		}
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		return tx.AppendLog(ctx, &AppointmentLog{
			AppointmentID: appt.ID,
			Action:        "status_" + string(newStatus),
			Actor:         actor,
			Reason:        reason,
		})
	})
	if err != nil {
		return nil, err
	}

	if newStatus == StatusCancelled {
		s.emit(ctx, notify.Event{
			ClinicID: appt.ClinicID,
			Type:     notify.EventCancellation,
			EntityID: appt.ID,
			Message:  "appointment cancelled",
		})
	}

	return appt, nil
}

func allowedTransition(from, to Status) bool {
	switch {
	case to == StatusCancelled:
		return !from.Terminal()
	case from == StatusPending && to == StatusConfirmed:
		return true
	case from == StatusConfirmed && (to == StatusCompleted || to == StatusNoShow):
		return true
	}
	return false
}

// ExpireHolds closes out appointments whose payment window elapsed and
// releases their slots. Called periodically by the expiry worker. A payment
// confirmation arriving after this ran is rejected as stale.
func (s *Service) ExpireHolds(ctx context.Context) (int, error) {
	candidates, err := s.store.FindExpiredHolds(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find expired holds: %w", err)
	}

	expired := 0
	for _, candidate := range candidates {
		id := candidate.ID
		swept := false
		err := s.store.InTx(ctx, func(tx Store) error {
			appt, err := tx.GetAppointmentByID(ctx, id)
			if err != nil {
				return err
			}
			if appt.Status != StatusPendingPayment {
				// Confirmed or cancelled since the sweep query ran.
				return nil
			}

			appt.Status = StatusCancelled
			appt.CancelReason = "payment window elapsed"
			appt.CancelledBy = ActorSystem
			appt.HoldExpiresAt = nil
			if err := tx.UpdateAppointment(ctx, appt); err != nil {
				return err
			}
			if err := tx.UpdateSlotStatus(ctx, appt.SlotID, slot.StatusOpen); err != nil {
				return err
			}
			swept = true
			return tx.AppendLog(ctx, &AppointmentLog{
				AppointmentID: appt.ID,
				Action:        "hold_expired",
				Actor:         ActorSystem,
				Reason:        "payment window elapsed",
			})
		})
		if err != nil {
			s.log.Error("expire hold", zap.String("appointment_id", id.String()), zap.Error(err))
			continue
		}
		// Counted only once the transaction committed.
		if swept {
			expired++
		}
	}

	return expired, nil
}

// GetAppointment returns a single appointment.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.store.GetAppointmentByID(ctx, id)
}

func (s *Service) emit(ctx context.Context, ev notify.Event) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, ev); err != nil {
		// Notification delivery is owned outside this core; a publish
		// failure never fails the business operation.
		s.log.Warn("emit notification", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func metadata(v map[string]any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
