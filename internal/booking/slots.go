package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking/internal/slot"
)

type CreateSlotParams struct {
	ClinicID    uuid.UUID
	DoctorID    uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Price       int64
	PaymentMode slot.PaymentMode
	Kind        slot.Kind
}

// CreateSlot registers a single bookable window. The store rejects windows
// overlapping an existing non-deleted slot for the same doctor.
func (s *Service) CreateSlot(ctx context.Context, p CreateSlotParams) (*slot.Slot, error) {
	if !p.StartTime.Before(p.EndTime) {
		return nil, policyErr("slot_window", "slot start must be before its end")
	}
	if !slot.ValidPaymentMode(p.PaymentMode) {
		return nil, policyErr("payment_mode", "unknown payment mode %q", p.PaymentMode)
	}
	kind := p.Kind
	if kind == "" {
		kind = slot.KindAppointment
	}

	sl := &slot.Slot{
		ID:          uuid.New(),
		ClinicID:    p.ClinicID,
		DoctorID:    p.DoctorID,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		Price:       p.Price,
		PaymentMode: p.PaymentMode,
		Kind:        kind,
		Status:      slot.StatusOpen,
	}
	if err := s.store.CreateSlot(ctx, sl); err != nil {
		return nil, err
	}
	return sl, nil
}

type BulkSlotParams struct {
	ClinicID    uuid.UUID
	DoctorID    uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
	Duration    time.Duration
	Price       int64
	PaymentMode slot.PaymentMode
}

// BulkGenerateSlots carves a staff-defined window into consecutive slots.
// Windows colliding with existing slots are skipped rather than failing the
// whole batch.
func (s *Service) BulkGenerateSlots(ctx context.Context, p BulkSlotParams) ([]slot.Slot, error) {
	if p.Duration <= 0 {
		return nil, policyErr("slot_duration", "slot duration must be positive")
	}
	if !p.WindowStart.Before(p.WindowEnd) {
		return nil, policyErr("slot_window", "window start must be before its end")
	}
	if !slot.ValidPaymentMode(p.PaymentMode) {
		return nil, policyErr("payment_mode", "unknown payment mode %q", p.PaymentMode)
	}

	var created []slot.Slot
	err := s.store.InTx(ctx, func(tx Store) error {
		for start := p.WindowStart; !start.Add(p.Duration).After(p.WindowEnd); start = start.Add(p.Duration) {
			sl := &slot.Slot{
				ID:          uuid.New(),
				ClinicID:    p.ClinicID,
				DoctorID:    p.DoctorID,
				StartTime:   start,
				EndTime:     start.Add(p.Duration),
				Price:       p.Price,
				PaymentMode: p.PaymentMode,
				Kind:        slot.KindAppointment,
				Status:      slot.StatusOpen,
			}
			err := tx.CreateSlot(ctx, sl)
			if errors.Is(err, ErrSlotOverlap) {
				continue
			}
			if err != nil {
				return err
			}
			created = append(created, *sl)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("bulk slots generated",
		zap.String("doctor_id", p.DoctorID.String()),
		zap.Int("created", len(created)),
	)
	return created, nil
}

// FindAvailableSlots lists open appointment slots in a window. A zero
// doctor id matches all doctors at the clinic.
func (s *Service) FindAvailableSlots(ctx context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]slot.Slot, error) {
	return s.store.FindAvailableSlots(ctx, clinicID, doctorID, from, to)
}

// BlockSlot takes a slot out of circulation for administrative reasons. It
// refuses while an active appointment references the slot unless force is
// set.
func (s *Service) BlockSlot(ctx context.Context, id uuid.UUID, reason string, force bool) error {
	if _, err := s.store.GetSlotByID(ctx, id); err != nil {
		return err
	}

	if !force {
		holder, err := s.store.GetActiveAppointmentForSlot(ctx, id)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check active appointment: %w", err)
		}
		if holder != nil {
			return ErrSlotOccupied
		}
	}

	return s.store.BlockSlot(ctx, id, reason)
}

func (s *Service) UnblockSlot(ctx context.Context, id uuid.UUID) error {
	return s.store.UnblockSlot(ctx, id)
}

// DeleteSlot soft-deletes a slot. Slots referenced by an active appointment
// cannot be removed.
func (s *Service) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	holder, err := s.store.GetActiveAppointmentForSlot(ctx, id)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return fmt.Errorf("check active appointment: %w", err)
	}
	if holder != nil {
		return ErrSlotOccupied
	}
	return s.store.SoftDeleteSlot(ctx, id)
}
