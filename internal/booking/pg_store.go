package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/booking/internal/slot"
)

const activeStatuses = `('pending', 'pending_payment', 'confirmed', 'cancel_requested')`

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, q: pool}
}

func (s *PgStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txStore := &PgStore{pool: s.pool, q: tx, inTx: true}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Scan helpers

func scanSlot(row pgx.Row) (*slot.Slot, error) {
	var s slot.Slot
	err := row.Scan(
		&s.ID,
		&s.ClinicID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Price,
		&s.PaymentMode,
		&s.Kind,
		&s.Status,
		&s.BlockReason,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.DoctorID,
		&a.ClinicID,
		&a.SlotID,
		&a.Status,
		&a.PaymentStatus,
		&a.FinancialStatus,
		&a.Amount,
		&a.DiffAmount,
		&a.RescheduleCount,
		&a.CancelReason,
		&a.CancelledBy,
		&a.HoldExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.Provider,
		&p.OrderRef,
		&p.GatewayRef,
		&p.Amount,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanCancellationRequest(row pgx.Row) (*CancellationRequest, error) {
	var r CancellationRequest
	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.Status,
		&r.Reason,
		&r.PriorStatus,
		&r.ProcessedBy,
		&r.ProcessedAt,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &r, nil
}

// Slots

func (s *PgStore) CreateSlot(ctx context.Context, sl *slot.Slot) error {
	var overlaps bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM slots
			WHERE doctor_id = $1
			  AND deleted_at IS NULL
			  AND start_time < $3
			  AND end_time > $2
		)
	`, sl.DoctorID, sl.StartTime, sl.EndTime).Scan(&overlaps)
	if err != nil {
		return fmt.Errorf("check slot overlap: %w", err)
	}
	if overlaps {
		return ErrSlotOverlap
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO slots (id, clinic_id, doctor_id, start_time, end_time, price, payment_mode, kind, status, block_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING created_at, updated_at
	`, sl.ID, sl.ClinicID, sl.DoctorID, sl.StartTime, sl.EndTime, sl.Price, sl.PaymentMode, sl.Kind, sl.Status, sl.BlockReason)

	if err := row.Scan(&sl.CreatedAt, &sl.UpdatedAt); err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (s *PgStore) GetSlotByID(ctx context.Context, id uuid.UUID) (*slot.Slot, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, clinic_id, doctor_id, start_time, end_time, price, payment_mode, kind, status, block_reason, created_at, updated_at, deleted_at
		FROM slots
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanSlot(row)
}

func (s *PgStore) FindAvailableSlots(ctx context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]slot.Slot, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, clinic_id, doctor_id, start_time, end_time, price, payment_mode, kind, status, block_reason, created_at, updated_at, deleted_at
		FROM slots
		WHERE clinic_id = $1
		  AND ($2 = '00000000-0000-0000-0000-000000000000'::uuid OR doctor_id = $2)
		  AND deleted_at IS NULL
		  AND kind = 'appointment'
		  AND status = 'open'
		  AND start_time >= $3
		  AND start_time < $4
		ORDER BY start_time
	`, clinicID, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("find available slots: %w", err)
	}
	defer rows.Close()

	var result []slot.Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sl)
	}
	return result, rows.Err()
}

func (s *PgStore) UpdateSlotStatus(ctx context.Context, id uuid.UUID, status slot.Status) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE slots SET status = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, status)
	if err != nil {
		return fmt.Errorf("update slot status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (s *PgStore) BlockSlot(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE slots SET status = 'blocked', block_reason = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, reason)
	if err != nil {
		return fmt.Errorf("block slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (s *PgStore) UnblockSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE slots SET status = 'open', block_reason = '', updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("unblock slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (s *PgStore) SoftDeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE slots SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("soft delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// Appointments

const appointmentColumns = `id, user_id, doctor_id, clinic_id, slot_id, status, payment_status, financial_status, amount, diff_amount, reschedule_count, cancel_reason, cancelled_by, hold_expires_at, created_at, updated_at, deleted_at`

func (s *PgStore) CreateAppointment(ctx context.Context, a *Appointment) error {
	row := s.q.QueryRow(ctx, `
		INSERT INTO appointments (id, user_id, doctor_id, clinic_id, slot_id, status, payment_status, financial_status, amount, diff_amount, reschedule_count, cancel_reason, cancelled_by, hold_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.UserID, a.DoctorID, a.ClinicID, a.SlotID, a.Status, a.PaymentStatus, a.FinancialStatus, a.Amount, a.DiffAmount, a.RescheduleCount, a.CancelReason, a.CancelledBy, a.HoldExpiresAt)

	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		if isUniqueViolation(err, "uniq_slot_active_appointment") {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (s *PgStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) GetActiveAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1 AND status IN `+activeStatuses+`
	`, slotID)
	return scanAppointment(row)
}

func (s *PgStore) UpdateAppointment(ctx context.Context, a *Appointment) error {
	row := s.q.QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    status = $3,
		    payment_status = $4,
		    financial_status = $5,
		    amount = $6,
		    diff_amount = $7,
		    reschedule_count = $8,
		    cancel_reason = $9,
		    cancelled_by = $10,
		    hold_expires_at = $11,
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at
	`, a.ID, a.SlotID, a.Status, a.PaymentStatus, a.FinancialStatus, a.Amount, a.DiffAmount, a.RescheduleCount, a.CancelReason, a.CancelledBy, a.HoldExpiresAt)

	if err := row.Scan(&a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAppointmentNotFound
		}
		if isUniqueViolation(err, "uniq_slot_active_appointment") {
			return ErrSlotTaken
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (s *PgStore) FindExpiredHolds(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending_payment'
		  AND hold_expires_at IS NOT NULL
		  AND hold_expires_at < $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("find expired holds: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// Payments

func (s *PgStore) UpsertPayment(ctx context.Context, p *Payment) error {
	row := s.q.QueryRow(ctx, `
		INSERT INTO payments (id, appointment_id, provider, order_ref, gateway_ref, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (appointment_id) DO UPDATE
		SET provider = EXCLUDED.provider,
		    order_ref = EXCLUDED.order_ref,
		    gateway_ref = EXCLUDED.gateway_ref,
		    amount = EXCLUDED.amount,
		    status = EXCLUDED.status,
		    updated_at = now()
		RETURNING id, created_at, updated_at
	`, p.ID, p.AppointmentID, p.Provider, p.OrderRef, p.GatewayRef, p.Amount, p.Status)

	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}
	return nil
}

func (s *PgStore) GetPaymentByOrderRef(ctx context.Context, orderRef string) (*Payment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, appointment_id, provider, order_ref, gateway_ref, amount, status, created_at, updated_at
		FROM payments
		WHERE order_ref = $1
	`, orderRef)
	return scanPayment(row)
}

func (s *PgStore) GetPaymentByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, appointment_id, provider, order_ref, gateway_ref, amount, status, created_at, updated_at
		FROM payments
		WHERE appointment_id = $1
	`, appointmentID)
	return scanPayment(row)
}

// Cancellation requests

func (s *PgStore) CreateCancellationRequest(ctx context.Context, r *CancellationRequest) error {
	row := s.q.QueryRow(ctx, `
		INSERT INTO cancellation_requests (id, appointment_id, status, reason, prior_status, processed_by, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING created_at
	`, r.ID, r.AppointmentID, r.Status, r.Reason, r.PriorStatus, r.ProcessedBy, r.ProcessedAt)

	if err := row.Scan(&r.CreatedAt); err != nil {
		return fmt.Errorf("insert cancellation request: %w", err)
	}
	return nil
}

func (s *PgStore) GetCancellationRequestByID(ctx context.Context, id uuid.UUID) (*CancellationRequest, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, appointment_id, status, reason, prior_status, processed_by, processed_at, created_at
		FROM cancellation_requests
		WHERE id = $1
	`, id)
	return scanCancellationRequest(row)
}

func (s *PgStore) GetOpenCancellationRequestForAppointment(ctx context.Context, appointmentID uuid.UUID) (*CancellationRequest, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, appointment_id, status, reason, prior_status, processed_by, processed_at, created_at
		FROM cancellation_requests
		WHERE appointment_id = $1 AND status IN ('pending', 'approved')
		ORDER BY created_at DESC
		LIMIT 1
	`, appointmentID)
	return scanCancellationRequest(row)
}

func (s *PgStore) UpdateCancellationRequest(ctx context.Context, r *CancellationRequest) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE cancellation_requests
		SET status = $2, reason = $3, processed_by = $4, processed_at = $5
		WHERE id = $1
	`, r.ID, r.Status, r.Reason, r.ProcessedBy, r.ProcessedAt)
	if err != nil {
		return fmt.Errorf("update cancellation request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// History

func (s *PgStore) AppendLog(ctx context.Context, l *AppointmentLog) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO appointment_logs (appointment_id, action, old_start, new_start, actor, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, l.AppointmentID, l.Action, l.OldStart, l.NewStart, l.Actor, l.Reason, l.Metadata)
	if err != nil {
		return fmt.Errorf("insert appointment log: %w", err)
	}
	return nil
}
