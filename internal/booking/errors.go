package booking

import (
	"errors"
	"fmt"
)

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrRequestNotFound     = errors.New("cancellation request not found")

	// ErrSlotTaken is the conflict surfaced when a claim loses the race:
	// either the optimistic pre-check found a live appointment, or the
	// committing transaction hit the uniqueness constraint.
	ErrSlotTaken = errors.New("slot already has an active appointment")

	// ErrSlotBusy means the per-slot lock was held by another request.
	ErrSlotBusy = errors.New("slot is currently being booked, please retry")

	ErrSlotNotBookable = errors.New("slot is not bookable")
	ErrSlotOverlap     = errors.New("slot overlaps an existing slot for this doctor")
	ErrSlotOccupied    = errors.New("slot is referenced by an active appointment")

	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSignatureInvalid is security relevant: it is logged and no state
	// is mutated.
	ErrSignatureInvalid = errors.New("payment signature verification failed")

	// ErrStaleConfirmation means the payment arrived after the hold expired
	// and the appointment was already closed out.
	ErrStaleConfirmation = errors.New("payment confirmation is stale")

	ErrDuplicateCancelRequest = errors.New("a cancellation request already exists for this appointment")
	ErrRequestResolved        = errors.New("cancellation request already resolved")

	// ErrRequestStale means the appointment left cancel_requested while the
	// request sat open (staff cancelled it directly), so the request can no
	// longer be resolved.
	ErrRequestStale = errors.New("appointment is no longer awaiting cancellation approval")

	// ErrPolicy is the target for errors.Is on any policy violation.
	ErrPolicy = errors.New("policy violation")
)

// PolicyError names the clinic rule a request violated.
type PolicyError struct {
	Rule   string
	Detail string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", e.Rule, e.Detail)
}

func (e *PolicyError) Is(target error) bool {
	return target == ErrPolicy
}

func policyErr(rule, format string, args ...any) *PolicyError {
	return &PolicyError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}
