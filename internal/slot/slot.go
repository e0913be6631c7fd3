package slot

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOpen    Status = "open"
	StatusHeld    Status = "held"   // claimed by an appointment awaiting payment
	StatusBooked  Status = "booked" // claimed by a confirmed appointment
	StatusBlocked Status = "blocked"
)

type PaymentMode string

const (
	PaymentModeFree    PaymentMode = "free"
	PaymentModeOnline  PaymentMode = "online"
	PaymentModeOffline PaymentMode = "offline"
)

type Kind string

const (
	KindAppointment Kind = "appointment"
	KindBreak       Kind = "break"
)

// Slot is a bookable doctor time-window. Status tracks what listings should
// show; the appointments table's uniqueness constraint is what actually
// prevents double booking.
type Slot struct {
	ID          uuid.UUID
	ClinicID    uuid.UUID
	DoctorID    uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Price       int64 // minor currency units
	PaymentMode PaymentMode
	Kind        Kind
	Status      Status
	BlockReason string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

func (s *Slot) Deleted() bool {
	return s.DeletedAt != nil
}

// Bookable reports whether the slot can accept a new claim at all. It does
// not check for competing appointments.
func (s *Slot) Bookable() bool {
	return !s.Deleted() && s.Kind == KindAppointment && s.Status != StatusBlocked
}

// Overlaps is the half-open interval test used for the per-doctor
// no-overlap invariant: [aStart, aEnd) intersects [bStart, bEnd).
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// ValidPaymentMode reports whether m is one of the known modes.
func ValidPaymentMode(m PaymentMode) bool {
	switch m {
	case PaymentModeFree, PaymentModeOnline, PaymentModeOffline:
		return true
	}
	return false
}
