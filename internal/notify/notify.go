package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	EventCancellation  EventType = "CANCELLATION"
	EventReschedule    EventType = "RESCHEDULE"
	EventCancelRequest EventType = "CANCEL_REQUEST"
	EventConfirmation  EventType = "CONFIRMATION"
)

// Event is the write contract with the notification collaborator. Delivery
// and read-state live outside this core.
type Event struct {
	ClinicID uuid.UUID `json:"clinic_id"`
	Type     EventType `json:"type"`
	EntityID uuid.UUID `json:"entity_id"`
	Message  string    `json:"message"`
	Priority string    `json:"priority,omitempty"`
}

type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// LogEmitter writes events to the process log. Used in dev and as the
// fallback when no broker is configured.
type LogEmitter struct {
	Log *zap.Logger
}

func (e *LogEmitter) Emit(_ context.Context, ev Event) error {
	e.Log.Info("notification",
		zap.String("type", string(ev.Type)),
		zap.String("clinic_id", ev.ClinicID.String()),
		zap.String("entity_id", ev.EntityID.String()),
		zap.String("message", ev.Message),
	)
	return nil
}
