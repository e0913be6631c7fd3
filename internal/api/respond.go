package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinicdesk/booking/internal/booking"
	"github.com/clinicdesk/booking/internal/gateway"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps engine errors to HTTP statuses. Policy violations
// are 422 so clients can distinguish "against the rules" from "lost a race".
func writeServiceError(w http.ResponseWriter, err error) {
	var policy *booking.PolicyError
	if errors.As(err, &policy) {
		writeError(w, http.StatusUnprocessableEntity, policy.Rule, policy.Detail)
		return
	}

	switch {
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment_not_found", err.Error())
	case errors.Is(err, booking.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "cancellation_request_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, booking.ErrSlotBusy):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrSlotNotBookable):
		writeError(w, http.StatusConflict, "slot_not_bookable", err.Error())
	case errors.Is(err, booking.ErrSlotOverlap):
		writeError(w, http.StatusConflict, "slot_overlap", err.Error())
	case errors.Is(err, booking.ErrSlotOccupied):
		writeError(w, http.StatusConflict, "slot_occupied", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrDuplicateCancelRequest):
		writeError(w, http.StatusConflict, "cancellation_already_requested", err.Error())
	case errors.Is(err, booking.ErrRequestResolved):
		writeError(w, http.StatusConflict, "request_already_resolved", err.Error())
	case errors.Is(err, booking.ErrRequestStale):
		writeError(w, http.StatusConflict, "request_stale", err.Error())
	case errors.Is(err, booking.ErrStaleConfirmation):
		writeError(w, http.StatusConflict, "stale_confirmation", err.Error())
	case errors.Is(err, booking.ErrSignatureInvalid):
		writeError(w, http.StatusBadRequest, "invalid_signature", err.Error())
	case errors.Is(err, gateway.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "gateway_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
