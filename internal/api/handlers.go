package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clinicdesk/booking/internal/booking"
	"github.com/clinicdesk/booking/internal/slot"
)

var validate = validator.New()

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if !decode(w, r, &req) {
			return
		}

		sl, err := svc.CreateSlot(r.Context(), booking.CreateSlotParams{
			ClinicID:    uuid.MustParse(req.ClinicID),
			DoctorID:    uuid.MustParse(req.DoctorID),
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Price:       req.Price,
			PaymentMode: slot.PaymentMode(req.PaymentMode),
			Kind:        slot.Kind(req.Kind),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(sl))
	}
}

func bulkSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BulkSlotRequest
		if !decode(w, r, &req) {
			return
		}

		created, err := svc.BulkGenerateSlots(r.Context(), booking.BulkSlotParams{
			ClinicID:    uuid.MustParse(req.ClinicID),
			DoctorID:    uuid.MustParse(req.DoctorID),
			WindowStart: req.WindowStart,
			WindowEnd:   req.WindowEnd,
			Duration:    time.Duration(req.DurationMinutes) * time.Minute,
			Price:       req.Price,
			PaymentMode: slot.PaymentMode(req.PaymentMode),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(created))
		for i := range created {
			resp = append(resp, toSlotResponse(&created[i]))
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func listSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := uuid.Parse(r.URL.Query().Get("clinic_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}

		// doctor_id is optional; absent means all doctors at the clinic.
		doctorID := uuid.Nil
		if v := r.URL.Query().Get("doctor_id"); v != "" {
			doctorID, err = uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
		}

		from := time.Now()
		if v := r.URL.Query().Get("from"); v != "" {
			from, err = time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
				return
			}
		}
		to := from.Add(7 * 24 * time.Hour)
		if v := r.URL.Query().Get("to"); v != "" {
			to, err = time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
				return
			}
		}

		slots, err := svc.FindAvailableSlots(r.Context(), clinicID, doctorID, from, to)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func blockSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req BlockSlotRequest
		if !decode(w, r, &req) {
			return
		}

		if err := svc.BlockSlot(r.Context(), id, req.Reason, req.Force); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func unblockSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		if err := svc.UnblockSlot(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		if err := svc.DeleteSlot(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func bookAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		res, err := svc.Book(r.Context(), booking.BookParams{
			UserID: uuid.MustParse(req.UserID),
			SlotID: uuid.MustParse(req.SlotID),
			Caps:   booking.Capabilities{OnlinePayment: req.OnlinePaymentEnabled},
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(res.Appointment, res.OrderRef))
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, ""))
	}
}

func rescheduleHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decode(w, r, &req) {
			return
		}

		res, err := svc.Reschedule(r.Context(), booking.RescheduleParams{
			AppointmentID: id,
			TargetSlotID:  uuid.MustParse(req.TargetSlotID),
			Actor:         req.Actor,
			Reason:        req.Reason,
			Caps:          booking.Capabilities{OnlinePayment: req.OnlinePaymentEnabled},
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(res.Appointment, res.OrderRef))
	}
}

func updateStatusHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req UpdateStatusRequest
		if !decode(w, r, &req) {
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), id, booking.Status(req.Status), req.Actor, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, ""))
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req CancelAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		out, err := svc.RequestCancellation(r.Context(), id, req.Actor, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := CancellationOutcomeResponse{
			Appointment: toAppointmentResponse(out.Appointment, ""),
			Cancelled:   out.Cancelled,
		}
		if out.Request != nil {
			rr := toCancellationRequestResponse(out.Request)
			resp.Request = &rr
		}

		// An accepted-but-not-yet-decided cancellation is 202.
		status := http.StatusOK
		if !out.Cancelled {
			status = http.StatusAccepted
		}
		writeJSON(w, status, resp)
	}
}

func confirmPaymentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConfirmPaymentRequest
		if !decode(w, r, &req) {
			return
		}

		appt, err := svc.ConfirmPayment(r.Context(), req.OrderRef, req.PaymentRef, req.Signature)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, ""))
	}
}

func resolveCancellationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ResolveCancellationRequest
		if !decode(w, r, &req) {
			return
		}

		res, err := svc.ResolveCancellation(r.Context(), id, req.Approve, uuid.MustParse(req.StaffID), req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCancellationRequestResponse(res))
	}
}
