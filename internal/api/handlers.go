package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking-engine/internal/booking"
)

// statusClientClosedRequest is nginx's code for a client that disconnected
// before the response was written.
const statusClientClosedRequest = 499

// BookingService is the slice of booking.Service the HTTP layer needs.
type BookingService interface {
	Reserve(ctx context.Context, slotID uuid.UUID, holderID string, hold time.Duration) (*booking.Hold, error)
	ReserveByKey(ctx context.Context, key booking.SlotKey, holderID string, hold time.Duration) (*booking.Hold, error)
	Confirm(ctx context.Context, slotID uuid.UUID, holderID string) (*booking.Slot, error)
	Release(ctx context.Context, slotID uuid.UUID, holderID string) error
	CancelBooking(ctx context.Context, slotID uuid.UUID) error
	QueryAvailable(ctx context.Context, providerID string, r booking.DateRange) (iter.Seq[booking.Slot], error)
	CreateSlot(ctx context.Context, in booking.NewSlotInput) (*booking.Slot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*booking.Slot, error)
	DeleteSlot(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID) (*booking.Slot, error)
	Withdraw(ctx context.Context, id uuid.UUID) (*booking.Slot, error)
	DefaultHoldDuration() time.Duration
}

type Handlers struct {
	svc BookingService
	log *zap.Logger
}

func NewHandlers(svc BookingService, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{svc: svc, log: log}
}

func (h *Handlers) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	hold := h.svc.DefaultHoldDuration()
	if req.HoldDurationSeconds != nil {
		d, err := holdFromSeconds(*req.HoldDurationSeconds)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		hold = d
	}

	var (
		res *booking.Hold
		err error
	)
	if req.SlotID != "" {
		slotID, ok := parseSlotID(w, req.SlotID)
		if !ok {
			return
		}
		res, err = h.svc.Reserve(r.Context(), slotID, req.HolderID, hold)
	} else {
		key, kerr := booking.NewSlotKey(req.ProviderID, req.Date, req.StartTime, req.EndTime)
		if kerr != nil {
			h.handleError(w, r, kerr)
			return
		}
		res, err = h.svc.ReserveByKey(r.Context(), key, req.HolderID, hold)
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ReserveResponse{
		ReservationID: res.ID,
		SlotID:        res.SlotID,
		ExpiresAt:     res.ExpiresAt,
	})
}

func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	var req HolderRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	slotID, ok := parseSlotID(w, req.SlotID)
	if !ok {
		return
	}

	slot, err := h.svc.Confirm(r.Context(), slotID, req.HolderID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ConfirmResponse{
		SlotID:      slot.ID,
		Status:      string(slot.Status),
		BookedCount: slot.BookedCount,
	})
}

func (h *Handlers) Release(w http.ResponseWriter, r *http.Request) {
	var req HolderRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	slotID, ok := parseSlotID(w, req.SlotID)
	if !ok {
		return
	}

	if err := h.svc.Release(r.Context(), slotID, req.HolderID); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req CancelBookingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	slotID, ok := parseSlotID(w, req.SlotID)
	if !ok {
		return
	}

	if err := h.svc.CancelBooking(r.Context(), slotID); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerID := q.Get("providerId")
	if providerID == "" {
		writeError(w, http.StatusBadRequest, "missing_provider_id", "providerId query parameter is required")
		return
	}

	from, err := booking.ParseDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
		return
	}
	to, err := booking.ParseDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD")
		return
	}

	slots, err := h.svc.QueryAvailable(r.Context(), providerID, booking.DateRange{From: from, To: to})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := make([]AvailableSlotResponse, 0)
	for s := range slots {
		resp = append(resp, AvailableSlotResponse{
			SlotID:            s.ID,
			Date:              s.Date.Format(booking.DateLayout),
			StartTime:         s.StartTime.Format(booking.TimeLayout),
			EndTime:           s.EndTime.Format(booking.TimeLayout),
			AvailableCapacity: s.RemainingCapacity(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	key, err := booking.NewSlotKey(req.ProviderID, req.Date, req.StartTime, req.EndTime)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	slot, err := h.svc.CreateSlot(r.Context(), booking.NewSlotInput{
		ProviderID:  key.ProviderID,
		Date:        key.Date,
		StartTime:   key.StartTime,
		EndTime:     key.EndTime,
		MaxCapacity: req.MaxCapacity,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
}

func (h *Handlers) GetSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := slotIDParam(w, r)
	if !ok {
		return
	}
	slot, err := h.svc.GetSlot(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponse(*slot))
}

func (h *Handlers) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := slotIDParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteSlot(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := slotIDParam(w, r)
	if !ok {
		return
	}
	slot, err := h.svc.Complete(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponse(*slot))
}

func (h *Handlers) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := slotIDParam(w, r)
	if !ok {
		return
	}
	slot, err := h.svc.Withdraw(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponse(*slot))
}

// holdFromSeconds converts a client hold length, refusing values that would
// overflow time.Duration.
func holdFromSeconds(secs int) (time.Duration, error) {
	const maxSeconds = math.MaxInt64 / int64(time.Second)
	switch {
	case int64(secs) > maxSeconds:
		return 0, booking.ErrHoldTooLong
	case int64(secs) <= 0:
		return 0, booking.ErrInvalidHold
	}
	return time.Duration(secs) * time.Second, nil
}

func parseSlotID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotId must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func slotIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func toSlotResponse(s booking.Slot) SlotResponse {
	resp := SlotResponse{
		ID:          s.ID,
		ProviderID:  s.ProviderID,
		Date:        s.Date.Format(booking.DateLayout),
		StartTime:   s.StartTime.Format(booking.TimeLayout),
		EndTime:     s.EndTime.Format(booking.TimeLayout),
		MaxCapacity: s.MaxCapacity,
		BookedCount: s.BookedCount,
		Status:      string(s.Status),
		Version:     s.Version,
		UpdatedAt:   s.UpdatedAt,
	}
	if res := s.Reservation; res != nil {
		resp.Reservation = &ReservationResponse{
			ReservationID: res.ID,
			HolderID:      res.HolderID,
			ReservedAt:    res.ReservedAt,
			ExpiresAt:     res.ExpiresAt,
		}
	}
	return resp
}

// decodeAndValidate writes a 400 and returns false when the body is unusable.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := validateStruct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func (h *Handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrExpired):
		writeError(w, http.StatusGone, "expired", err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, booking.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, booking.ErrInvalidArgument):
		writeError(w, http.StatusUnprocessableEntity, "invalid_argument", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	case errors.Is(err, context.Canceled):
		h.log.Debug("client went away",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
		)
		writeError(w, statusClientClosedRequest, "client_closed_request", "request cancelled")
	default:
		h.log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
