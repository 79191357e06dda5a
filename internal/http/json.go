package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/idempotency"
)

const maxBodyBytes = 1 << 20

var Validate = validator.New(validator.WithRequiredStructEnabled())

type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Conflicts []domain.Conflict `json:"conflicts,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Mark(errors.Wrap(err, "decode request body"), domain.ErrInvalidInput)
	}
	if err := Validate.Struct(dst); err != nil {
		return errors.Mark(errors.Wrap(err, "validate request body"), domain.ErrInvalidInput)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeDomainError maps an operation error to its HTTP status. Unknown errors are
// logged and reported without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorEnvelope{Error: errorBody{
			Code:      "slot_conflict",
			Message:   "the requested time is not available",
			Conflicts: conflict.Conflicts,
		}})
	case errors.Is(err, domain.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, idempotency.ErrInProgress):
		writeError(w, http.StatusConflict, "request_in_progress", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrInvalidDiscount):
		writeError(w, http.StatusUnprocessableEntity, "invalid_discount", err.Error())
	case errors.Is(err, domain.ErrNoPricingConfigured):
		writeError(w, http.StatusUnprocessableEntity, "no_pricing_configured", err.Error())
	case errors.Is(err, idempotency.ErrKeyMismatch):
		writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", err.Error())
	case errors.Is(err, domain.ErrTransient):
		w.Header().Set("Retry-After", strconv.Itoa(1))
		writeError(w, http.StatusServiceUnavailable, "transient", "the request could not be completed, retry shortly")
	default:
		loggerFrom(r.Context()).WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
