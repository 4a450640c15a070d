package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// decode fills dst from the request body. An empty body is fine; methods
// without parameters take `{}` or nothing at all.
func decode(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return domain.WrapPaymentError(domain.ErrorCodeInvalidRequest,
		"Request body is not valid JSON", err)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", ports.Err(err))
	}
}

// respondError maps a service error onto the wire. Taxonomy errors keep
// their code and message; anything else is logged and hidden behind a
// generic 500 so internals never leak to merchants.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var perr *domain.PaymentError
	if errors.As(err, &perr) {
		h.respondJSON(w, domain.HTTPStatusOf(err), errorEnvelope{
			Error: errorBody{Code: perr.Code, Message: perr.Message},
		})
		return
	}

	h.logger.Error("Request failed", ports.Err(err))
	h.respondJSON(w, http.StatusInternalServerError, errorEnvelope{
		Error: errorBody{
			Code:    domain.ErrorCodeInternalError,
			Message: "An internal error occurred",
		},
	})
}
