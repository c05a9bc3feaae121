package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/fjod/atomic-storefront/internal/checkout"
	"github.com/fjod/atomic-storefront/internal/kvstore"
	"github.com/fjod/atomic-storefront/internal/orders"
	"github.com/fjod/atomic-storefront/internal/remote"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Warn("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps domain and transport errors onto HTTP answers.
// Unexpected errors are logged and reported without their cause.
func handleServiceError(ctx context.Context, log *logrus.Entry, w http.ResponseWriter, err error) {
	var verrs checkout.ValidationErrors
	if errors.As(err, &verrs) {
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation failed",
			Code:    "validation_failed",
			Details: verrs,
		})
		return
	}

	var status int
	var code string

	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		status, code = http.StatusConflict, "empty_cart"
	case errors.Is(err, orders.ErrCartChanged):
		status, code = http.StatusConflict, "cart_changed"
	case errors.Is(err, checkout.ErrNotInReview):
		status, code = http.StatusConflict, "not_in_review"
	case errors.Is(err, checkout.ErrAlreadyPlaced):
		status, code = http.StatusConflict, "already_placed"
	case errors.Is(err, checkout.ErrPaymentDeclined):
		status, code = http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, remote.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, remote.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, remote.ErrUnavailable), errors.Is(err, kvstore.ErrClosed):
		status, code = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, checkout.ErrOrderFailed):
		status, code = http.StatusInternalServerError, "order_failed"
	default:
		status, code = http.StatusInternalServerError, "internal_error"
	}

	message := err.Error()
	if code == "internal_error" {
		message = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(ctx, log).
			WithError(err).
			WithField("request_id", getRequestID(ctx)).
			Error("request failed")
	}
	respondError(w, status, code, message)
}
