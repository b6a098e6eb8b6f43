package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/cloud"
	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/gateway"
	"github.com/nerrad567/geeny-gateway/internal/thing"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeConflict       = "conflict"
	ErrCodeTimeout        = "timeout"
	ErrCodeUnprocessable  = "unprocessable"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeBadGateway     = "bad_gateway"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// errorStatus maps a gateway error to its HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ble.ErrBusy), errors.Is(err, ble.ErrDisplaced):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, ble.ErrInvalidIdentifier),
		errors.Is(err, device.ErrInvalidInfo):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, cloud.ErrNotNative),
		errors.Is(err, cloud.ErrInvalidThingType):
		return http.StatusUnprocessableEntity, ErrCodeUnprocessable
	case errors.Is(err, cloud.ErrNoCredentials),
		errors.Is(err, cloud.ErrInvalidCredentials),
		errors.Is(err, cloud.ErrUnauthorized),
		errors.Is(err, ble.ErrUnauthorized):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, ble.ErrCancelled),
		errors.Is(err, ble.ErrScanTimeout):
		return http.StatusRequestTimeout, ErrCodeTimeout
	case errors.Is(err, gateway.ErrNotRegistered),
		errors.Is(err, gateway.ErrUnknownThing),
		errors.Is(err, device.ErrNotFound),
		errors.Is(err, thing.ErrUnknownCharacteristic):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, ble.ErrPoweredOff),
		errors.Is(err, ble.ErrUnsupported),
		errors.Is(err, ble.ErrRetryLater),
		errors.Is(err, cloud.ErrCircuitOpen):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, cloud.ErrInvalidRequest),
		errors.Is(err, cloud.ErrInvalidJSON):
		return http.StatusBadGateway, ErrCodeBadGateway
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeGatewayError writes the response for an error returned by the
// gateway. Internal errors are logged and reported without detail.
func (s *Server) writeGatewayError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err, "request_id", requestID(r))
		writeInternalError(w, op+" failed")
		return
	}
	s.logger.Debug(op+" rejected", "status", status, "error", err, "request_id", requestID(r))
	writeError(w, status, code, err.Error())
}
