package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/command"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
)

// APIError is an error with a fixed HTTP status and code.
type APIError struct {
	Code       string
	Message    string
	Details    any
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Transport errors.
var (
	ErrBadRequest  = &APIError{Code: "BAD_REQUEST", Message: "Malformed JSON request", StatusCode: http.StatusBadRequest}
	ErrUnavailable = &APIError{Code: "UNAVAILABLE", Message: "Acquisition is not running", StatusCode: http.StatusServiceUnavailable}
)

// ToAPIError maps err to a status and envelope fields.
func ToAPIError(err error) (status int, code, message string) {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.StatusCode, apiErr.Code, apiErr.Message
	case errors.Is(err, command.ErrUnknownParameter):
		return http.StatusBadRequest, "UNKNOWN_PARAMETER", err.Error()
	case errors.Is(err, command.ErrInvalidParameter), errors.Is(err, driver.ErrInvalidValue):
		return http.StatusBadRequest, "INVALID_VALUE", err.Error()
	case errors.Is(err, command.ErrNotObject):
		return http.StatusBadRequest, "BAD_REQUEST", err.Error()
	case errors.Is(err, driver.ErrBusy):
		return http.StatusServiceUnavailable, "BUSY", "Instrument is busy, retry with backoff"
	case errors.Is(err, driver.ErrUnavailable):
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Instrument is unavailable"
	case errors.Is(err, driver.ErrTimeout):
		return http.StatusGatewayTimeout, "TIMEOUT", "Instrument did not respond in time"
	default:
		return http.StatusInternalServerError, "INTERNAL", "Internal server error"
	}
}

// writeErr writes err as an error reply.
func writeErr(w http.ResponseWriter, err error) {
	status, code, message := ToAPIError(err)
	WriteError(w, status, code, message, nil)
}
