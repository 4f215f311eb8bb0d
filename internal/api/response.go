package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Result        string `json:"result"`
	Data          any    `json:"data,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// WriteSuccess writes a 200 reply carrying data.
func WriteSuccess(w http.ResponseWriter, data any) {
	writeResponse(w, http.StatusOK, &Response{Result: "ok", Data: data, CorrelationID: uuid.NewString()})
}

// WriteAccepted writes a 202 reply carrying data.
func WriteAccepted(w http.ResponseWriter, data any) {
	writeResponse(w, http.StatusAccepted, &Response{Result: "ok", Data: data, CorrelationID: uuid.NewString()})
}

// WriteError writes an error reply.
func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	writeResponse(w, status, &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: uuid.NewString(),
	})
}

func writeResponse(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
