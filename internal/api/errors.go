package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/etlwatch/ingestd/internal/core"
)

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// WriteError maps a domain error to an HTTP status and JSON error payload.
func WriteError(w http.ResponseWriter, err error) {
	var ie *core.IngestError
	if !errors.As(err, &ie) {
		writeError(w, http.StatusInternalServerError, errorBody{
			Code:    "internal",
			Message: err.Error(),
		})
		return
	}
	writeError(w, statusFor(ie.Code), errorBody{
		Code:      ie.Code,
		Message:   ie.Message,
		Retryable: ie.Retryable,
	})
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	WriteJSON(w, status, map[string]any{"error": body})
}

func statusFor(code string) int {
	switch code {
	case core.ErrCodeConnect, core.ErrCodeTransientIO, core.ErrCodeRefused:
		return http.StatusBadGateway
	case core.ErrCodeJobTimeout:
		return http.StatusGatewayTimeout
	case core.ErrCodeQuarantined:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
