package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/studymate/assessor/internal/assessment"
	"github.com/studymate/assessor/internal/i18n"
	"github.com/studymate/assessor/internal/llm"
	"github.com/studymate/assessor/internal/service"
)

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// classify maps a domain error to an HTTP status and a message id.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, assessment.ErrInvalidInput), errors.Is(err, llm.ErrInvalidRequest):
		return http.StatusBadRequest, "ErrInvalidInput"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "ErrNotFound"
	case errors.Is(err, assessment.ErrInvalidState):
		return http.StatusConflict, "ErrInvalidState"
	case errors.Is(err, llm.ErrGenerationFailed):
		return http.StatusBadGateway, "ErrGenerationFailed"
	case errors.Is(err, service.ErrSourceUnavailable):
		return http.StatusServiceUnavailable, "ErrSourceUnavailable"
	case errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable, "ErrUnavailable"
	}
	return http.StatusInternalServerError, "ErrInternal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID := classify(err)
	writeMessage(w, r, status, msgID, err)
}

// writeMessage writes a localized error. Internal details are logged but
// only client errors echo them back.
func writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID string, err error) {
	resp := errorResponse{Error: i18n.T(r.Context(), msgID), Code: msgID}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "status", status, "error", err)
	} else if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
