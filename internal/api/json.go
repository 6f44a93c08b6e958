package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/HyServers/hyservers-web/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// validationBody flattens ozzo field errors into field -> message.
func validationBody(err error) errResponse {
	body := errResponse{Error: "validation failed"}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		body.Fields = make(map[string]string, len(verrs))
		for field, fe := range verrs {
			body.Fields[field] = fe.Error()
		}
	}
	return body
}

// writeServiceError maps a service error onto a status code. Unclassified
// errors are logged and reported as 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, validationBody(err))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("server not found"))
	case errors.Is(err, apperr.ErrDuplicateKey):
		writeJSON(w, http.StatusConflict, errorBody("a server with this address and port already exists"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("server was modified; reload and retry"))
	case errors.Is(err, apperr.ErrIndexUnavailable):
		logger.Warn(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, errorBody("search service unavailable"))
	default:
		logger.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
