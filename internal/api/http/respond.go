package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/gorilla/mux"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error                 string  `json:"error"`
	Message               string  `json:"message,omitempty"`
	EstimatedAvailability *string `json:"estimated_availability,omitempty"`
	Retryable             bool    `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// guardStatus maps a rule failure to its HTTP status. Malformed input is
// 422, authorization failures are 403, state conflicts are 409.
func guardStatus(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidArgument, domain.CodeMissingReason:
		return http.StatusUnprocessableEntity
	case domain.CodeForbidden, domain.CodeNotOwner:
		return http.StatusForbidden
	default:
		return http.StatusConflict
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var gv *domain.GuardViolation
	switch {
	case errors.As(err, &gv):
		body := errorBody{Error: string(gv.Code), Message: gv.Reason}
		if gv.EstimatedAvailability != nil {
			est := utils.FormatDate(*gv.EstimatedAvailability)
			body.EstimatedAvailability = &est
		}
		writeJSON(w, guardStatus(gv.Code), body)
	case errors.Is(err, domain.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrConsistency):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusConflict, errorBody{Error: "CONSISTENCY_VIOLATION", Message: "concurrent update, retry the request", Retryable: true})
	default:
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "request_id", requestID(r.Context()), "error", err)
		writeErrorBody(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.NewInvalidArgument("malformed request body: " + err.Error())
	}
	return nil
}

func pathID(r *http.Request) (int32, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 32)
	if err != nil || id <= 0 {
		return 0, domain.NewInvalidArgument("invalid id")
	}
	return int32(id), nil
}

func queryInt32(r *http.Request, name string) (int32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, domain.NewInvalidArgument("invalid " + name)
	}
	return int32(v), nil
}

func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, domain.NewInvalidArgument(field + " is required")
	}
	t, err := utils.ParseDate(raw)
	if err != nil {
		return time.Time{}, domain.NewInvalidArgument(field + ": " + err.Error())
	}
	return t, nil
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := utils.FormatDate(*t)
	return &s
}

type page[T any] struct {
	Items []T   `json:"items"`
	Total int32 `json:"total"`
}
