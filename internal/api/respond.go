package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"meal-plan-service/internal/app"
	"meal-plan-service/internal/auth"
	"meal-plan-service/internal/llm"
	"meal-plan-service/internal/logging"
	"meal-plan-service/internal/mealplan"
	"meal-plan-service/internal/planner"
	"meal-plan-service/internal/storage"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Detail string            `json:"detail"`
	Errors map[string]string `json:"errors,omitempty"`
}

var errInvalidJSON = errors.New("invalid JSON body")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// writeError maps err to a status code and a client-safe message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *mealplan.ValidationError
	resp := ErrorResponse{}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
		resp.Detail = "Validation failed"
		resp.Errors = verr.Fields
	case errors.Is(err, errInvalidJSON):
		status = http.StatusBadRequest
		resp.Detail = "Invalid JSON body"
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
		resp.Detail = "Meal plan not found"
	case errors.Is(err, llm.ErrUnavailable):
		status = http.StatusServiceUnavailable
		resp.Detail = "Meal plan generator temporarily unavailable"
	case errors.Is(err, planner.ErrInvalidPlan):
		status = http.StatusBadGateway
		resp.Detail = "The model returned an invalid meal plan"
	case errors.Is(err, planner.ErrGeneration):
		status = http.StatusBadGateway
		resp.Detail = "Meal plan generation failed"
	case errors.Is(err, app.ErrImportFailed):
		status = http.StatusBadGateway
		resp.Detail = "Recipe import failed"
	case errors.Is(err, app.ErrImportDisabled):
		status = http.StatusNotImplemented
		resp.Detail = "Recipe import is not configured"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		resp.Detail = "Request timed out"
	default:
		resp.Detail = "Internal server error"
	}

	event := logging.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		event = logging.Ctx(r.Context()).Error()
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		event = event.Str("subject", claims.Subject)
	}
	event.Err(err).Int("status", status).Str("path", r.URL.Path).Msg("Request failed")

	writeJSON(w, status, resp)
}

// decodeJSON reads a JSON body of at most maxBodyBytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errInvalidJSON
		}
		return errors.Join(errInvalidJSON, err)
	}
	return nil
}
