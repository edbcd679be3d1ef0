package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/query"
)

type successBody struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

type pageBody struct {
	Success    bool             `json:"success"`
	Data       any              `json:"data"`
	Pagination query.Pagination `json:"pagination"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func respondSuccess(w http.ResponseWriter, status int, data any, message string) {
	respondJSON(w, status, successBody{Success: true, Data: data, Message: message})
}

func respondPage(w http.ResponseWriter, data any, p query.Pagination) {
	respondJSON(w, http.StatusOK, pageBody{Success: true, Data: data, Pagination: p})
}

func respondError(w http.ResponseWriter, status int, message string, details any) {
	respondJSON(w, status, errorBody{Success: false, Error: message, Details: details})
}

// respondFailure maps a classified error to its status. Unclassified errors
// are logged and reported generically.
func respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := failure.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", string(failure.KindOf(err))),
			zap.Error(err),
		)
	}
	if failure.KindOf(err) == failure.KindUnknown {
		respondError(w, status, "Internal server error", nil)
		return
	}
	respondError(w, status, failure.Message(err), failure.DetailsOf(err))
}
