package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/bookstore/library/internal/apperr"
)

const maxBodyBytes = 1 << 20

// envelope is the body of every API response
type envelope struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Data    interface{}   `json:"data,omitempty"`
	Error   *apperr.Error `json:"error,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidInput("INVALID_JSON", "request body is empty")
		}
		return apperr.InvalidInput("INVALID_JSON", "Bad JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// writeError renders err with the status its kind maps to
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	appErr := apperr.From(err)
	writeErrorStatus(w, log, appErr.HTTPStatus(), appErr)
}

// writeErrorStatus renders err with an explicit status
func writeErrorStatus(w http.ResponseWriter, log *zap.Logger, status int, err error) {
	appErr := apperr.From(err)
	if appErr.Kind == apperr.KindInternal {
		log.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, envelope{Success: false, Error: appErr})
}
