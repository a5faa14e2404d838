package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bnema/clipper/internal/adapter/http/validation"
	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/infrastructure/logger"
)

// maxBodyBytes bounds every JSON request body, clip lists included.
const maxBodyBytes = 4 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Missing int    `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	body := errorResponse{Error: err.Error(), Code: code}

	var incomplete *domain.IncompletePartsError
	if errors.As(err, &incomplete) {
		body.Missing = incomplete.Missing
	}

	if status == http.StatusInternalServerError {
		logger.Error.Printf("%s %s: %v", r.Method, logger.SanitizeForLog(r.URL.Path), err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

// classify maps domain errors to a status and a stable machine-readable code.
// Order matters: a terminal transition is also an invalid transition.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, validation.ErrDisallowedFileType):
		return http.StatusUnsupportedMediaType, "unsupported_media_type"
	case errors.Is(err, domain.ErrIncompleteParts):
		return http.StatusUnprocessableEntity, "incomplete_parts"
	case errors.Is(err, domain.ErrRemoteFetchUnsupported):
		return http.StatusUnprocessableEntity, "remote_fetch_unsupported"
	case errors.Is(err, domain.ErrTerminal):
		return http.StatusConflict, "terminal"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrWrongStatus):
		return http.StatusConflict, "wrong_status"
	case errors.Is(err, domain.ErrSessionNotActive):
		return http.StatusConflict, "session_not_active"
	case errors.Is(err, domain.ErrAlreadyLocked):
		return http.StatusConflict, "already_locked"
	case errors.Is(err, domain.ErrLockMismatch):
		return http.StatusConflict, "lock_mismatch"
	}
	return http.StatusInternalServerError, "internal"
}

// decodeJSON reads an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidInput, err)
}
