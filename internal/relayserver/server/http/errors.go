package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// maxBodyBytes bounds request bodies; results carry page signals, not pages.
const maxBodyBytes = 1 << 20

// statusFor maps the error taxonomy onto HTTP. NotFound is checked first so
// an unknown device at enqueue reports 404.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound, v1.CodeNotFound
	case errors.Is(err, util.ErrValidation):
		return http.StatusBadRequest, v1.CodeValidation
	case errors.Is(err, util.ErrClaimConflict):
		return http.StatusConflict, v1.CodeClaimConflict
	case errors.Is(err, util.ErrInvalidState):
		return http.StatusConflict, v1.CodeInvalidState
	case errors.Is(err, util.ErrUnauthenticated):
		return http.StatusUnauthorized, v1.CodeUnauthenticated
	case errors.Is(err, util.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, v1.CodeUnavailable
	}
	return http.StatusInternalServerError, v1.CodeInternal
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, reason := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error(err, "Request failed", "method", r.Method, "path", r.URL.Path)
		msg = "internal error"
	}
	writeJSON(w, code, v1.ErrorResponse{Code: reason, Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", util.ErrValidation, err)
	}
	return nil
}
