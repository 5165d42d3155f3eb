package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is:
//   - Logged with full technical details and the request ID (server-side)
//   - Returned as a coded, user-friendly JSON body with an action suggestion
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. statusFor picks the HTTP status from the error's type
//  4. core.MapError supplies the user message and code
//  5. Typed details (field, hint, serials) are attached for the client

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kamal2602/thinkhub-sub001/internal/core"
	"github.com/kamal2602/thinkhub-sub001/internal/logging"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Action  string   `json:"action,omitempty"`
	Code    string   `json:"code"`
	Field   string   `json:"field,omitempty"`
	Hint    string   `json:"hint,omitempty"`
	Serials []string `json:"serials,omitempty"`
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	var (
		parseErr    *core.ParseError
		validation  core.ValidationError
		conflictErr core.ConflictError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &conflictErr), errors.Is(err, store.ErrConflict), errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyCommits):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the coded JSON error body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	s.respondErrorStatus(w, r, err, statusFor(err))
}

// respondErrorStatus is respondError with an explicit status, for request
// problems the core never sees (bad JSON, bad ids).
func (s *Server) respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error", args...)
	} else {
		logger.Warn("request error", args...)
	}

	resp := ErrorResponse{
		Error:   err.Error(),
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		// Technical details stay in the log; the request id ties them together.
		resp.Error = "internal error (request " + middleware.GetReqID(r.Context()) + ")"
	}

	var (
		validation  core.ValidationError
		conflictErr core.ConflictError
	)
	if errors.As(err, &validation) {
		resp.Field = validation.Field
		resp.Hint = validation.Hint
	}
	if errors.As(err, &conflictErr) {
		resp.Serials = conflictErr.Serials
	}

	writeJSONStatus(w, statusCode, resp)
}
