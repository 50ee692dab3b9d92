package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
	"github.com/alanyoungcy/crowdsignal/internal/server/middleware"
)

// maxBodyBytes caps request bodies; the largest legitimate body is a
// 200-character question.
const maxBodyBytes = 16 << 10

// writeJSON marshals v and writes it with status. A marshal failure becomes
// a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMarketLocked):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyQuestion),
		errors.Is(err, domain.ErrQuestionTooLong),
		errors.Is(err, domain.ErrInvalidBallot),
		errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrConfirmationRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status, logging server-side
// failures.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, publicMessage(err))
}

// publicMessage returns the sentinel's text rather than the wrapped chain.
func publicMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrNotFound,
		domain.ErrMarketLocked,
		domain.ErrEmptyQuestion,
		domain.ErrQuestionTooLong,
		domain.ErrInvalidBallot,
		domain.ErrInvalidOutcome,
		domain.ErrConfirmationRequired,
		domain.ErrRateLimited,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// parseLimit reads ?limit=, defaulting to def and capping at 500.
func parseLimit(r *http.Request, def int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, 500)
}

// pathParam returns a Go 1.22 route wildcard.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

func userID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
