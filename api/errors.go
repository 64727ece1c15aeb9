package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/log"
)

// Error is the numeric-coded response shape the admin handlers write for
// request-level failures (malformed body or parameter, missing
// Authorization header, server-side marshaling); see errors_definition.go
// for the registry and its code-allocation rules.
type Error struct {
	Code       int
	HTTPstatus int
	Err        error
}

func (e Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("error %d", e.Code)
}

// Withf returns a copy of e with Err replaced by a formatted error.
func (e Error) Withf(format string, args ...any) Error {
	e.Err = fmt.Errorf(format, args...)
	return e
}

// WithErr returns a copy of e wrapping err as additional context.
func (e Error) WithErr(err error) Error {
	if err != nil {
		e.Err = fmt.Errorf("%s: %w", e.Err, err)
	}
	return e
}

// Write serializes e as the JSON error body and sets the HTTP status.
func (e Error) Write(w http.ResponseWriter) {
	if e.HTTPstatus == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPstatus)
	body, _ := json.Marshal(map[string]any{"code": e.Code, "message": e.Error()})
	if _, err := w.Write(body); err != nil {
		log.Warnw("failed to write error response", "error", err)
	}
}

// appErrorBody is the wire shape for apperrors.Error responses: a stable
// kebab-cased code and a human message (§7).
type appErrorBody struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// httpStatusForKind maps an apperrors.Kind to an HTTP status: auth → 401,
// protocol/stream/crypto/storage → 400, payment → 402, transport → 503,
// fatal and any unrecognized kind → 500.
func httpStatusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindAuth:
		return http.StatusUnauthorized
	case apperrors.KindProtocol, apperrors.KindStream, apperrors.KindCrypto:
		return http.StatusBadRequest
	case apperrors.KindPayment:
		return http.StatusPaymentRequired
	case apperrors.KindStorage:
		return http.StatusBadRequest
	case apperrors.KindTransport:
		return http.StatusServiceUnavailable
	case apperrors.KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError maps any error into an HTTP response, unwrapping
// *apperrors.Error for its stable kind/code/message and falling back to a
// generic 500 for anything else.
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if e, ok := err.(*apperrors.Error); ok {
		appErr = e
	}
	if appErr == nil {
		log.Warnw("unclassified api error", "error", err)
		appErr = apperrors.Wrap(apperrors.KindFatal, "internal", err, "")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusForKind(appErr.Kind))
	body, _ := json.Marshal(appErrorBody{Kind: string(appErr.Kind), Code: appErr.Code, Message: appErr.Message})
	if _, werr := w.Write(body); werr != nil {
		log.Warnw("failed to write error response", "error", werr)
	}
}
