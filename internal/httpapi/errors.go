package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"careloop.org/internal/audit"
)

// Machine-readable error codes. Responses carry a short message plus one of
// these so clients can branch without parsing prose.
const (
	codeTokenMissing     = "AUTH_TOKEN_MISSING"
	codeTokenInvalid     = "AUTH_TOKEN_INVALID"
	codeRoleRequired     = "ROLE_REQUIRED"
	codeInvalidInput     = "INVALID_INPUT"
	codeInvalidAddress   = "INVALID_ADDRESS"
	codeCircleFull       = "CIRCLE_FULL"
	codeNotFound         = "NOT_FOUND"
	codeNotPending       = "NOT_PENDING"
	codeNotActive        = "NOT_ACTIVE"
	codeTokenRequired    = "TOKEN_REQUIRED"
	codeConsentInvalid   = "CONSENT_TOKEN_INVALID"
	codeConsentExpired   = "CONSENT_EXPIRED"
	codeConsentUsed      = "CONSENT_ALREADY_USED"
	codeLinkInvalid      = "LINK_INVALID"
	codeRateLimited      = "RATE_LIMITED"
	codeOriginDenied     = "ORIGIN_NOT_ALLOWED"
	codeCreatedNotSent   = "CREATED_NOT_SENT"
	codeNotifyFailed     = "NOTIFY_FAILED"
	codeDependencyFailed = "DEPENDENCY_FAILED"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeErrorExtra(w, r, status, code, msg, nil)
}

func writeErrorExtra(w http.ResponseWriter, r *http.Request, status int, code, msg string, extra map[string]any) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, codeInvalidInput, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
