package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"otpauth/internal/auth"
)

const maxBodyBytes = 1 << 20

var errBadPayload = errors.New("Invalid request payload")

type response struct {
	Message string     `json:"message"`
	Email   string     `json:"email,omitempty"`
	Token   string     `json:"token,omitempty"`
	User    *auth.User `json:"user,omitempty"`
	DevOTP  string     `json:"devOtp,omitempty"`
}

type errorResponse struct {
	Message           string `json:"message"`
	Field             string `json:"field,omitempty"`
	NeedsVerification bool   `json:"needsVerification,omitempty"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
	RetryAfter        int    `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError is a helper that writes an error response in JSON.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

// decode reads a single JSON object, rejecting unknown fields, trailing
// data and bodies over maxBodyBytes.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errBadPayload
	}
	return nil
}
