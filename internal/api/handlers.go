package api

import (
	"errors"
	"net/http"

	"otpauth/internal/auth"
)

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		Password  string `json:"password"`
	}
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, errBadPayload.Error())
		return
	}
	res, err := s.flows.Signup(r.Context(), auth.SignupInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Message: res.Message, Email: res.Email, DevOTP: res.DevOTP})
}

func (s *Server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
		Type  string `json:"type"`
	}
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, errBadPayload.Error())
		return
	}
	res, err := s.flows.VerifyOTP(r.Context(), req.Email, req.OTP, req.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Message: res.Message, Token: res.Token, User: res.User})
}

func (s *Server) resendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Type  string `json:"type"`
	}
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, errBadPayload.Error())
		return
	}
	res, err := s.flows.ResendOTP(r.Context(), req.Email, req.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Message: res.Message, DevOTP: res.DevOTP})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, errBadPayload.Error())
		return
	}
	res, err := s.flows.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Message: res.Message, Token: res.Token, User: &res.User})
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, errBadPayload.Error())
		return
	}
	res, err := s.flows.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Message: res.Message, DevOTP: res.DevOTP})
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		NewPassword string `json:"newPassword"`
	}
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, errBadPayload.Error())
		return
	}
	msg, err := s.flows.ResetPassword(r.Context(), req.Email, req.NewPassword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Message: msg})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
		return
	}
	u, err := s.flows.Profile(r.Context(), claims.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Message: "OK", User: &u})
}

// writeError maps a flow error to its status and body. Anything unexpected
// is logged and reported as a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *auth.ValidationError
		mismatch *auth.MismatchError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: verr.Message, Field: verr.Field})
	case errors.As(err, &mismatch):
		remaining := mismatch.Remaining
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: mismatch.Error(), AttemptsRemaining: &remaining})
	case errors.Is(err, auth.ErrNeedsVerification):
		writeJSON(w, http.StatusForbidden, errorResponse{Message: err.Error(), NeedsVerification: true})
	default:
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Printf("request %s: %s %s: %v", requestIDFromContext(r.Context()), r.Method, r.URL.Path, err)
			writeJSONError(w, status, "Internal server error")
			return
		}
		writeJSONError(w, status, err.Error())
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrAlreadyRegistered),
		errors.Is(err, auth.ErrAlreadyVerified),
		errors.Is(err, auth.ErrOTPExpired),
		errors.Is(err, auth.ErrTooManyAttempts),
		errors.Is(err, auth.ErrResetNotConfirmed):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrAccountNotFound),
		errors.Is(err, auth.ErrOTPNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrNeedsVerification):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
