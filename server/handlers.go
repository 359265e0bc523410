package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jrsteele09/scholarhub-auth/auth"
	apperrors "github.com/jrsteele09/scholarhub-auth/internal/errors"
	"github.com/rs/zerolog/log"
)

const (
	maxRequestBodyBytes = 1 << 20
	defaultPageLimit    = 50
	maxPageLimit        = 500
)

// apiResponse is the {success, message, data} envelope every JSON route returns.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeData(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiResponse{Success: false, Message: message})
}

// writeAppError maps service errors onto HTTP status codes. Internal failures are logged and hidden.
func writeAppError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		writeError(w, status, apperrors.ErrInternal.Error())
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidCredentials),
		errors.Is(err, apperrors.ErrInvalidToken),
		errors.Is(err, apperrors.ErrTokenExpired),
		errors.Is(err, apperrors.ErrInvalidRefreshToken),
		errors.Is(err, apperrors.ErrRefreshTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrUserBlocked),
		errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrUserNotFound),
		errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrWeakPassword),
		errors.Is(err, apperrors.ErrPasswordMismatch),
		errors.Is(err, apperrors.ErrInvalidRole),
		errors.Is(err, apperrors.ErrInvalidRequest),
		errors.Is(err, apperrors.ErrInvalidResetToken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorClass is the metrics label for a failed operation.
func errorClass(err error) string {
	switch statusFor(err) {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadRequest:
		return "bad_request"
	default:
		return "error"
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type blockUserRequest struct {
	Email   string `json:"email"`
	Blocked bool   `json:"blocked"`
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := s.auth.Login(req.Email, req.Password)
		s.metrics.RecordAuthEvent("login", err)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeData(w, "logged in", resp)
	}
}

func (s *Server) SignupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.SignupParameters
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := s.auth.Signup(req)
		s.metrics.RecordAuthEvent("signup", err)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeData(w, "account created", resp)
	}
}

func (s *Server) RefreshTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshTokenRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, "refreshToken is required")
			return
		}
		resp, err := s.auth.Refresh(req.RefreshToken)
		s.metrics.RecordAuthEvent("refresh", err)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeData(w, "token refreshed", resp)
	}
}

// LogoutHandler always succeeds. A valid bearer token identifies the user and is revoked,
// otherwise the refresh token in the body identifies the session to end.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshTokenRequest
		if r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		var userID, accessToken string
		if raw, ok := bearerToken(r); ok {
			if claims, err := s.auth.VerifyAccessToken(raw); err == nil {
				userID = claims.SubjectID
				accessToken = raw
			}
		}
		err := s.auth.Logout(userID, req.RefreshToken, accessToken)
		s.metrics.RecordAuthEvent("logout", err)
		if err != nil {
			log.Warn().Err(err).Msg("logout cleanup failed")
		}
		writeData(w, "logged out", nil)
	}
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		user, err := s.auth.Me(claims.SubjectID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeData(w, "", map[string]any{"user": user})
	}
}

func (s *Server) ForgotPasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req emailRequest
		if !decodeBody(w, r, &req) {
			return
		}
		err := s.auth.ForgotPassword(req.Email)
		s.metrics.RecordAuthEvent("forgot_password", err)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeData(w, "if the account exists a reset link has been sent", nil)
	}
}

func (s *Server) ResetPasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetPasswordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		err := s.auth.ResetPassword(req.Token, req.Password, req.ConfirmPassword)
		s.metrics.RecordAuthEvent("reset_password", err)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeData(w, "password has been reset", nil)
	}
}

func (s *Server) ChangePasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changePasswordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		claims, _ := ClaimsFromContext(r.Context())
		err := s.auth.ChangePassword(claims.SubjectID, req.CurrentPassword, req.NewPassword)
		s.metrics.RecordAuthEvent("change_password", err)
		if errors.Is(err, apperrors.ErrInvalidCredentials) {
			// A 401 here would make session clients refresh and replay.
			writeError(w, http.StatusBadRequest, "current password is incorrect")
			return
		}
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeData(w, "password changed", nil)
	}
}

func (s *Server) AdminUsersListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "offset must be a number")
			return
		}
		limit, err := queryInt(r, "limit", defaultPageLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = min(limit, maxPageLimit)

		list, err := s.auth.ListUsers(offset, limit)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeData(w, "", map[string]any{"users": list, "offset": offset, "limit": limit})
	}
}

func (s *Server) AdminBlockUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req blockUserRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Email == "" {
			writeError(w, http.StatusBadRequest, "email is required")
			return
		}
		if err := s.auth.SetUserBlocked(req.Email, req.Blocked); err != nil {
			writeAppError(w, err)
			return
		}
		claims, _ := ClaimsFromContext(r.Context())
		log.Info().Str("admin", claims.Email).Str("email", req.Email).Bool("blocked", req.Blocked).Msg("user block state changed")
		writeData(w, "user updated", nil)
	}
}

// PreflightHandler answers CORS preflight requests. CorsMiddleware writes the response.
func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"app":    s.config.GetAppName(),
		})
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
