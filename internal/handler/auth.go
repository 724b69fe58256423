package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/trainsync/internal/service"
)

// AuthHandler exposes the session manager.
//
//   - register, login, refresh, forgot-password, reset-password are public
//     (and rate limited by the router)
//   - everything else needs a bearer token
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

type verifyEmailRequest struct {
	Code string `json:"code"`
}

type deviceTokenRequest struct {
	DeviceToken string `json:"deviceToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// HandleRegister creates an account and returns its first token pair.
//
// HTTP: POST /auth/register
// REQUEST BODY: {"email": "...", "password": "..."}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	pair, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, pair)
}

// HandleLogin exchanges email + password for a token pair.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	pair, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, pair)
}

// HandleRefresh rotates the refresh token.
//
// HTTP: POST /auth/refresh
// REQUEST BODY: {"refreshToken": "..."}
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, pair)
}

// HandleLogout revokes the caller's refresh token.
//
// HTTP: POST /auth/logout → 204
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.auth.Logout(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleChangePassword replaces the caller's password.
//
// HTTP: POST /auth/change-password
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Message: "Password changed. Please log in again."})
}

// HandleForgotPassword always answers the same way for a well-formed email.
//
// HTTP: POST /auth/forgot-password
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	msg, err := h.auth.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Message: msg})
}

// HandleResetPassword sets a new password from an emailed code.
//
// HTTP: POST /auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Message: "Password has been reset. Please log in."})
}

// HandleVerifyEmail consumes the emailed verification code.
//
// HTTP: POST /auth/verify-email
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.auth.VerifyEmail(r.Context(), id, req.Code); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Message: "Email verified."})
}

// HandleResendVerification emails a fresh verification code.
//
// HTTP: POST /auth/resend-verification
func (h *AuthHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.auth.ResendVerification(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Message: "If your email is unverified, a new code has been sent."})
}

// HandleMe returns the caller's account.
//
// HTTP: GET /auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	account, err := h.auth.Me(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, account)
}

// HandleDeviceToken registers the push token of the caller's phone.
//
// HTTP: PUT /auth/device-token → 204
func (h *AuthHandler) HandleDeviceToken(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req deviceTokenRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.auth.RegisterDevice(r.Context(), id, req.DeviceToken); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteAccount removes the caller and everything they own.
//
// HTTP: DELETE /auth/account → 204
func (h *AuthHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.auth.DeleteAccount(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("account deleted via API", slog.String("userID", id))
	w.WriteHeader(http.StatusNoContent)
}
