package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/MrEthical07/authbroker/middleware"
)

const forgotPasswordMessage = "if the account exists, a reset link has been sent"

type resetPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, forgotPasswordMessage)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	token := r.URL.Query().Get("token")
	if err := h.engine.ResetPassword(r.Context(), token, req.Password, req.ConfirmPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, "password has been reset")
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := authmw.ClaimsFromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.ChangePassword(r.Context(), claims.UserID(), req.CurrentPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, "password changed")
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	claims, _ := authmw.ClaimsFromContext(r.Context())

	st, err := h.engine.Status(r.Context(), claims.UserID())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		"success":        true,
		"email":          st.Email,
		"emailVerified":  st.EmailVerified,
		"mfaState":       st.MFAState,
		"mfaActive":      st.MFAActive,
		"activeSessions": st.ActiveSessions,
	})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := authmw.ClaimsFromContext(r.Context())

	sessions, err := h.engine.ListSessions(r.Context(), claims.UserID())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "sessions": sessions})
}

func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	claims, _ := authmw.ClaimsFromContext(r.Context())

	if err := h.engine.RevokeSession(r.Context(), claims.UserID(), chi.URLParam(r, "jti")); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, "session revoked")
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "status": "ok"})
}
