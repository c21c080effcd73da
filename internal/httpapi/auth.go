package httpapi

import (
	"net/http"

	"github.com/MrEthical07/authbroker"
	authmw "github.com/MrEthical07/authbroker/middleware"
)

type credentialsRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.engine.Register(r.Context(), req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, envelope{
		"success": true,
		"message": "registered, check your email to verify the account",
		"userId":  user.ID,
	})
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.VerifyEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, "email verified")
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.ResendVerification(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, "verification email sent")
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeLoginResult(w, res)
}

func (h *Handler) verifyMFALogin(w http.ResponseWriter, r *http.Request) {
	tempToken, found := authmw.BearerToken(r)
	if !found {
		h.writeError(w, r, authbroker.ErrTempTokenInvalid)
		return
	}
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.engine.VerifyMFALogin(r.Context(), tempToken, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeLoginResult(w, res)
}

func (h *Handler) writeLoginResult(w http.ResponseWriter, res *authbroker.LoginResult) {
	if res.MFARequired {
		writeJSON(w, http.StatusOK, envelope{
			"success":     true,
			"tempToken":   res.TempToken,
			"isNewDevice": res.IsNewDevice,
			"mfaRequired": true,
		})
		return
	}

	h.setRefreshCookie(w, res.RefreshToken, h.engine.RefreshTTL())
	writeJSON(w, http.StatusOK, envelope{
		"success":     true,
		"accessToken": res.AccessToken,
		"isNewDevice": res.IsNewDevice,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	token := refreshCookie(r)
	if token == "" {
		h.writeError(w, r, authbroker.ErrInvalidRefreshTokenFormat)
		return
	}

	pair, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, h.engine.RefreshTTL())
	writeJSON(w, http.StatusOK, envelope{"success": true, "accessToken": pair.AccessToken})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := authmw.ClaimsFromContext(r.Context())

	token := refreshCookie(r)
	if token == "" {
		h.writeError(w, r, authbroker.ErrInvalidRefreshTokenFormat)
		return
	}
	if err := h.engine.Logout(r.Context(), claims.UserID(), token); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.clearRefreshCookie(w)
	ok(w, "logged out")
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := authmw.ClaimsFromContext(r.Context())

	n, err := h.engine.LogoutAll(r.Context(), claims.UserID())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, envelope{"success": true, "message": "all sessions revoked", "revoked": n})
}
