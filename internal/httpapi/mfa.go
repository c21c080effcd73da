package httpapi

import (
	"net/http"

	authmw "github.com/MrEthical07/authbroker/middleware"
)

func (h *Handler) setupMFA(w http.ResponseWriter, r *http.Request) {
	claims, _ := authmw.ClaimsFromContext(r.Context())

	setup, err := h.engine.SetupMFA(r.Context(), claims.UserID())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		"success":    true,
		"secret":     setup.Secret,
		"otpauthUrl": setup.OTPAuthURL,
		"qrCode":     setup.QRCode,
	})
}

func (h *Handler) confirmMFA(w http.ResponseWriter, r *http.Request) {
	claims, _ := authmw.ClaimsFromContext(r.Context())

	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.ConfirmMFA(r.Context(), claims.UserID(), req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, "two-factor authentication enabled")
}

// resetMFA also revokes every session, including the caller's, so the cookie
// is cleared.
func (h *Handler) resetMFA(w http.ResponseWriter, r *http.Request) {
	claims, _ := authmw.ClaimsFromContext(r.Context())

	if err := h.engine.ResetMFA(r.Context(), claims.UserID()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	ok(w, "two-factor authentication disabled")
}
