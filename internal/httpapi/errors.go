package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authbroker"
	"github.com/MrEthical07/authbroker/internal/logger"
	authmw "github.com/MrEthical07/authbroker/middleware"
)

var errInvalidBody = errors.New("invalid JSON was passed")

var errorStatusMap = map[error]int{
	authbroker.ErrAccountLocked:                http.StatusTooManyRequests,
	authbroker.ErrRateLimited:                  http.StatusTooManyRequests,
	authbroker.ErrEmailNotVerified:             http.StatusForbidden,
	authbroker.ErrInvalidCredentials:           http.StatusUnauthorized,
	authbroker.ErrAccessTokenExpired:           http.StatusUnauthorized,
	authbroker.ErrAccessTokenInvalid:           http.StatusUnauthorized,
	authbroker.ErrTempTokenExpired:             http.StatusUnauthorized,
	authbroker.ErrTempTokenInvalid:             http.StatusUnauthorized,
	authbroker.ErrInvalidRefreshTokenFormat:    http.StatusUnauthorized,
	authbroker.ErrRefreshTokenExpiredOrInvalid: http.StatusUnauthorized,
	authbroker.ErrSessionNotFound:              http.StatusNotFound,
	authbroker.ErrMFAAlreadySetup:              http.StatusBadRequest,
	authbroker.ErrMFANotSetup:                  http.StatusBadRequest,
	authbroker.ErrMFANotEnabled:                http.StatusForbidden,
	authbroker.ErrInvalidMFACode:               http.StatusBadRequest,
	authbroker.ErrAllFieldsRequired:            http.StatusBadRequest,
	authbroker.ErrPasswordsDoNotMatch:          http.StatusBadRequest,
	authbroker.ErrWeakPassword:                 http.StatusBadRequest,
	authbroker.ErrInvalidCurrentPassword:       http.StatusUnauthorized,
	authbroker.ErrInvalidOrExpiredToken:        http.StatusBadRequest,
	authbroker.ErrEmailAlreadyVerified:         http.StatusBadRequest,
	authbroker.ErrUserNotFound:                 http.StatusNotFound,
	authbroker.ErrUserExists:                   http.StatusConflict,
	authbroker.ErrStoreUnavailable:             http.StatusServiceUnavailable,

	errInvalidBody: http.StatusBadRequest,
}

func statusFromError(err error) int {
	for target, status := range errorStatusMap {
		if errors.Is(err, target) {
			return status
		}
	}
	return http.StatusInternalServerError
}

func codeFromError(err error) string {
	if errors.Is(err, errInvalidBody) {
		return "INVALID_REQUEST_BODY"
	}
	return authbroker.ErrorCode(err)
}

// isRefreshError reports errors after which the refresh cookie is useless.
func isRefreshError(err error) bool {
	return errors.Is(err, authbroker.ErrInvalidRefreshTokenFormat) ||
		errors.Is(err, authbroker.ErrRefreshTokenExpiredOrInvalid)
}

// writeError renders err as the JSON error envelope. Lock and rate-limit
// errors carry their retry hints in both the body and Retry-After.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	body := envelope{"success": false, "error": codeFromError(err)}

	log := logger.FromRequest(r)
	if status >= http.StatusInternalServerError {
		log.Err(err).Int("status", status).Msg("request failed")
		body["message"] = http.StatusText(status)
	} else {
		log.Debug().Err(err).Int("status", status).Msg("request rejected")
		body["message"] = err.Error()
	}

	var locked *authbroker.LockedError
	var limited *authbroker.RateLimitError
	switch {
	case errors.As(err, &locked):
		minutes := max(locked.MinutesRemaining, 1)
		body["minutesRemaining"] = minutes
		w.Header().Set("Retry-After", strconv.Itoa(minutes*60))
	case errors.As(err, &limited):
		body["retryAfter"] = limited.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds()))
	}

	if isRefreshError(err) {
		h.clearRefreshCookie(w)
	}

	writeJSON(w, status, body)
}

// accessDenied adapts guard rejections to the JSON envelope.
func (h *Handler) accessDenied(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, authmw.ErrMissingBearer) {
		err = authbroker.ErrAccessTokenInvalid
	}
	h.writeError(w, r, err)
}
