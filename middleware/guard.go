package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authbroker"
	"github.com/MrEthical07/authbroker/jwt"
)

// ErrMissingBearer is passed to the error handler when the Authorization
// header carries no bearer token.
var ErrMissingBearer = errors.New("missing bearer token")

// Validator verifies a raw token and returns its claims.
type Validator func(token string) (*jwt.Claims, error)

// ErrorHandler writes the rejection response for a failed guard.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by a guard.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*jwt.Claims)
	return claims, ok
}

// WithClaims stores claims in ctx the way a guard does.
func WithClaims(ctx context.Context, claims *jwt.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Guard rejects requests whose bearer token fails validate. A nil onError
// responds with a bare 401.
func Guard(validate Validator, onError ErrorHandler) func(http.Handler) http.Handler {
	if onError == nil {
		onError = plainUnauthorized
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validate == nil {
				onError(w, r, ErrMissingBearer)
				return
			}

			token, ok := BearerToken(r)
			if !ok {
				onError(w, r, ErrMissingBearer)
				return
			}

			claims, err := validate(token)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireAccess admits requests carrying a valid access token.
func RequireAccess(engine *authbroker.Engine, onError ErrorHandler) func(http.Handler) http.Handler {
	if engine == nil {
		return Guard(nil, onError)
	}
	return Guard(engine.ValidateAccess, onError)
}

// RequireTemporary admits requests carrying a valid temporary token. Access
// and refresh tokens are rejected because they are signed for other audiences.
func RequireTemporary(engine *authbroker.Engine, onError ErrorHandler) func(http.Handler) http.Handler {
	if engine == nil {
		return Guard(nil, onError)
	}
	return Guard(engine.ValidateTemporary, onError)
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	return bearerToken(r.Header.Get("Authorization"))
}

func plainUnauthorized(w http.ResponseWriter, _ *http.Request, _ error) {
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
