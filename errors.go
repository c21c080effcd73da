package authbroker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotVerified is returned by Login before the email is confirmed.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrAccountLocked matches every *LockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited matches every *RateLimitError.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrAccessTokenExpired is returned when an access token has expired.
	ErrAccessTokenExpired = errors.New("access token expired")
	// ErrAccessTokenInvalid is returned when an access token fails verification.
	ErrAccessTokenInvalid = errors.New("access token invalid")
	// ErrTempTokenExpired is returned when an MFA-pending token has expired.
	ErrTempTokenExpired = errors.New("temporary token expired")
	// ErrTempTokenInvalid is returned when an MFA-pending token fails verification.
	ErrTempTokenInvalid = errors.New("temporary token invalid")
	// ErrInvalidRefreshTokenFormat is returned for refresh tokens that cannot be decoded.
	ErrInvalidRefreshTokenFormat = errors.New("invalid refresh token format")
	// ErrRefreshTokenExpiredOrInvalid is returned when no live session backs a refresh token.
	ErrRefreshTokenExpiredOrInvalid = errors.New("refresh token expired or invalid")
	// ErrSessionNotFound is returned when revoking a session that does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMFAAlreadySetup is returned by SetupMFA when MFA is already active.
	ErrMFAAlreadySetup = errors.New("mfa already set up")
	// ErrMFANotSetup is returned by ConfirmMFA before SetupMFA.
	ErrMFANotSetup = errors.New("mfa not set up")
	// ErrMFANotEnabled is returned when an operation needs active MFA.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrInvalidMFACode is returned when a TOTP code does not verify.
	ErrInvalidMFACode = errors.New("invalid mfa code")

	// ErrAllFieldsRequired is returned when a required input is empty.
	ErrAllFieldsRequired = errors.New("all fields are required")
	// ErrPasswordsDoNotMatch is returned when a password confirmation differs.
	ErrPasswordsDoNotMatch = errors.New("passwords do not match")
	// ErrWeakPassword is returned when a new password violates the length policy.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrInvalidCurrentPassword is returned by ChangePassword for a wrong current password.
	ErrInvalidCurrentPassword = errors.New("current password is incorrect")
	// ErrInvalidOrExpiredToken is returned for unknown or used one-time tokens.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrEmailAlreadyVerified is returned when resending to a verified account.
	ErrEmailAlreadyVerified = errors.New("email already verified")

	// ErrUserNotFound is returned by a UserStore for a missing user.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned by a UserStore on a duplicate email.
	ErrUserExists = errors.New("user already exists")

	// ErrStoreUnavailable wraps every infrastructure failure. It is never an
	// authentication outcome and callers may retry.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)

// LockedError reports an account lock and how long it lasts.
type LockedError struct {
	MinutesRemaining int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minute(s)", e.MinutesRemaining)
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RateLimitError reports a throttled action and when the window resets.
type RateLimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded, retry after %s", e.Action, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	s := int((e.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAccountLocked, "ACCOUNT_LOCKED"},
	{ErrRateLimited, "RATE_LIMIT_EXCEEDED"},
	{ErrEmailNotVerified, "EMAIL_NOT_VERIFIED"},
	{ErrInvalidCredentials, "INVALID_CREDENTIALS"},
	{ErrAccessTokenExpired, "ACCESS_TOKEN_EXPIRED"},
	{ErrAccessTokenInvalid, "ACCESS_TOKEN_INVALID"},
	{ErrTempTokenExpired, "TEMP_TOKEN_EXPIRED"},
	{ErrTempTokenInvalid, "TEMP_TOKEN_INVALID"},
	{ErrInvalidRefreshTokenFormat, "INVALID_REFRESH_TOKEN_FORMAT"},
	{ErrRefreshTokenExpiredOrInvalid, "REFRESH_TOKEN_EXPIRED_OR_INVALID"},
	{ErrSessionNotFound, "SESSION_NOT_FOUND"},
	{ErrMFAAlreadySetup, "MFA_ALREADY_SETUP"},
	{ErrMFANotSetup, "MFA_NOT_SETUP"},
	{ErrMFANotEnabled, "MFA_NOT_ENABLED"},
	{ErrInvalidMFACode, "INVALID_MFA_CODE"},
	{ErrAllFieldsRequired, "ALL_FIELDS_REQUIRED"},
	{ErrPasswordsDoNotMatch, "PASSWORDS_DO_NOT_MATCH"},
	{ErrWeakPassword, "WEAK_PASSWORD"},
	{ErrInvalidCurrentPassword, "INVALID_CURRENT_PASSWORD"},
	{ErrInvalidOrExpiredToken, "INVALID_OR_EXPIRED_TOKEN"},
	{ErrEmailAlreadyVerified, "EMAIL_ALREADY_VERIFIED"},
	{ErrUserNotFound, "USER_NOT_FOUND"},
	{ErrUserExists, "USER_EXISTS"},
	{ErrStoreUnavailable, "SERVICE_UNAVAILABLE"},
}

// ErrorCode returns the stable machine-readable code for err, or
// "INTERNAL_ERROR" when err is not one of the package errors.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL_ERROR"
}
