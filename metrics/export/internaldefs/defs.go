package internaldefs

import (
	"github.com/MrEthical07/authbroker"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   authbroker.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   authbroker.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: authbroker.MetricLoginSuccess, Name: "authbroker_login_success_total", Help: "Successful logins that issued a session."},
	{ID: authbroker.MetricLoginFailure, Name: "authbroker_login_failure_total", Help: "Failed login attempts."},
	{ID: authbroker.MetricLoginLocked, Name: "authbroker_login_locked_total", Help: "Login attempts rejected by the lockout tracker."},
	{ID: authbroker.MetricLoginRateLimited, Name: "authbroker_login_rate_limited_total", Help: "Login attempts rejected by the rate limiter."},
	{ID: authbroker.MetricMFARequired, Name: "authbroker_mfa_required_total", Help: "Logins that returned a temporary token."},
	{ID: authbroker.MetricMFASuccess, Name: "authbroker_mfa_success_total", Help: "Successful TOTP verifications."},
	{ID: authbroker.MetricMFAFailure, Name: "authbroker_mfa_failure_total", Help: "Failed TOTP verifications."},
	{ID: authbroker.MetricRefreshSuccess, Name: "authbroker_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: authbroker.MetricRefreshFailure, Name: "authbroker_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: authbroker.MetricRateLimitHit, Name: "authbroker_rate_limit_hit_total", Help: "Rate-limit checks that denied a request."},
	{ID: authbroker.MetricSessionCreated, Name: "authbroker_session_created_total", Help: "Created sessions."},
	{ID: authbroker.MetricSessionEvicted, Name: "authbroker_session_evicted_total", Help: "Sessions evicted by the concurrency cap."},
	{ID: authbroker.MetricSessionRevoked, Name: "authbroker_session_revoked_total", Help: "Sessions revoked explicitly."},
	{ID: authbroker.MetricLogout, Name: "authbroker_logout_total", Help: "Single-session logouts."},
	{ID: authbroker.MetricLogoutAll, Name: "authbroker_logout_all_total", Help: "Logout-all operations."},
	{ID: authbroker.MetricRegistration, Name: "authbroker_registration_total", Help: "Registered accounts."},
	{ID: authbroker.MetricPasswordReset, Name: "authbroker_password_reset_total", Help: "Completed password resets."},
	{ID: authbroker.MetricPasswordChange, Name: "authbroker_password_change_total", Help: "Completed password changes."},
	{ID: authbroker.MetricNotificationDropped, Name: "authbroker_notification_dropped_total", Help: "Notifications dropped on a full queue."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authbroker.MetricLoginLatency, Name: "authbroker_login_latency_seconds", Help: "Login latency histogram."},
}

// BucketCount is the number of latency buckets, +Inf included.
const BucketCount = 8

// HistogramBounds are the Prometheus le labels matching the engine buckets.
var HistogramBounds = [BucketCount]string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names the per-bucket OTel gauges.
var HistogramBoundSuffix = [BucketCount]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, truncating or zero
// filling as needed.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
