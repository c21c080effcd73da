package rate

// Action names the throttled operation and prefixes its bucket key.
type Action string

const (
	ActionLogin                Action = "login"
	ActionRefresh              Action = "refresh"
	ActionForgotPassword       Action = "forgotpassword"
	ActionResetPasswordConfirm Action = "resetpasswordconfirm"
	ActionMFAVerify            Action = "mfaverify"
)

func LoginKey(ip, email string) string {
	return string(ActionLogin) + ":" + ip + ":" + email
}

func RefreshKey(userID string) string {
	return string(ActionRefresh) + ":" + userID
}

func ForgotPasswordKey(ip, email string) string {
	return string(ActionForgotPassword) + ":" + ip + ":" + email
}

func ResetPasswordConfirmKey(ip, email string) string {
	return string(ActionResetPasswordConfirm) + ":" + ip + ":" + email
}

func MFAVerifyKey(userID, ip string) string {
	return string(ActionMFAVerify) + ":" + userID + ":" + ip
}
