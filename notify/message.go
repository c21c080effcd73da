package notify

import "time"

// Kind names a notification template.
type Kind string

const (
	KindVerifyEmail     Kind = "VERIFY_EMAIL"
	KindResetPassword   Kind = "RESET_PASSWORD"
	KindSecurityWarning Kind = "SECURITY_WARNING"
	KindDeviceLogin     Kind = "DEVICE_LOGIN"
)

// Message is one outbound notification. Data carries template values such as
// "token", "ip", "device" or "reason".
type Message struct {
	Kind      Kind              `json:"kind"`
	To        string            `json:"to"`
	UserID    string            `json:"userId,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
