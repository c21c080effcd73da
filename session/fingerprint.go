package session

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint derives a stable device identifier from the user id and a device
// descriptor (typically the User-Agent). An empty descriptor yields an empty
// fingerprint, which [Store.IsNewDevice] always reports as new.
func Fingerprint(userID, device string) string {
	if device == "" {
		return ""
	}
	h := blake3.New()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(device))
	return hex.EncodeToString(h.Sum(nil))
}
