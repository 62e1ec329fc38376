package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// OpaqueSessionID derives the public identifier shown for a session from the
// raw sid and the owning user's email. The derivation is keyed so the raw sid
// cannot be recovered from an exposed identifier.
func OpaqueSessionID(key []byte, sid, email string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(sid))
	mac.Write([]byte{0})
	mac.Write([]byte(email))
	return hex.EncodeToString(mac.Sum(nil))
}
