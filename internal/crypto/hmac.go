// Package crypto signs and verifies the session tokens issued by the external
// authentication service.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/hkdf"
)

// tokenKeyInfo binds derived keys to their purpose.
const tokenKeyInfo = "resale session token v1"

// deriveKey expands the shared secret into a 32-byte HMAC key with
// HKDF-SHA256, so the raw secret never signs anything directly.
func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// macSHA256 computes HMAC-SHA256 of message using key.
func macSHA256(key []byte, message string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
