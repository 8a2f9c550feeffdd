package crypto

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
)

// Claims are the identity facts carried by a session token.
type Claims struct {
	UserID    string
	Role      string
	ExpiresAt time.Time
}

// TokenSigner issues and verifies session tokens of the form
// base64url(userID|role|expiry).base64url(hmac).
type TokenSigner struct {
	key []byte
	now func() time.Time
}

// NewTokenSigner derives the signing key from secret.
func NewTokenSigner(secret string) (*TokenSigner, error) {
	if secret == "" {
		return nil, errors.New("crypto: token secret is empty")
	}
	key, err := deriveKey([]byte(secret), tokenKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive token key: %w", err)
	}
	return &TokenSigner{key: key, now: time.Now}, nil
}

// Sign issues a token for c.
func (s *TokenSigner) Sign(c Claims) (string, error) {
	if c.UserID == "" {
		return "", fmt.Errorf("crypto: sign: empty user id")
	}
	if strings.Contains(c.UserID, "|") || strings.Contains(c.Role, "|") {
		return "", fmt.Errorf("crypto: sign: '|' not allowed in claims")
	}

	payload := strings.Join([]string{c.UserID, c.Role, strconv.FormatInt(c.ExpiresAt.Unix(), 10)}, "|")
	return encodeSegment([]byte(payload)) + "." + encodeSegment(macSHA256(s.key, payload)), nil
}

// Verify checks the signature and expiry of token and returns its claims.
func (s *TokenSigner) Verify(token string) (Claims, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	payload, err := decodeSegment(body)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	got, err := decodeSegment(sig)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal(got, macSHA256(s.key, string(payload))) {
		return Claims{}, ErrInvalidToken
	}

	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 || parts[0] == "" {
		return Claims{}, ErrInvalidToken
	}
	exp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	c := Claims{UserID: parts[0], Role: parts[1], ExpiresAt: time.Unix(exp, 0).UTC()}
	if !s.now().Before(c.ExpiresAt) {
		return Claims{}, ErrTokenExpired
	}
	return c, nil
}

// String keeps key material out of logs.
func (s *TokenSigner) String() string {
	return "TokenSigner{key=****}"
}
