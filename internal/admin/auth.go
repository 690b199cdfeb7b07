package admin

import (
	"crypto/subtle"
	"errors"
)

// ErrInvalidCredentials is returned for a missing or wrong operator token.
var ErrInvalidCredentials = errors.New("admin: invalid credentials")

// TokenHeader carries the operator token.
const TokenHeader = "x-admin-token"

// TokenVerifier checks operator tokens against a single shared secret. An
// empty expected token rejects everything.
type TokenVerifier struct {
	Expected string
}

// Verify reports whether token matches the configured secret.
func (v TokenVerifier) Verify(token string) error {
	if token == "" || v.Expected == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
