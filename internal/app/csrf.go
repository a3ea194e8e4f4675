package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrf_token"
	// CSRFHeader is the header alternative to CSRFFormField.
	CSRFHeader = "X-CSRF-Token"
)

var (
	ErrCSRFTokenMissing  = errors.New("csrf token missing")
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// CSRFManager issues and verifies CSRF tokens bound to a browser session.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// Token returns the token for sess. It is stable for the session lifetime.
func (m *CSRFManager) Token(sess *BrowserSession) string {
	if sess == nil {
		return ""
	}
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(sess.ID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify compares token with the token issued for sess.
func (m *CSRFManager) Verify(sess *BrowserSession, token string) error {
	if sess == nil || token == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(m.Token(sess)), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}
