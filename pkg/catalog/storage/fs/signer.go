package fs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrExpired indicates the download URL has expired
	ErrExpired = errors.New("download URL has expired")

	// ErrInvalidSignature indicates the signature does not match
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer generates and validates HMAC-signed download URLs
type Signer struct {
	secretKey []byte
	now       func() time.Time
}

// NewSigner creates a Signer for secret
func NewSigner(secret string) *Signer {
	return &Signer{secretKey: []byte(secret), now: time.Now}
}

// SignURL returns path with signature and expires query parameters
func (s *Signer) SignURL(method, path string, expiresIn time.Duration) string {
	expiresAt := s.now().Add(expiresIn).Unix()
	return fmt.Sprintf("%s?signature=%s&expires=%d", path, s.signature(method, path, expiresAt), expiresAt)
}

// SignURLWithBase prefixes the signed path with baseURL
func (s *Signer) SignURLWithBase(baseURL, method, path string, expiresIn time.Duration) string {
	return baseURL + s.SignURL(method, path, expiresIn)
}

// Validate checks a signature and expiry taken from a request
func (s *Signer) Validate(method, path, signature, expires string) error {
	expiresAt, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiration: %w", err)
	}
	if s.now().Unix() > expiresAt {
		return ErrExpired
	}
	if !hmac.Equal([]byte(signature), []byte(s.signature(method, path, expiresAt))) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Signer) signature(method, path string, expiresAt int64) string {
	mac := hmac.New(sha256.New, s.secretKey)
	fmt.Fprintf(mac, "%s\n%s\n%d", method, path, expiresAt)
	return hex.EncodeToString(mac.Sum(nil))
}
