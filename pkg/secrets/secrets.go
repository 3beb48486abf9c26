// Package secrets generates invitation tokens and hashes passwords.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
)

// TokenBytes is the entropy of a generated token. Tokens are hex encoded, so
// their length is twice this.
const TokenBytes = 32

// MinPasswordLength is the shortest password HashPassword accepts
const MinPasswordLength = 8

// GenerateToken returns a random hex token
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", domainerr.Wrap(err, domainerr.CodeInternal, "could not generate token")
	}
	return hex.EncodeToString(b), nil
}

// Hasher hashes passwords with bcrypt at a fixed cost
type Hasher struct {
	cost int
}

// NewHasher creates a hasher. A cost outside bcrypt's range uses the default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash validates and hashes a password
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", domainerr.New(domainerr.CodeInvalidInput, "password must be at least 8 characters")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", domainerr.New(domainerr.CodeInvalidInput, "password is too long")
		}
		return "", domainerr.Wrap(err, domainerr.CodeInternal, "could not hash password")
	}
	return string(hashed), nil
}

// Verify checks a password against a hash
func (h *Hasher) Verify(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return domainerr.New(domainerr.CodeForbidden, "invalid password")
		}
		return domainerr.Wrap(err, domainerr.CodeInternal, "could not verify password")
	}
	return nil
}
