package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = 12

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// PasswordHasher hashes and verifies passwords with bcrypt at a fixed cost.
type PasswordHasher struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
	dummyErr  error
}

// NewPasswordHasher returns a hasher using cost, or DefaultBcryptCost when
// cost is outside bcrypt's accepted range.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

// Cost returns the configured work factor.
func (h *PasswordHasher) Cost() int {
	return h.cost
}

// Hash returns the bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", NewValidationError("password", "must be at most 72 bytes")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether password matches hash. A mismatch is (false, nil);
// a corrupt hash is an error.
func (h *PasswordHasher) Verify(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("verifying password: %w", err)
	}
}

// VerifyDummy spends the same time as Verify against a throwaway hash.
// Login calls it for unknown emails so response timing does not reveal
// whether an account exists.
func (h *PasswordHasher) VerifyDummy(password string) {
	h.dummyOnce.Do(func() {
		h.dummyHash, h.dummyErr = bcrypt.GenerateFromPassword([]byte("ecozone-dummy-password"), h.cost)
	})
	if h.dummyErr != nil {
		return
	}
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password)) //nolint:errcheck // Result is irrelevant
}

// NeedsRehash reports whether hash was produced with a different cost.
func (h *PasswordHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.cost
}
