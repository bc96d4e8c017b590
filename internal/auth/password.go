package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher hashes and verifies passwords the way the local user
// store keeps them. The directory diagnostic uses it to decide whether
// a hash mismatch is local or server-side.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher creates a hasher; cost <= 0 uses bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash generates a bcrypt hash for the given password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash generation failed: %w", err)
	}
	return string(hashed), nil
}

// Verify compares a bcrypt hash with its possible plaintext equivalent.
// Returns nil on match.
func (h *BcryptHasher) Verify(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// HashCost returns the cost of an existing bcrypt hash, or an error when
// the value is not a bcrypt hash at all.
func HashCost(hash string) (int, error) {
	return bcrypt.Cost([]byte(hash))
}
