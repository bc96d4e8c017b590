package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher_RoundTrip(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.NoError(t, h.Verify(hash, "s3cret"))
	assert.Error(t, h.Verify(hash, "wrong"))
}

func TestNewBcryptHasher_DefaultCost(t *testing.T) {
	h := NewBcryptHasher(0)
	assert.Equal(t, bcrypt.DefaultCost, h.Cost)
}

func TestHashCost(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("s3cret")
	require.NoError(t, err)

	cost, err := HashCost(hash)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	_, err = HashCost("sha256$not-bcrypt")
	assert.Error(t, err)
}
