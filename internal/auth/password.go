package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters.
const (
	DefaultIterations = 100_000 // HMAC-SHA-256 rounds
	SaltLength        = 16      // bytes of random salt per credential
	KeyLength         = 32      // derived key length
)

// PasswordHash is the stored form of a password. The hash is meaningless
// without its salt and iteration count, so the three always travel together.
type PasswordHash struct {
	Hash       []byte
	Salt       []byte
	Iterations int
}

// Hasher derives and verifies salted password hashes.
//
// The iteration count only applies to new hashes; verification always uses
// the count stored alongside the hash, so raising it later does not lock out
// existing users.
//
// Thread Safety: Hasher is immutable and safe for concurrent use.
type Hasher struct {
	iterations int
}

// NewHasher creates a Hasher that derives new hashes with the given number
// of iterations. Non-positive values select DefaultIterations.
func NewHasher(iterations int) *Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Hasher{iterations: iterations}
}

// Iterations returns the iteration count used for new hashes.
func (h *Hasher) Iterations() int {
	return h.iterations
}

// HashPassword derives a hash for plaintext using a fresh random salt.
// Two calls with the same input never share a salt.
func (h *Hasher) HashPassword(plaintext string) (PasswordHash, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return PasswordHash{}, fmt.Errorf("%w: generating salt: %w", ErrRandomSource, err)
	}

	return PasswordHash{
		Hash:       derive(plaintext, salt, h.iterations),
		Salt:       salt,
		Iterations: h.iterations,
	}, nil
}

// VerifyPassword recomputes the derivation with the stored salt and
// iteration count and compares in constant time.
func (h *Hasher) VerifyPassword(plaintext string, hash, salt []byte, iterations int) bool {
	if len(hash) == 0 || len(salt) == 0 || iterations <= 0 {
		return false
	}
	candidate := pbkdf2.Key([]byte(plaintext), salt, iterations, len(hash), sha256.New)
	return subtle.ConstantTimeCompare(hash, candidate) == 1
}

// Verify is VerifyPassword for a PasswordHash value.
func (h *Hasher) Verify(plaintext string, stored PasswordHash) bool {
	return h.VerifyPassword(plaintext, stored.Hash, stored.Salt, stored.Iterations)
}

func derive(plaintext string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(plaintext), salt, iterations, KeyLength, sha256.New)
}
