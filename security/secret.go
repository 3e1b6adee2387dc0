package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrSecretMismatch is returned when a supplied client secret does not match
// the stored hash.
var ErrSecretMismatch = errors.New("client secret mismatch")

// dummySecretHash is a pre-computed bcrypt hash compared against when no real
// hash is available, so that verification cost does not reveal whether a
// client (or its secret) exists.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashClientSecret hashes a plaintext client secret for storage.
func HashClientSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyClientSecret compares a supplied secret against a stored bcrypt hash.
// An empty storedHash means the client is public: verification always
// succeeds, but a bcrypt comparison is still performed against a dummy hash
// to keep timing uniform.
func VerifyClientSecret(storedHash, supplied string) error {
	hashToCompare := storedHash
	public := storedHash == ""
	if public {
		hashToCompare = dummySecretHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(supplied))

	if public {
		return nil
	}
	if err != nil {
		return ErrSecretMismatch
	}
	return nil
}
