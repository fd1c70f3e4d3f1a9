package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes new passwords and verifies stored ones.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Migrating hashes with Argon2id and still verifies bcrypt hashes imported
// from older systems. Verify dispatches on the stored hash prefix.
type Migrating struct {
	primary *Argon2
}

// NewMigrating returns a [Migrating] hasher over primary.
func NewMigrating(primary *Argon2) *Migrating {
	return &Migrating{primary: primary}
}

func (m *Migrating) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

func (m *Migrating) Verify(password, encodedHash string) (bool, error) {
	if !isBcrypt(encodedHash) {
		return m.primary.Verify(password, encodedHash)
	}
	if len(password) > m.primary.config.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}

	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// NeedsRehash reports whether encodedHash should be replaced after the next
// successful verification. Every bcrypt hash qualifies.
func (m *Migrating) NeedsRehash(encodedHash string) (bool, error) {
	if isBcrypt(encodedHash) {
		return true, nil
	}
	return m.primary.NeedsUpgrade(encodedHash)
}

func isBcrypt(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}
