package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

const (
	refreshSecretSize = 32
	maxOwnerSize      = 255
)

// otpAlphabet omits characters that are easy to misread (0/O, 1/I/L).
const otpAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

var (
	errRefreshFormat = errors.New("invalid refresh token format")
	errRefreshOwner  = errors.New("invalid refresh token owner")
	errRefreshSize   = errors.New("invalid refresh token size")
)

func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken renders base64url(owner) "." base64url(secret).
func EncodeRefreshToken(owner string, secret [refreshSecretSize]byte) (string, error) {
	if owner == "" || len(owner) > maxOwnerSize {
		return "", errRefreshOwner
	}

	enc := base64.RawURLEncoding
	var b strings.Builder
	b.Grow(enc.EncodedLen(len(owner)) + 1 + enc.EncodedLen(refreshSecretSize))
	b.WriteString(enc.EncodeToString([]byte(owner)))
	b.WriteByte('.')
	b.WriteString(enc.EncodeToString(secret[:]))
	return b.String(), nil
}

func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	ownerPart, secretPart, ok := strings.Cut(token, ".")
	if !ok || ownerPart == "" || secretPart == "" || strings.Contains(secretPart, ".") {
		return "", secret, errRefreshFormat
	}

	owner, err := base64.RawURLEncoding.DecodeString(ownerPart)
	if err != nil {
		return "", secret, errRefreshFormat
	}
	if len(owner) == 0 || len(owner) > maxOwnerSize {
		return "", secret, errRefreshOwner
	}

	raw, err := base64.RawURLEncoding.DecodeString(secretPart)
	if err != nil {
		return "", secret, errRefreshFormat
	}
	if len(raw) != refreshSecretSize {
		return "", secret, errRefreshSize
	}
	copy(secret[:], raw)

	return string(owner), secret, nil
}

// NewOTP returns a uniformly random decimal code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}
	return randomString("0123456789", digits)
}

// NewAlphanumericOTP returns an upper-case code drawn from an unambiguous alphabet.
func NewAlphanumericOTP(length int) (string, error) {
	if length < 6 || length > 16 {
		return "", errors.New("invalid otp length")
	}
	return randomString(otpAlphabet, length)
}

func randomString(alphabet string, n int) (string, error) {
	var b strings.Builder
	b.Grow(n)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// HashOTP binds a code to its owner and purpose. A nil pepper still yields a
// keyed hash, just with an empty key.
func HashOTP(pepper []byte, owner, purpose, code string) [32]byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(owner))
	mac.Write([]byte{'|'})
	mac.Write([]byte(purpose))
	mac.Write([]byte{'|'})
	mac.Write([]byte(code))

	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}
