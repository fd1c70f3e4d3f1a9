package internal

import (
	"strings"
	"testing"
)

func TestRefreshTokenRoundTrip(t *testing.T) {
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	token, err := EncodeRefreshToken("user:42", secret)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Count(token, ".") != 1 {
		t.Fatalf("expected owner.secret layout, got %q", token)
	}

	owner, got, err := DecodeRefreshToken(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if owner != "user:42" || got != secret {
		t.Fatalf("roundtrip mismatch: %q", owner)
	}
}

func TestDecodeRefreshTokenRejectsMalformed(t *testing.T) {
	for _, token := range []string{
		"",
		"no-dot",
		".c2VjcmV0",
		"dTE.",
		"dTE.c2hvcnQ",
		"dTE.a.b",
		"***.c2VjcmV0",
	} {
		if _, _, err := DecodeRefreshToken(token); err == nil {
			t.Fatalf("expected error for %q", token)
		}
	}
}

func TestEncodeRefreshTokenRejectsBadOwner(t *testing.T) {
	var secret [32]byte
	if _, err := EncodeRefreshToken("", secret); err == nil {
		t.Fatal("expected error for empty owner")
	}
	if _, err := EncodeRefreshToken(strings.Repeat("x", 256), secret); err == nil {
		t.Fatal("expected error for oversized owner")
	}
}

func TestNewOTP(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("otp(%d): %v", digits, err)
		}
		if len(code) != digits {
			t.Fatalf("expected %d digits, got %q", digits, code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit in %q", code)
			}
		}
	}
	if _, err := NewOTP(5); err == nil {
		t.Fatal("expected error for 5 digits")
	}
	if _, err := NewOTP(11); err == nil {
		t.Fatal("expected error for 11 digits")
	}
}

func TestNewAlphanumericOTP(t *testing.T) {
	code, err := NewAlphanumericOTP(8)
	if err != nil {
		t.Fatalf("otp: %v", err)
	}
	if len(code) != 8 {
		t.Fatalf("unexpected length: %q", code)
	}
	for _, c := range code {
		if !strings.ContainsRune(otpAlphabet, c) {
			t.Fatalf("unexpected character %q in %q", c, code)
		}
	}
	if _, err := NewAlphanumericOTP(4); err == nil {
		t.Fatal("expected error for short length")
	}
}

func TestHashOTPBindsOwnerAndPurpose(t *testing.T) {
	pepper := []byte("pepper")
	base := HashOTP(pepper, "u1", "password_reset", "123456")

	if base != HashOTP(pepper, "u1", "password_reset", "123456") {
		t.Fatal("hash must be deterministic")
	}
	if base == HashOTP(pepper, "u2", "password_reset", "123456") {
		t.Fatal("hash must depend on owner")
	}
	if base == HashOTP(pepper, "u1", "subscription_activation", "123456") {
		t.Fatal("hash must depend on purpose")
	}
	if base == HashOTP([]byte("other"), "u1", "password_reset", "123456") {
		t.Fatal("hash must depend on pepper")
	}
}
