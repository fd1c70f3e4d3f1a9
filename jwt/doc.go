// Package jwt mints and verifies stateless access tokens.
//
// Tokens carry the subject, issue and expiry times, and the refresh record
// version ("tv") they were minted against. Verification checks signature and
// expiry only; it never consults storage.
package jwt
