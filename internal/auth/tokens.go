package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

// CodeLength is the number of digits in an emailed one-time code.
const CodeLength = 6

// NewRefreshToken returns 32 random bytes, hex encoded. The caller hands
// it to the client and stores only HashToken(token).
func NewRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the sha256 hex digest stored for refresh tokens and
// one-time codes.
//
// A plain digest is enough here (unlike passwords) because the inputs are
// server-generated and either long random strings or short-lived codes.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

var codeSpace = big.NewInt(1_000_000)

// NewCode returns a uniformly random 6-digit code, zero padded.
func NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("auth: generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// CodeMatches reports whether the presented code hashes to storedHash.
// The digests are compared in constant time.
func CodeMatches(storedHash, presented string) bool {
	if storedHash == "" {
		return false
	}
	got := HashToken(presented)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(got)) == 1
}
