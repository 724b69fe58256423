package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Password length limits in bytes. bcrypt silently ignores everything past
// byte 72, so longer inputs are rejected instead of truncated.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// defaultCost is the bcrypt work factor (2^12 rounds, roughly 250ms).
const defaultCost = 12

var (
	ErrPasswordTooShort = fmt.Errorf("auth: password must be at least %d bytes", MinPasswordLength)
	ErrPasswordTooLong  = fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordLength)
	ErrPasswordMismatch = errors.New("auth: invalid password")
)

// PasswordService provides bcrypt hashing and verification.
//
// It's a struct (not free functions) so tests can lower the cost; cost 4
// hashes in microseconds.
type PasswordService struct {
	cost  int
	dummy []byte
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return NewPasswordServiceWithCost(defaultCost)
}

// NewPasswordServiceWithCost is for tests in other packages. Do NOT use a
// cost below 12 in production.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	// Hash of a throwaway value, compared against on unknown-email logins
	// so they take as long as real ones.
	dummy, err := bcrypt.GenerateFromPassword([]byte("trainsync-timing-equaliser"), cost)
	if err != nil {
		panic(fmt.Sprintf("auth: bcrypt cost %d: %v", cost, err))
	}
	return &PasswordService{cost: cost, dummy: dummy}
}

// CheckLength validates a candidate password before hashing.
func CheckLength(plaintext string) error {
	switch {
	case len(plaintext) < MinPasswordLength:
		return ErrPasswordTooShort
	case len(plaintext) > MaxPasswordLength:
		return ErrPasswordTooLong
	}
	return nil
}

// Hash hashes the given plaintext password with bcrypt. The output embeds
// the salt and cost:
//
//	$2a$12$<22-char salt><31-char hash>
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if err := CheckLength(plaintext); err != nil {
		return "", err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify checks a plaintext password against a stored bcrypt hash.
// Returns ErrPasswordMismatch when they don't match.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// VerifyDummy burns one bcrypt comparison. Login calls it when the email is
// unknown so response time doesn't reveal which accounts exist.
func (p *PasswordService) VerifyDummy(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(plaintext))
}
