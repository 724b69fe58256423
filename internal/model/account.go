// Package model defines the data structures shared by the service, repository
// and handler layers.
//
// JSON TAGS:
// Field names on the wire are camelCase and declared statically with struct
// tags. There is no runtime key rewriting; if a payload needs a different
// shape it gets its own type.
package model

import "time"

// Account is a registered login.
//
// Secrets never leave the server: the password hash, the refresh-token digest
// and the one-time code digests are all tagged `json:"-"`.
type Account struct {
	ID               string      `json:"id"`
	Email            string      `json:"email"`
	PasswordHash     string      `json:"-"`
	RefreshTokenHash string      `json:"-"` // sha256 hex of the live refresh token, "" when logged out
	DeviceToken      string      `json:"-"` // push token registered by the phone app
	EmailVerified    bool        `json:"emailVerified"`
	Verification     OneTimeCode `json:"-"`
	Reset            OneTimeCode `json:"-"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// OneTimeCode is the stored half of an emailed 6-digit code: its digest and
// when it stops being accepted. The zero value means no code is pending.
type OneTimeCode struct {
	Hash      string
	ExpiresAt time.Time
}

// Pending reports whether a code has been issued and not yet cleared.
func (c OneTimeCode) Pending() bool {
	return c.Hash != ""
}

// Expired reports whether the code is past its expiry at now.
func (c OneTimeCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// TokenPair is returned by register, login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // access token lifetime in seconds
	TokenType    string `json:"tokenType"`
}
