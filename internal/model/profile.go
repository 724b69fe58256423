package model

import "time"

// DefaultDisplayName is shown for accounts that never set up a profile.
const DefaultDisplayName = "Athlete"

// Profile is the public face of an account in the social features.
type Profile struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
