package model

import "time"

// FriendStatus is the state of a friend connection.
type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
	FriendDeclined FriendStatus = "declined"
)

// FriendConnection links two accounts. RequestorID and RecipientID keep the
// direction of the original request; UserLow/UserHigh hold the same pair in
// sorted order and carry the uniqueness constraint.
type FriendConnection struct {
	ID          string       `json:"id"`
	RequestorID string       `json:"requestorId"`
	RecipientID string       `json:"recipientId"`
	UserLow     string       `json:"-"`
	UserHigh    string       `json:"-"`
	Status      FriendStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	AcceptedAt  *time.Time   `json:"acceptedAt,omitempty"`
}

// CanonicalPair orders two account ids so the same pair always maps to the
// same (low, high) key regardless of who asked whom.
func CanonicalPair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Involves reports whether userID is either side of the connection.
func (c *FriendConnection) Involves(userID string) bool {
	return c.RequestorID == userID || c.RecipientID == userID
}

// Other returns the party that isn't userID.
func (c *FriendConnection) Other(userID string) string {
	if c.RequestorID == userID {
		return c.RecipientID
	}
	return c.RequestorID
}

// Friend is an accepted connection seen from one side.
type Friend struct {
	ConnectionID string     `json:"connectionId"`
	UserID       string     `json:"userId"`
	DisplayName  string     `json:"displayName"`
	Since        *time.Time `json:"since,omitempty"`
}

// FriendRequest is a pending connection seen from one side.
type FriendRequest struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"` // the other party
	DisplayName  string    `json:"displayName"`
	Direction    string    `json:"direction"` // "incoming" or "outgoing"
	CreatedAt    time.Time `json:"createdAt"`
}

// FriendRequests splits pending connections by direction.
type FriendRequests struct {
	Incoming []FriendRequest `json:"incoming"`
	Outgoing []FriendRequest `json:"outgoing"`
}
