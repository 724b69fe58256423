package model

import "time"

type ChallengeStatus string

const (
	ChallengeActive    ChallengeStatus = "active"
	ChallengeCompleted ChallengeStatus = "completed"
)

// ChallengeType says what Participant.Progress measures.
type ChallengeType string

const (
	ChallengeDistance ChallengeType = "distance" // kilometres
	ChallengeDuration ChallengeType = "duration" // seconds
	ChallengeRuns     ChallengeType = "runs"     // number of runs
)

// Valid reports whether t is a known challenge type.
func (t ChallengeType) Valid() bool {
	switch t {
	case ChallengeDistance, ChallengeDuration, ChallengeRuns:
		return true
	}
	return false
}

// Challenge is a group goal between friends over a date range.
type Challenge struct {
	ID               string          `json:"id"`
	CreatorID        string          `json:"creatorId"`
	IdempotencyKey   string          `json:"idempotencyKey"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Type             ChallengeType   `json:"type"`
	TargetValue      float64         `json:"targetValue"`
	StartDate        time.Time       `json:"startDate"`
	EndDate          time.Time       `json:"endDate"`
	Status           ChallengeStatus `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
	ParticipantCount int             `json:"participantCount"`
	Participants     []Participant   `json:"participants,omitempty"`
}

// Participant is one account enrolled in a challenge.
type Participant struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"` // snapshot taken on join
	Progress    float64   `json:"progress"`
	JoinedAt    time.Time `json:"joinedAt"`
}
