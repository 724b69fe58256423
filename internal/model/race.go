package model

import "time"

// Race is an upcoming or completed race on the athlete's calendar.
// RaceKey is chosen by the client and identifies the race within the owner's
// calendar across devices.
type Race struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"ownerId"`
	RaceKey        string    `json:"raceKey"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Name           string    `json:"name"`
	RaceDate       time.Time `json:"raceDate"`
	DistanceKm     float64   `json:"distanceKm"`
	GoalSeconds    int       `json:"goalSeconds"`
	Notes          string    `json:"notes"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
