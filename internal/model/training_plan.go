package model

import "time"

// TrainingPlan is the athlete's current plan. There is at most one per account.
type TrainingPlan struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"ownerId"`
	IdempotencyKey string     `json:"idempotencyKey"`
	Name           string     `json:"name"`
	GoalRaceID     string     `json:"goalRaceId,omitempty"`
	StartDate      time.Time  `json:"startDate"`
	EndDate        time.Time  `json:"endDate"`
	Weeks          []PlanWeek `json:"weeks"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type PlanWeek struct {
	Number   int       `json:"number"`
	TargetKm float64   `json:"targetKm"`
	Workouts []Workout `json:"workouts"`
}

type Workout struct {
	Day        int     `json:"day"` // 1 = Monday
	Kind       string  `json:"kind"`
	DistanceKm float64 `json:"distanceKm"`
	Notes      string  `json:"notes,omitempty"`
}
