package model

import "time"

// Payload caps for a single run upload.
const (
	MaxTrackPoints = 100000
	MaxSplits      = 1000
)

// Run is a recorded workout synced from the phone or watch.
//
// The ID is the natural key: clients may pick it themselves (so an offline
// watch can reference the run before it ever reaches the server) or leave it
// empty and let the server assign one.
type Run struct {
	ID              string       `json:"id"`
	OwnerID         string       `json:"ownerId"`
	IdempotencyKey  string       `json:"idempotencyKey"`
	Title           string       `json:"title"`
	DistanceKm      float64      `json:"distanceKm"`
	DurationSeconds float64      `json:"durationSeconds"`
	StartedAt       time.Time    `json:"startedAt"`
	TrackPoints     []TrackPoint `json:"trackPoints"`
	Splits          []Split      `json:"splits"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// TrackPoint is one GPS sample.
type TrackPoint struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Elevation *float64  `json:"elevation,omitempty"`
	HeartRate *int      `json:"heartRate,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Split is the time taken over one distance segment (usually a kilometre).
type Split struct {
	Index           int     `json:"index"`
	DistanceKm      float64 `json:"distanceKm"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// RunSummary is the part of a run shown alongside a share.
type RunSummary struct {
	Title           string    `json:"title"`
	DistanceKm      float64   `json:"distanceKm"`
	DurationSeconds float64   `json:"durationSeconds"`
	StartedAt       time.Time `json:"startedAt"`
}
