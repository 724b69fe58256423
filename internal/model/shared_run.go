package model

import "time"

// SharedRun is a run the sender pushed to one or more friends.
// A sender shares a given run at most once; re-sharing updates the message
// and recipient list.
type SharedRun struct {
	ID             string      `json:"id"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName,omitempty"`
	RunID          string      `json:"runId"`
	IdempotencyKey string      `json:"idempotencyKey"`
	Message        string      `json:"message"`
	RecipientIDs   []string    `json:"recipientIds"`
	Run            *RunSummary `json:"run,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}
