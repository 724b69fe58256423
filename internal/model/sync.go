package model

// UpsertOutcome tells the caller which branch of an idempotent upload ran.
// Handlers map Created to 201 and the other two to 200.
type UpsertOutcome int

const (
	// Created means a new record was inserted.
	Created UpsertOutcome = iota
	// Updated means the record at the natural key was overwritten.
	Updated
	// Existing means the idempotency key had already been used; the stored
	// record is returned untouched.
	Existing
)

func (o UpsertOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Existing:
		return "existing"
	default:
		return "unknown"
	}
}
