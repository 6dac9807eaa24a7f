package models

import (
	"encoding/json"
	"time"
)

// ActionType names a mutation that can wait in the outbox.
type ActionType string

const (
	ActionAddCost     ActionType = "add_cost"
	ActionCreateGroup ActionType = "create_group"
	ActionJoinGroup   ActionType = "join_group"
	ActionSettle      ActionType = "settle"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionAddCost, ActionCreateGroup, ActionJoinGroup, ActionSettle:
		return true
	}
	return false
}

// PendingAction is a mutation queued until the server confirms or permanently
// rejects it.
type PendingAction struct {
	// ID is locally generated and unique.
	ID string `json:"id"`

	Type ActionType `json:"type"`

	// GroupID is the group the action targets; may be a local id.
	GroupID string `json:"group_id,omitempty"`

	// Payload is the JSON-encoded request body.
	Payload json.RawMessage `json:"payload"`

	// IdempotencyKey is sent with the request so a replay after an ambiguous
	// failure does not create a second record.
	IdempotencyKey string `json:"idempotency_key"`

	// LocalRef is the local id of the optimistic cache entry the action
	// introduced, used to roll it back on cancel.
	LocalRef string `json:"local_ref,omitempty"`

	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
