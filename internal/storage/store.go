// Package storage provides abstractions for the authoritative ledger store.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/tripledger/internal/models"
)

// ErrNotFound is returned when a group or record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations behind the ledger service.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the service layer.
type Store interface {
	// CreateGroup persists a new group with its creator as first member.
	// ID, CreatedAt and RosterVersion are populated by the store. If
	// idempotencyKey was already used, the earlier group is loaded into group
	// and created is false.
	CreateGroup(ctx context.Context, group *models.Group, idempotencyKey string) (created bool, err error)

	// GetGroup retrieves a group with its full roster.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// ListGroupsForMember returns the groups memberID belongs to.
	ListGroupsForMember(ctx context.Context, memberID string) ([]*models.Group, error)

	// AddMember adds memberID to the group. Adding an existing member is a no-op.
	AddMember(ctx context.Context, groupID, memberID string) (*models.Group, error)

	// AddGuest adds a guest with a newly assigned token.
	AddGuest(ctx context.Context, groupID, name string) (models.Guest, error)

	// CreateCost persists a cost or settlement. ID, CreatedAt and RosterVersion
	// are populated by the store. A reused idempotencyKey loads the earlier
	// record into rec and returns created=false.
	CreateCost(ctx context.Context, rec *models.CostRecord, idempotencyKey string) (created bool, err error)

	// ListCostsByGroup returns all records of a group, oldest first.
	ListCostsByGroup(ctx context.Context, groupID string) ([]models.CostRecord, error)

	// Close releases any resources held by the store.
	Close() error
}
