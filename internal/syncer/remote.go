package syncer

import (
	"context"

	"github.com/mmynk/tripledger/internal/api"
	"github.com/mmynk/tripledger/internal/models"
)

// Remote is the authoritative ledger store as seen by the controller.
// *api.Client implements it.
type Remote interface {
	CreateCost(ctx context.Context, rec models.CostRecord, idempotencyKey string) (models.CostRecord, error)
	CreateSettlement(ctx context.Context, req api.CreateSettlementRequest) (models.CostRecord, error)
	ListCosts(ctx context.Context, groupID string) ([]models.CostRecord, error)
	ListGroups(ctx context.Context) ([]models.Group, error)
	CreateGroup(ctx context.Context, req api.CreateGroupRequest) (models.Group, error)
	JoinGroup(ctx context.Context, groupID string) (models.Group, error)
	GetGroup(ctx context.Context, groupID string) (models.Group, error)
}

var _ Remote = (*api.Client)(nil)

// createGroupPayload is the queued form of an offline group creation.
// GuestIDs holds the local guest tokens, parallel to Request.Guests.
type createGroupPayload struct {
	Request  api.CreateGroupRequest `json:"request"`
	GuestIDs []string               `json:"guest_ids,omitempty"`
}
