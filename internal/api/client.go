package api

import (
	"context"

	"connectrpc.com/connect"

	"github.com/mmynk/tripledger/internal/models"
)

// Client is a convenience wrapper over LedgerServiceClient that speaks in
// domain types.
type Client struct {
	svc *LedgerServiceClient
}

// NewClient returns a client for the ledger service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	return &Client{svc: NewLedgerServiceClient(httpClient, baseURL, opts...)}
}

func (c *Client) CreateCost(ctx context.Context, rec models.CostRecord, idempotencyKey string) (models.CostRecord, error) {
	resp, err := c.svc.CreateCost(ctx, connect.NewRequest(&CreateCostRequest{Record: rec, IdempotencyKey: idempotencyKey}))
	if err != nil {
		return models.CostRecord{}, err
	}
	return resp.Msg.Record, nil
}

func (c *Client) CreateSettlement(ctx context.Context, req CreateSettlementRequest) (models.CostRecord, error) {
	resp, err := c.svc.CreateSettlement(ctx, connect.NewRequest(&req))
	if err != nil {
		return models.CostRecord{}, err
	}
	return resp.Msg.Record, nil
}

func (c *Client) ListCosts(ctx context.Context, groupID string) ([]models.CostRecord, error) {
	resp, err := c.svc.ListCosts(ctx, connect.NewRequest(&ListCostsRequest{GroupID: groupID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Records, nil
}

func (c *Client) GetSummary(ctx context.Context, groupID string) (*GetSummaryResponse, error) {
	resp, err := c.svc.GetSummary(ctx, connect.NewRequest(&GetSummaryRequest{GroupID: groupID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) ListGroups(ctx context.Context) ([]models.Group, error) {
	resp, err := c.svc.ListGroups(ctx, connect.NewRequest(&ListGroupsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Groups, nil
}

func (c *Client) CreateGroup(ctx context.Context, req CreateGroupRequest) (models.Group, error) {
	resp, err := c.svc.CreateGroup(ctx, connect.NewRequest(&req))
	if err != nil {
		return models.Group{}, err
	}
	return resp.Msg.Group, nil
}

func (c *Client) JoinGroup(ctx context.Context, groupID string) (models.Group, error) {
	resp, err := c.svc.JoinGroup(ctx, connect.NewRequest(&JoinGroupRequest{GroupID: groupID}))
	if err != nil {
		return models.Group{}, err
	}
	return resp.Msg.Group, nil
}

func (c *Client) AddGuest(ctx context.Context, groupID, name string) (models.Guest, error) {
	resp, err := c.svc.AddGuest(ctx, connect.NewRequest(&AddGuestRequest{GroupID: groupID, Name: name}))
	if err != nil {
		return models.Guest{}, err
	}
	return resp.Msg.Guest, nil
}

func (c *Client) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	resp, err := c.svc.GetGroup(ctx, connect.NewRequest(&GetGroupRequest{GroupID: groupID}))
	if err != nil {
		return models.Group{}, err
	}
	return resp.Msg.Group, nil
}
