package api

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// LedgerServiceName is the fully-qualified name of the ledger service.
const LedgerServiceName = "tripledger.v1.LedgerService"

// Procedure paths, one per RPC.
const (
	CreateCostProcedure       = "/" + LedgerServiceName + "/CreateCost"
	CreateSettlementProcedure = "/" + LedgerServiceName + "/CreateSettlement"
	ListCostsProcedure        = "/" + LedgerServiceName + "/ListCosts"
	GetSummaryProcedure       = "/" + LedgerServiceName + "/GetSummary"
	ListGroupsProcedure       = "/" + LedgerServiceName + "/ListGroups"
	CreateGroupProcedure      = "/" + LedgerServiceName + "/CreateGroup"
	JoinGroupProcedure        = "/" + LedgerServiceName + "/JoinGroup"
	AddGuestProcedure         = "/" + LedgerServiceName + "/AddGuest"
	GetGroupProcedure         = "/" + LedgerServiceName + "/GetGroup"
)

// LedgerServiceHandler is implemented by the authoritative store.
type LedgerServiceHandler interface {
	CreateCost(context.Context, *connect.Request[CreateCostRequest]) (*connect.Response[CreateCostResponse], error)
	CreateSettlement(context.Context, *connect.Request[CreateSettlementRequest]) (*connect.Response[CreateSettlementResponse], error)
	ListCosts(context.Context, *connect.Request[ListCostsRequest]) (*connect.Response[ListCostsResponse], error)
	GetSummary(context.Context, *connect.Request[GetSummaryRequest]) (*connect.Response[GetSummaryResponse], error)
	ListGroups(context.Context, *connect.Request[ListGroupsRequest]) (*connect.Response[ListGroupsResponse], error)
	CreateGroup(context.Context, *connect.Request[CreateGroupRequest]) (*connect.Response[CreateGroupResponse], error)
	JoinGroup(context.Context, *connect.Request[JoinGroupRequest]) (*connect.Response[JoinGroupResponse], error)
	AddGuest(context.Context, *connect.Request[AddGuestRequest]) (*connect.Response[AddGuestResponse], error)
	GetGroup(context.Context, *connect.Request[GetGroupRequest]) (*connect.Response[GetGroupResponse], error)
}

// NewLedgerServiceHandler builds an HTTP handler serving every ledger RPC.
// It returns the path prefix on which to mount the handler.
func NewLedgerServiceHandler(svc LedgerServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateCostProcedure, connect.NewUnaryHandler(CreateCostProcedure, svc.CreateCost, opts...))
	mux.Handle(CreateSettlementProcedure, connect.NewUnaryHandler(CreateSettlementProcedure, svc.CreateSettlement, opts...))
	mux.Handle(ListCostsProcedure, connect.NewUnaryHandler(ListCostsProcedure, svc.ListCosts, opts...))
	mux.Handle(GetSummaryProcedure, connect.NewUnaryHandler(GetSummaryProcedure, svc.GetSummary, opts...))
	mux.Handle(ListGroupsProcedure, connect.NewUnaryHandler(ListGroupsProcedure, svc.ListGroups, opts...))
	mux.Handle(CreateGroupProcedure, connect.NewUnaryHandler(CreateGroupProcedure, svc.CreateGroup, opts...))
	mux.Handle(JoinGroupProcedure, connect.NewUnaryHandler(JoinGroupProcedure, svc.JoinGroup, opts...))
	mux.Handle(AddGuestProcedure, connect.NewUnaryHandler(AddGuestProcedure, svc.AddGuest, opts...))
	mux.Handle(GetGroupProcedure, connect.NewUnaryHandler(GetGroupProcedure, svc.GetGroup, opts...))

	return "/" + LedgerServiceName + "/", mux
}

// LedgerServiceClient calls the ledger RPCs.
type LedgerServiceClient struct {
	createCost       *connect.Client[CreateCostRequest, CreateCostResponse]
	createSettlement *connect.Client[CreateSettlementRequest, CreateSettlementResponse]
	listCosts        *connect.Client[ListCostsRequest, ListCostsResponse]
	getSummary       *connect.Client[GetSummaryRequest, GetSummaryResponse]
	listGroups       *connect.Client[ListGroupsRequest, ListGroupsResponse]
	createGroup      *connect.Client[CreateGroupRequest, CreateGroupResponse]
	joinGroup        *connect.Client[JoinGroupRequest, JoinGroupResponse]
	addGuest         *connect.Client[AddGuestRequest, AddGuestResponse]
	getGroup         *connect.Client[GetGroupRequest, GetGroupResponse]
}

// NewLedgerServiceClient constructs a client for the service at baseURL
// (e.g. "http://localhost:8080").
func NewLedgerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *LedgerServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &LedgerServiceClient{
		createCost:       connect.NewClient[CreateCostRequest, CreateCostResponse](httpClient, baseURL+CreateCostProcedure, opts...),
		createSettlement: connect.NewClient[CreateSettlementRequest, CreateSettlementResponse](httpClient, baseURL+CreateSettlementProcedure, opts...),
		listCosts:        connect.NewClient[ListCostsRequest, ListCostsResponse](httpClient, baseURL+ListCostsProcedure, opts...),
		getSummary:       connect.NewClient[GetSummaryRequest, GetSummaryResponse](httpClient, baseURL+GetSummaryProcedure, opts...),
		listGroups:       connect.NewClient[ListGroupsRequest, ListGroupsResponse](httpClient, baseURL+ListGroupsProcedure, opts...),
		createGroup:      connect.NewClient[CreateGroupRequest, CreateGroupResponse](httpClient, baseURL+CreateGroupProcedure, opts...),
		joinGroup:        connect.NewClient[JoinGroupRequest, JoinGroupResponse](httpClient, baseURL+JoinGroupProcedure, opts...),
		addGuest:         connect.NewClient[AddGuestRequest, AddGuestResponse](httpClient, baseURL+AddGuestProcedure, opts...),
		getGroup:         connect.NewClient[GetGroupRequest, GetGroupResponse](httpClient, baseURL+GetGroupProcedure, opts...),
	}
}

func (c *LedgerServiceClient) CreateCost(ctx context.Context, req *connect.Request[CreateCostRequest]) (*connect.Response[CreateCostResponse], error) {
	return c.createCost.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) CreateSettlement(ctx context.Context, req *connect.Request[CreateSettlementRequest]) (*connect.Response[CreateSettlementResponse], error) {
	return c.createSettlement.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListCosts(ctx context.Context, req *connect.Request[ListCostsRequest]) (*connect.Response[ListCostsResponse], error) {
	return c.listCosts.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetSummary(ctx context.Context, req *connect.Request[GetSummaryRequest]) (*connect.Response[GetSummaryResponse], error) {
	return c.getSummary.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListGroups(ctx context.Context, req *connect.Request[ListGroupsRequest]) (*connect.Response[ListGroupsResponse], error) {
	return c.listGroups.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) CreateGroup(ctx context.Context, req *connect.Request[CreateGroupRequest]) (*connect.Response[CreateGroupResponse], error) {
	return c.createGroup.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) JoinGroup(ctx context.Context, req *connect.Request[JoinGroupRequest]) (*connect.Response[JoinGroupResponse], error) {
	return c.joinGroup.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) AddGuest(ctx context.Context, req *connect.Request[AddGuestRequest]) (*connect.Response[AddGuestResponse], error) {
	return c.addGuest.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetGroup(ctx context.Context, req *connect.Request[GetGroupRequest]) (*connect.Response[GetGroupResponse], error) {
	return c.getGroup.CallUnary(ctx, req)
}
