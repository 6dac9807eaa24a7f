// Package service implements the authoritative ledger RPCs on top of a
// storage backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/tripledger/internal/api"
	"github.com/mmynk/tripledger/internal/ledger"
	"github.com/mmynk/tripledger/internal/middleware"
	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/notify"
	"github.com/mmynk/tripledger/internal/storage"
)

var _ api.LedgerServiceHandler = (*LedgerService)(nil)

// LedgerService implements api.LedgerServiceHandler.
type LedgerService struct {
	store storage.Store
	hub   *notify.Hub
}

// NewLedgerService creates a LedgerService. hub may be nil when nobody
// listens for change events.
func NewLedgerService(store storage.Store, hub *notify.Hub) *LedgerService {
	return &LedgerService{store: store, hub: hub}
}

func (s *LedgerService) publish(groupID string) {
	if s.hub != nil {
		s.hub.Publish(groupID)
	}
}

// requireCaller returns the authenticated member or an Unauthenticated error.
func requireCaller(ctx context.Context) (string, error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, errors.New("caller identity required"))
	}
	return memberID, nil
}

// storeError maps storage failures to Connect codes.
func storeError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// groupForMember loads a group and checks that memberID belongs to it.
func (s *LedgerService) groupForMember(ctx context.Context, groupID, memberID string) (*models.Group, error) {
	if groupID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, models.ErrNoGroup)
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err)
	}
	if !group.HasMember(memberID) {
		return nil, connect.NewError(connect.CodePermissionDenied,
			fmt.Errorf("member %s is not in group %s", memberID, groupID))
	}
	return group, nil
}

// checkRoster verifies every participant of rec belongs to the group's
// current roster.
func checkRoster(rec *models.CostRecord, group *models.Group) error {
	known := make(map[string]bool, group.Roster().Size())
	for _, p := range group.Roster().Participants() {
		known[p.Key()] = true
	}
	if rec.Payer != nil && !known[rec.Payer.Key()] {
		return fmt.Errorf("payer %s is not in the group", rec.Payer.Label())
	}
	for _, share := range rec.SplitAmong {
		if !known[share.Participant.Key()] {
			return fmt.Errorf("participant %s is not in the group", share.Participant.Label())
		}
	}
	return nil
}

// CreateCost records a new expense.
func (s *LedgerService) CreateCost(ctx context.Context, req *connect.Request[api.CreateCostRequest]) (*connect.Response[api.CreateCostResponse], error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}

	rec := req.Msg.Record
	if rec.Kind == "" {
		rec.Kind = models.KindCost
	}
	slog.Info("CreateCost request received",
		"group_id", rec.GroupID,
		"amount", rec.Amount.String(),
		"auto_split", rec.AutoSplit,
		"shares", len(rec.SplitAmong),
	)

	if rec.Kind != models.KindCost {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("settlements must use CreateSettlement"))
	}
	if err := rec.Validate(); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	group, err := s.groupForMember(ctx, rec.GroupID, caller)
	if err != nil {
		return nil, err
	}
	if err := checkRoster(&rec, group); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	rec.ID = models.RecordID{}
	rec.CreatedBy = caller
	created, err := s.store.CreateCost(ctx, &rec, req.Msg.IdempotencyKey)
	if err != nil {
		slog.Error("CreateCost failed", "error", err)
		return nil, storeError(err)
	}
	if created {
		slog.Info("Cost created", "cost_id", rec.ID.String(), "group_id", rec.GroupID)
		s.publish(rec.GroupID)
	} else {
		slog.Info("Duplicate cost ignored", "cost_id", rec.ID.String(), "idempotency_key", req.Msg.IdempotencyKey)
	}

	return connect.NewResponse(&api.CreateCostResponse{Record: rec, Created: created}), nil
}

// CreateSettlement records a payment from payer to receiver.
func (s *LedgerService) CreateSettlement(ctx context.Context, req *connect.Request[api.CreateSettlementRequest]) (*connect.Response[api.CreateSettlementResponse], error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	msg := req.Msg
	slog.Info("CreateSettlement request received",
		"group_id", msg.GroupID,
		"payer", msg.Payer.Key(),
		"receiver", msg.Receiver.Key(),
		"amount", msg.Amount.String(),
	)

	rec := models.NewSettlement(msg.GroupID, msg.Payer, msg.Receiver, msg.Amount)
	rec.Description = msg.Description
	rec.CreatedAt = msg.CreatedAt.UTC()
	if err := rec.Validate(); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if msg.Payer.Equal(msg.Receiver) {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("payer and receiver must differ"))
	}
	group, err := s.groupForMember(ctx, msg.GroupID, caller)
	if err != nil {
		return nil, err
	}
	if err := checkRoster(&rec, group); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	rec.CreatedBy = caller
	created, err := s.store.CreateCost(ctx, &rec, msg.IdempotencyKey)
	if err != nil {
		slog.Error("CreateSettlement failed", "error", err)
		return nil, storeError(err)
	}
	if created {
		slog.Info("Settlement created", "cost_id", rec.ID.String(), "group_id", rec.GroupID)
		s.publish(rec.GroupID)
	}

	return connect.NewResponse(&api.CreateSettlementResponse{Record: rec, Created: created}), nil
}

// ListCosts returns every record of a group, oldest first.
func (s *LedgerService) ListCosts(ctx context.Context, req *connect.Request[api.ListCostsRequest]) (*connect.Response[api.ListCostsResponse], error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.groupForMember(ctx, req.Msg.GroupID, caller); err != nil {
		return nil, err
	}

	records, err := s.store.ListCostsByGroup(ctx, req.Msg.GroupID)
	if err != nil {
		slog.Error("ListCosts failed", "group_id", req.Msg.GroupID, "error", err)
		return nil, storeError(err)
	}
	slog.Debug("ListCosts successful", "group_id", req.Msg.GroupID, "count", len(records))

	return connect.NewResponse(&api.ListCostsResponse{Records: records}), nil
}

// GetSummary computes balances and suggested transfers for a group.
func (s *LedgerService) GetSummary(ctx context.Context, req *connect.Request[api.GetSummaryRequest]) (*connect.Response[api.GetSummaryResponse], error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	group, err := s.groupForMember(ctx, req.Msg.GroupID, caller)
	if err != nil {
		return nil, err
	}

	records, err := s.store.ListCostsByGroup(ctx, group.ID)
	if err != nil {
		slog.Error("GetSummary failed", "group_id", group.ID, "error", err)
		return nil, storeError(err)
	}

	summary := ledger.Summarize(records, group.Roster())
	slog.Info("GetSummary successful",
		"group_id", group.ID,
		"records", summary.Records,
		"transfers", len(summary.Transfers),
	)
	return connect.NewResponse(api.SummaryFromLedger(summary)), nil
}

// ListGroups returns the caller's groups.
func (s *LedgerService) ListGroups(ctx context.Context, req *connect.Request[api.ListGroupsRequest]) (*connect.Response[api.ListGroupsResponse], error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}

	groups, err := s.store.ListGroupsForMember(ctx, caller)
	if err != nil {
		slog.Error("ListGroups failed", "error", err)
		return nil, storeError(err)
	}

	out := make([]models.Group, len(groups))
	for i, g := range groups {
		out[i] = *g
	}
	slog.Debug("ListGroups successful", "member_id", caller, "count", len(out))

	return connect.NewResponse(&api.ListGroupsResponse{Groups: out}), nil
}

// CreateGroup creates a group with the caller as its first member.
func (s *LedgerService) CreateGroup(ctx context.Context, req *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("CreateGroup request received",
		"name", req.Msg.Name,
		"members_count", len(req.Msg.Members),
		"guests_count", len(req.Msg.Guests),
	)

	name := strings.TrimSpace(req.Msg.Name)
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("group name is required"))
	}

	group := &models.Group{
		Name:      name,
		Members:   req.Msg.Members,
		CreatedBy: caller,
	}
	for _, guest := range req.Msg.Guests {
		guest = strings.TrimSpace(guest)
		if guest == "" {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("guest name is required"))
		}
		group.Guests = append(group.Guests, models.Guest{Name: guest})
	}

	created, err := s.store.CreateGroup(ctx, group, req.Msg.IdempotencyKey)
	if err != nil {
		slog.Error("CreateGroup failed", "error", err)
		return nil, storeError(err)
	}
	if created {
		slog.Info("Group created", "group_id", group.ID)
		s.publish(group.ID)
	}

	return connect.NewResponse(&api.CreateGroupResponse{Group: *group, Created: created}), nil
}

// JoinGroup adds the caller to a group.
func (s *LedgerService) JoinGroup(ctx context.Context, req *connect.Request[api.JoinGroupRequest]) (*connect.Response[api.JoinGroupResponse], error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	if req.Msg.GroupID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, models.ErrNoGroup)
	}

	group, err := s.store.AddMember(ctx, req.Msg.GroupID, caller)
	if err != nil {
		slog.Error("JoinGroup failed", "group_id", req.Msg.GroupID, "error", err)
		return nil, storeError(err)
	}
	slog.Info("Member joined group", "group_id", group.ID, "member_id", caller)
	s.publish(group.ID)

	return connect.NewResponse(&api.JoinGroupResponse{Group: *group}), nil
}

// AddGuest adds a guest to a group the caller belongs to.
func (s *LedgerService) AddGuest(ctx context.Context, req *connect.Request[api.AddGuestRequest]) (*connect.Response[api.AddGuestResponse], error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Msg.Name)
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("guest name is required"))
	}
	if _, err := s.groupForMember(ctx, req.Msg.GroupID, caller); err != nil {
		return nil, err
	}

	guest, err := s.store.AddGuest(ctx, req.Msg.GroupID, name)
	if err != nil {
		slog.Error("AddGuest failed", "group_id", req.Msg.GroupID, "error", err)
		return nil, storeError(err)
	}
	slog.Info("Guest added", "group_id", req.Msg.GroupID, "guest_id", guest.ID)
	s.publish(req.Msg.GroupID)

	return connect.NewResponse(&api.AddGuestResponse{Guest: guest}), nil
}

// GetGroup returns a group with its roster.
func (s *LedgerService) GetGroup(ctx context.Context, req *connect.Request[api.GetGroupRequest]) (*connect.Response[api.GetGroupResponse], error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	group, err := s.groupForMember(ctx, req.Msg.GroupID, caller)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&api.GetGroupResponse{Group: *group}), nil
}
