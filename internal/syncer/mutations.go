package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/tripledger/internal/api"
	"github.com/mmynk/tripledger/internal/local"
	"github.com/mmynk/tripledger/internal/models"
)

// direct reports whether a mutation may go straight to the store. Anything
// queued must replay first, so a non-empty outbox forces the queued path.
func (c *Controller) direct(ctx context.Context) (bool, error) {
	if !c.online() {
		return false, nil
	}
	n, err := c.outbox.Len(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// directFailure classifies a failed online mutation. Transient failures
// flip the controller offline; the mutation is not queued.
func (c *Controller) directFailure(op string, err error) error {
	err = classify(err)
	if errors.Is(err, ErrTransient) {
		c.setState(StateOffline)
		slog.Warn(op+" failed, store unreachable", "error", err)
	} else {
		slog.Error(op+" rejected", "error", err)
	}
	return err
}

// AddCost records an expense. Offline it is applied to the cache under a
// local id and queued; online it is submitted directly.
func (c *Controller) AddCost(ctx context.Context, rec models.CostRecord) (models.CostRecord, error) {
	if rec.Kind == "" {
		rec.Kind = models.KindCost
	}
	if rec.Kind != models.KindCost {
		return models.CostRecord{}, validationError(errors.New("use RecordSettlement for settlements"))
	}
	if err := rec.Validate(); err != nil {
		return models.CostRecord{}, validationError(err)
	}
	return c.mutateRecord(ctx, models.ActionAddCost, rec)
}

// RecordSettlement records that payer paid amount to receiver.
func (c *Controller) RecordSettlement(ctx context.Context, groupID string, payer, receiver models.Participant, amount decimal.Decimal) (models.CostRecord, error) {
	rec := models.NewSettlement(groupID, payer, receiver, amount)
	if err := rec.Validate(); err != nil {
		return models.CostRecord{}, validationError(err)
	}
	if payer.Equal(receiver) {
		return models.CostRecord{}, validationError(errors.New("payer and receiver must differ"))
	}
	return c.mutateRecord(ctx, models.ActionSettle, rec)
}

func (c *Controller) mutateRecord(ctx context.Context, typ models.ActionType, rec models.CostRecord) (models.CostRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec.ID = models.RecordID{}
	rec.CreatedBy = c.member
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	// A local group that already exists remotely is addressed by its server id.
	resolved, err := c.view().resolveRecord(ctx, rec)
	switch {
	case err == nil:
		rec = resolved
	case !errors.Is(err, errUnmappedGroup):
		return models.CostRecord{}, err
	}

	direct, err := c.direct(ctx)
	if err != nil {
		return models.CostRecord{}, err
	}
	if direct {
		return c.submitRecord(ctx, typ, rec)
	}

	rec.ID = models.LocalID(uuid.NewString())
	err = c.db.WithTx(ctx, func(tx *local.Tx) error {
		if err := (view{c: tx.Cache}).appendRecord(ctx, rec); err != nil {
			return err
		}
		_, err := tx.Outbox.Enqueue(ctx, typ, rec, local.EnqueueOptions{
			GroupID:  rec.GroupID,
			LocalRef: rec.ID.String(),
		})
		return err
	})
	if err != nil {
		slog.Error("Failed to queue action", "type", typ, "group_id", rec.GroupID, "error", err)
		return models.CostRecord{}, err
	}
	c.updateDepth(ctx)
	slog.Info("Action queued", "type", typ, "group_id", rec.GroupID, "local_id", rec.ID.String())
	return rec, nil
}

// submitRecord sends a cost or settlement to the store and refreshes the
// group's cache entries from the authoritative response.
func (c *Controller) submitRecord(ctx context.Context, typ models.ActionType, rec models.CostRecord) (models.CostRecord, error) {
	resolved, err := c.view().resolveRecord(ctx, rec)
	if err != nil {
		return models.CostRecord{}, classify(err)
	}

	created, err := c.send(ctx, typ, resolved, uuid.NewString())
	if err != nil {
		return models.CostRecord{}, c.directFailure(string(typ), err)
	}

	if err := c.refreshGroupLocked(ctx, created.GroupID); err != nil {
		slog.Warn("Refresh after create failed", "group_id", created.GroupID, "error", err)
		if err := c.view().appendRecord(ctx, created); err != nil {
			return created, err
		}
	}
	return created, nil
}

// send performs the store call for a resolved cost or settlement.
func (c *Controller) send(ctx context.Context, typ models.ActionType, rec models.CostRecord, key string) (models.CostRecord, error) {
	rec.ID = models.RecordID{}
	if typ != models.ActionSettle {
		return c.remote.CreateCost(ctx, rec, key)
	}
	if rec.Payer == nil || len(rec.SplitAmong) != 1 {
		return models.CostRecord{}, fmt.Errorf("%w: malformed settlement", ErrPermanent)
	}
	return c.remote.CreateSettlement(ctx, api.CreateSettlementRequest{
		GroupID:        rec.GroupID,
		Payer:          *rec.Payer,
		Receiver:       rec.SplitAmong[0].Participant,
		Amount:         rec.Amount,
		Description:    rec.Description,
		CreatedAt:      rec.CreatedAt,
		IdempotencyKey: key,
	})
}

// CreateGroup creates a group with the local member, the given members and
// named guests. Offline the group gets a local id usable by later mutations.
func (c *Controller) CreateGroup(ctx context.Context, name string, members, guests []string) (models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Group{}, validationError(errors.New("group name is required"))
	}
	for _, g := range guests {
		if strings.TrimSpace(g) == "" {
			return models.Group{}, validationError(errors.New("guest name is required"))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	req := api.CreateGroupRequest{Name: name, Members: members, Guests: guests}

	direct, err := c.direct(ctx)
	if err != nil {
		return models.Group{}, err
	}
	if direct {
		req.IdempotencyKey = uuid.NewString()
		group, err := c.remote.CreateGroup(ctx, req)
		if err != nil {
			return models.Group{}, c.directFailure("CreateGroup", err)
		}
		err = c.db.WithTx(ctx, func(tx *local.Tx) error {
			v := view{c: tx.Cache}
			if err := v.saveGroup(ctx, group); err != nil {
				return err
			}
			return v.saveCosts(ctx, group.ID, nil)
		})
		return group, err
	}

	group := models.Group{
		ID:        models.LocalID(uuid.NewString()).String(),
		Name:      name,
		CreatedBy: c.member,
		CreatedAt: time.Now().Unix(),
	}
	if c.member != "" {
		group.Members = append(group.Members, c.member)
	}
	for _, m := range members {
		if !group.HasMember(m) {
			group.Members = append(group.Members, m)
		}
	}
	payload := createGroupPayload{Request: req}
	for _, g := range guests {
		guest := models.Guest{ID: uuid.NewString(), Name: g}
		group.Guests = append(group.Guests, guest)
		payload.GuestIDs = append(payload.GuestIDs, guest.ID)
	}

	err = c.db.WithTx(ctx, func(tx *local.Tx) error {
		v := view{c: tx.Cache}
		if err := v.saveGroup(ctx, group); err != nil {
			return err
		}
		if err := v.saveCosts(ctx, group.ID, nil); err != nil {
			return err
		}
		_, err := tx.Outbox.Enqueue(ctx, models.ActionCreateGroup, payload, local.EnqueueOptions{
			GroupID:  group.ID,
			LocalRef: group.ID,
		})
		return err
	})
	if err != nil {
		slog.Error("Failed to queue action", "type", models.ActionCreateGroup, "error", err)
		return models.Group{}, err
	}
	c.updateDepth(ctx)
	slog.Info("Action queued", "type", models.ActionCreateGroup, "local_id", group.ID)
	return group, nil
}

// JoinGroup adds the local member to a group.
func (c *Controller) JoinGroup(ctx context.Context, groupID string) (models.Group, error) {
	if groupID == "" {
		return models.Group{}, validationError(models.ErrNoGroup)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	direct, err := c.direct(ctx)
	if err != nil {
		return models.Group{}, err
	}
	if direct {
		id, _, err := c.view().resolveGroupID(ctx, groupID)
		if err != nil {
			return models.Group{}, err
		}
		group, err := c.remote.JoinGroup(ctx, id)
		if err != nil {
			return models.Group{}, c.directFailure("JoinGroup", err)
		}
		if err := c.refreshGroupLocked(ctx, group.ID); err != nil {
			slog.Warn("Refresh after join failed", "group_id", group.ID, "error", err)
			return group, c.view().saveGroup(ctx, group)
		}
		return group, nil
	}

	var group models.Group
	err = c.db.WithTx(ctx, func(tx *local.Tx) error {
		v := view{c: tx.Cache}
		g, ok, err := v.group(ctx, groupID)
		if err != nil {
			return err
		}
		// LocalRef is only set when the join changed the cache, so a cancel
		// never strips a membership that predates it.
		var ref string
		if !ok {
			g = models.Group{ID: groupID}
			ref = groupID
		}
		if c.member != "" && !g.HasMember(c.member) {
			g.Members = append(g.Members, c.member)
			ref = groupID
		}
		group = g
		if err := v.saveGroup(ctx, g); err != nil {
			return err
		}
		_, err = tx.Outbox.Enqueue(ctx, models.ActionJoinGroup, api.JoinGroupRequest{GroupID: groupID}, local.EnqueueOptions{
			GroupID:  groupID,
			LocalRef: ref,
		})
		return err
	})
	if err != nil {
		slog.Error("Failed to queue action", "type", models.ActionJoinGroup, "error", err)
		return models.Group{}, err
	}
	c.updateDepth(ctx)
	slog.Info("Action queued", "type", models.ActionJoinGroup, "group_id", groupID)
	return group, nil
}

// Cancel abandons a queued action and rolls back its optimistic cache
// entry. Cancelling a group creation also cancels the actions queued
// against that group. It returns every action removed.
func (c *Controller) Cancel(ctx context.Context, actionID string) ([]models.PendingAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	action, ok, err := c.outbox.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}

	var cancelled []models.PendingAction
	err = c.db.WithTx(ctx, func(tx *local.Tx) error {
		targets := []models.PendingAction{action}
		if action.Type == models.ActionCreateGroup {
			pending, err := tx.Outbox.ListPending(ctx)
			if err != nil {
				return err
			}
			for _, a := range pending {
				if a.ID != action.ID && a.GroupID == action.GroupID {
					targets = append(targets, a)
				}
			}
		}
		v := view{c: tx.Cache}
		for _, a := range targets {
			if err := tx.Outbox.Dequeue(ctx, a.ID); err != nil {
				return err
			}
			if err := c.rollback(ctx, v, a); err != nil {
				return err
			}
		}
		cancelled = targets
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.updateDepth(ctx)
	for _, a := range cancelled {
		slog.Info("Pending action cancelled", "action_id", a.ID, "type", a.Type, "group_id", a.GroupID)
	}
	return cancelled, nil
}

// rollback undoes the optimistic cache change made when a was queued.
func (c *Controller) rollback(ctx context.Context, v view, a models.PendingAction) error {
	switch a.Type {
	case models.ActionAddCost, models.ActionSettle:
		id := models.ParseRecordID(a.LocalRef)
		if err := v.removeRecord(ctx, a.GroupID, id); err != nil {
			return err
		}
		// The optimistic record moves with its group once the group exists remotely.
		remoteID, ok, err := v.resolveGroupID(ctx, a.GroupID)
		if err != nil || !ok || remoteID == a.GroupID {
			return err
		}
		return v.removeRecord(ctx, remoteID, id)
	case models.ActionCreateGroup:
		return v.removeGroup(ctx, a.LocalRef)
	case models.ActionJoinGroup:
		if a.LocalRef == "" {
			return nil
		}
		id, _, err := v.resolveGroupID(ctx, a.LocalRef)
		if err != nil {
			return err
		}
		g, ok, err := v.group(ctx, id)
		if err != nil || !ok {
			return err
		}
		kept := g.Members[:0]
		for _, m := range g.Members {
			if m != c.member {
				kept = append(kept, m)
			}
		}
		g.Members = kept
		// A group known only through the queued join is a placeholder.
		if g.Name == "" && g.CreatedAt == 0 {
			return v.removeGroup(ctx, g.ID)
		}
		return v.saveGroup(ctx, g)
	default:
		return nil
	}
}
