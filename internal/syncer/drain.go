package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/tripledger/internal/api"
	"github.com/mmynk/tripledger/internal/local"
	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/notify"
)

// commitFunc applies the cache side of a confirmed action. It runs in the
// same transaction that dequeues the action.
type commitFunc func(ctx context.Context, v view) error

// Sync replays the outbox in enqueue order, then refreshes every cached
// group from the store and notifies OnSyncComplete listeners.
//
// A permanently rejected action is dropped and reported; the pass goes on.
// A transient failure leaves the action queued, stops the pass and puts the
// controller offline. Listeners are only notified for completed passes.
func (c *Controller) Sync(ctx context.Context) (SyncResult, error) {
	if c.forced.Load() {
		return SyncResult{}, ErrOffline
	}

	c.mu.Lock()
	res, err := c.syncLocked(ctx)
	c.mu.Unlock()

	if err == nil {
		c.emit(res)
	}
	return res, err
}

func (c *Controller) syncLocked(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	prev := c.State()
	c.setState(StateDraining)
	c.metrics.Passes.Inc()
	defer c.updateDepth(ctx)

	actions, err := c.outbox.ListPending(ctx)
	if err != nil {
		c.setState(prev)
		return res, err
	}

	for i, a := range actions {
		commit, err := c.submitAction(ctx, a)
		switch {
		case err == nil:
			err = c.db.WithTx(ctx, func(tx *local.Tx) error {
				if commit != nil {
					if err := commit(ctx, view{c: tx.Cache}); err != nil {
						return err
					}
				}
				return tx.Outbox.Dequeue(ctx, a.ID)
			})
			if err != nil {
				c.setState(prev)
				res.Remaining = len(actions) - i
				return res, err
			}
			res.Applied = append(res.Applied, a)
			c.metrics.Applied.Inc()
			slog.Info("Pending action applied", "action_id", a.ID, "type", a.Type, "group_id", a.GroupID)

		case errors.Is(err, ErrPermanent):
			if derr := c.outbox.Dequeue(ctx, a.ID); derr != nil {
				c.setState(prev)
				res.Remaining = len(actions) - i
				return res, derr
			}
			res.Dropped = append(res.Dropped, Dropped{Action: a, Err: err})
			c.metrics.Dropped.Inc()
			slog.Error("Pending action dropped",
				"action_id", a.ID,
				"type", a.Type,
				"group_id", a.GroupID,
				"local_ref", a.LocalRef,
				"attempts", a.Attempts+1,
				"payload", string(a.Payload),
				"error", err,
			)

		case errors.Is(err, ErrStorage):
			c.setState(prev)
			res.Remaining = len(actions) - i
			return res, err

		default:
			if merr := c.outbox.MarkAttempt(ctx, a.ID, err); merr != nil {
				slog.Warn("Failed to record attempt", "action_id", a.ID, "error", merr)
			}
			c.metrics.TransientStops.Inc()
			c.setState(StateOffline)
			res.Remaining = len(actions) - i
			slog.Warn("Sync pass stopped",
				"action_id", a.ID,
				"type", a.Type,
				"remaining", res.Remaining,
				"error", err,
			)
			return res, err
		}
	}

	refreshed, err := c.refreshAllLocked(ctx)
	res.Refreshed = refreshed
	if err != nil {
		if errors.Is(err, ErrTransient) {
			c.setState(StateOffline)
		} else {
			c.setState(prev)
		}
		slog.Warn("Refresh after sync failed", "error", err)
		return res, err
	}

	c.setState(StateOnline)
	slog.Info("Sync complete",
		"applied", len(res.Applied),
		"dropped", len(res.Dropped),
		"refreshed", len(res.Refreshed),
	)
	return res, nil
}

// submitAction sends one queued action. The returned error is classified
// as permanent, transient or storage.
func (c *Controller) submitAction(ctx context.Context, a models.PendingAction) (commitFunc, error) {
	v := c.view()
	switch a.Type {
	case models.ActionAddCost, models.ActionSettle:
		var rec models.CostRecord
		if err := json.Unmarshal(a.Payload, &rec); err != nil {
			return nil, fmt.Errorf("%w: decode payload: %v", ErrPermanent, err)
		}
		resolved, err := v.resolveRecord(ctx, rec)
		if err != nil {
			return nil, classify(err)
		}
		_, err = c.send(ctx, a.Type, resolved, a.IdempotencyKey)
		return nil, classify(err)

	case models.ActionCreateGroup:
		var p createGroupPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: decode payload: %v", ErrPermanent, err)
		}
		req := p.Request
		req.IdempotencyKey = a.IdempotencyKey
		group, err := c.remote.CreateGroup(ctx, req)
		if err != nil {
			return nil, classify(err)
		}
		return c.adoptGroup(a.LocalRef, p.GuestIDs, group), nil

	case models.ActionJoinGroup:
		var req api.JoinGroupRequest
		if err := json.Unmarshal(a.Payload, &req); err != nil {
			return nil, fmt.Errorf("%w: decode payload: %v", ErrPermanent, err)
		}
		id, ok, err := v.resolveGroupID(ctx, req.GroupID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, classify(errUnmappedGroup)
		}
		_, err = c.remote.JoinGroup(ctx, id)
		return nil, classify(err)

	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrPermanent, a.Type)
	}
}

// adoptGroup records the server identity of an offline-created group and
// moves its cached records over to it.
func (c *Controller) adoptGroup(localID string, guestIDs []string, group models.Group) commitFunc {
	m := idMapping{GroupID: group.ID, Guests: make(map[string]string, len(guestIDs))}
	for i, id := range guestIDs {
		if i < len(group.Guests) {
			m.Guests[id] = group.Guests[i].ID
		}
	}

	return func(ctx context.Context, v view) error {
		if err := v.saveMapping(ctx, localID, m); err != nil {
			return err
		}
		recs, err := v.costs(ctx, localID)
		if err != nil {
			return err
		}
		moved := make([]models.CostRecord, 0, len(recs))
		for _, r := range recs {
			resolved, err := v.resolveRecord(ctx, r)
			if err != nil {
				return err
			}
			moved = append(moved, resolved)
		}
		if err := v.removeGroup(ctx, localID); err != nil {
			return err
		}
		if err := v.saveGroup(ctx, group); err != nil {
			return err
		}
		slog.Info("Local group created remotely", "local_id", localID, "group_id", group.ID)
		return v.saveCosts(ctx, group.ID, moved)
	}
}

// refreshAllLocked overwrites the cache with the caller's groups and their
// records, keeps groups that still have queued actions, and evicts the rest.
func (c *Controller) refreshAllLocked(ctx context.Context) ([]string, error) {
	groups, err := c.remote.ListGroups(ctx)
	if err != nil {
		return nil, classify(err)
	}
	pending, err := c.outbox.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	v := c.view()
	listed := make(map[string]bool, len(groups))
	var refreshed []string
	for _, g := range groups {
		listed[g.ID] = true
		recs, err := c.remote.ListCosts(ctx, g.ID)
		if err != nil {
			err = classify(err)
			if errors.Is(err, ErrPermanent) {
				slog.Warn("Skipping group refresh", "group_id", g.ID, "error", err)
				continue
			}
			return refreshed, err
		}
		recs, err = overlay(ctx, v, g.ID, recs, pending)
		if err != nil {
			return refreshed, err
		}
		err = c.db.WithTx(ctx, func(tx *local.Tx) error {
			tv := view{c: tx.Cache}
			if err := tv.putGroup(ctx, g); err != nil {
				return err
			}
			return tv.saveCosts(ctx, g.ID, recs)
		})
		if err != nil {
			return refreshed, err
		}
		refreshed = append(refreshed, g.ID)
	}

	list := append([]models.Group(nil), groups...)
	ids, err := v.cachedGroupIDs(ctx)
	if err != nil {
		return refreshed, err
	}
	for _, id := range ids {
		if listed[id] {
			continue
		}
		if hasPending(pending, id) {
			g, ok, err := v.group(ctx, id)
			if err != nil {
				return refreshed, err
			}
			if ok {
				list = append(list, g)
			}
			continue
		}
		slog.Debug("Evicting stale group", "group_id", id)
		if err := v.removeGroup(ctx, id); err != nil {
			return refreshed, err
		}
	}
	return refreshed, v.saveGroups(ctx, list)
}

// refreshGroupLocked overwrites one group's cache entries from the store.
// Groups not yet created remotely are left alone.
func (c *Controller) refreshGroupLocked(ctx context.Context, groupID string) error {
	v := c.view()
	id, ok, err := v.resolveGroupID(ctx, groupID)
	if err != nil || !ok {
		return err
	}

	g, err := c.remote.GetGroup(ctx, id)
	if err != nil {
		return c.refreshFailure(err)
	}
	recs, err := c.remote.ListCosts(ctx, id)
	if err != nil {
		return c.refreshFailure(err)
	}
	pending, err := c.outbox.ListPending(ctx)
	if err != nil {
		return err
	}
	recs, err = overlay(ctx, v, id, recs, pending)
	if err != nil {
		return err
	}

	return c.db.WithTx(ctx, func(tx *local.Tx) error {
		tv := view{c: tx.Cache}
		if err := tv.saveGroup(ctx, g); err != nil {
			return err
		}
		return tv.saveCosts(ctx, id, recs)
	})
}

func (c *Controller) refreshFailure(err error) error {
	err = classify(err)
	if errors.Is(err, ErrTransient) {
		c.setState(StateOffline)
	}
	return err
}

// overlay appends still-queued records of groupID to the authoritative
// list so unsynced changes stay visible.
func overlay(ctx context.Context, v view, groupID string, recs []models.CostRecord, pending []models.PendingAction) ([]models.CostRecord, error) {
	seen := make(map[models.RecordID]bool, len(recs))
	for _, r := range recs {
		seen[r.ID] = true
	}
	for _, a := range pending {
		if a.Type != models.ActionAddCost && a.Type != models.ActionSettle {
			continue
		}
		var rec models.CostRecord
		if err := json.Unmarshal(a.Payload, &rec); err != nil {
			continue
		}
		resolved, err := v.resolveRecord(ctx, rec)
		if errors.Is(err, errUnmappedGroup) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if resolved.GroupID == groupID && !seen[resolved.ID] {
			recs = append(recs, resolved)
			seen[resolved.ID] = true
		}
	}
	return recs, nil
}

func hasPending(pending []models.PendingAction, groupID string) bool {
	for _, a := range pending {
		if a.GroupID == groupID {
			return true
		}
	}
	return false
}

// RefreshGroup re-fetches one group and notifies listeners.
func (c *Controller) RefreshGroup(ctx context.Context, groupID string) error {
	if c.forced.Load() {
		return ErrOffline
	}

	c.mu.Lock()
	err := c.refreshGroupLocked(ctx, groupID)
	c.mu.Unlock()

	if err == nil {
		c.emit(SyncResult{Refreshed: []string{groupID}})
	}
	return err
}

// Watch consumes change notifications until ctx is done or events closes.
// Each event for a cached group triggers a refresh of that group; delivery
// is a cue, not a guarantee.
func (c *Controller) Watch(ctx context.Context, events <-chan notify.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != notify.EventGroupChanged {
				continue
			}
			if _, cached, err := c.view().group(ctx, ev.GroupID); err != nil || !cached {
				continue
			}
			if err := c.RefreshGroup(ctx, ev.GroupID); err != nil {
				slog.Warn("Refresh on notification failed", "group_id", ev.GroupID, "error", err)
			}
		}
	}
}

// Run attempts a sync every interval until ctx is done. Ticks are skipped
// while the controller has been told it is offline.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.forced.Load() {
				continue
			}
			if _, err := c.Sync(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("Periodic sync failed", "error", err)
			}
		}
	}
}
