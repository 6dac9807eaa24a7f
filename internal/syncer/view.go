package syncer

import (
	"context"
	"strings"

	"github.com/mmynk/tripledger/internal/local"
	"github.com/mmynk/tripledger/internal/models"
)

// Cache layout. Values are the JSON of the last known authoritative state,
// with optimistic records layered on top.
const (
	keyGroups   = "groups"
	prefixGroup = "group/"
	prefixCosts = "costs/"
	prefixIDMap = "idmap/"
)

func groupKey(id string) string { return prefixGroup + id }
func costsKey(id string) string { return prefixCosts + id }
func idMapKey(id string) string { return prefixIDMap + id }

// idMapping resolves an offline-created group to its server identity.
type idMapping struct {
	GroupID string            `json:"group_id"`
	Guests  map[string]string `json:"guests,omitempty"`
}

// view gives typed access to cache entries. It works on the plain cache or
// on a transaction's cache.
type view struct {
	c *local.Cache
}

func (v view) group(ctx context.Context, id string) (models.Group, bool, error) {
	var g models.Group
	ok, err := v.c.LoadJSON(ctx, groupKey(id), &g)
	return g, ok, err
}

// putGroup writes the group entry only.
func (v view) putGroup(ctx context.Context, g models.Group) error {
	return v.c.SaveJSON(ctx, groupKey(g.ID), g)
}

// saveGroup writes the group entry and upserts it into the group list.
func (v view) saveGroup(ctx context.Context, g models.Group) error {
	if err := v.putGroup(ctx, g); err != nil {
		return err
	}
	list, err := v.groups(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range list {
		if list[i].ID == g.ID {
			list[i] = g
			replaced = true
		}
	}
	if !replaced {
		list = append(list, g)
	}
	return v.saveGroups(ctx, list)
}

func (v view) groups(ctx context.Context) ([]models.Group, error) {
	var list []models.Group
	_, err := v.c.LoadJSON(ctx, keyGroups, &list)
	return list, err
}

func (v view) saveGroups(ctx context.Context, list []models.Group) error {
	if list == nil {
		list = []models.Group{}
	}
	return v.c.SaveJSON(ctx, keyGroups, list)
}

// removeGroup forgets a group's entries and drops it from the list.
func (v view) removeGroup(ctx context.Context, id string) error {
	if err := v.c.Delete(ctx, groupKey(id)); err != nil {
		return err
	}
	if err := v.c.Delete(ctx, costsKey(id)); err != nil {
		return err
	}
	list, err := v.groups(ctx)
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, g := range list {
		if g.ID != id {
			kept = append(kept, g)
		}
	}
	return v.saveGroups(ctx, kept)
}

func (v view) costs(ctx context.Context, groupID string) ([]models.CostRecord, error) {
	var recs []models.CostRecord
	_, err := v.c.LoadJSON(ctx, costsKey(groupID), &recs)
	return recs, err
}

func (v view) saveCosts(ctx context.Context, groupID string, recs []models.CostRecord) error {
	if recs == nil {
		recs = []models.CostRecord{}
	}
	return v.c.SaveJSON(ctx, costsKey(groupID), recs)
}

// appendRecord adds rec to its group's record list unless a record with the
// same id is already there.
func (v view) appendRecord(ctx context.Context, rec models.CostRecord) error {
	recs, err := v.costs(ctx, rec.GroupID)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.ID == rec.ID {
			return nil
		}
	}
	return v.saveCosts(ctx, rec.GroupID, append(recs, rec))
}

func (v view) removeRecord(ctx context.Context, groupID string, id models.RecordID) error {
	var recs []models.CostRecord
	ok, err := v.c.LoadJSON(ctx, costsKey(groupID), &recs)
	if err != nil || !ok {
		return err
	}
	kept := recs[:0]
	for _, r := range recs {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	return v.saveCosts(ctx, groupID, kept)
}

func (v view) mapping(ctx context.Context, localID string) (idMapping, bool, error) {
	var m idMapping
	ok, err := v.c.LoadJSON(ctx, idMapKey(localID), &m)
	return m, ok, err
}

func (v view) saveMapping(ctx context.Context, localID string, m idMapping) error {
	return v.c.SaveJSON(ctx, idMapKey(localID), m)
}

// resolveGroupID maps a local group id to its server id when one is known.
// ok is false for a local id whose creation has not been confirmed.
func (v view) resolveGroupID(ctx context.Context, id string) (string, bool, error) {
	if !models.IsLocalGroupID(id) {
		return id, true, nil
	}
	m, ok, err := v.mapping(ctx, id)
	if err != nil || !ok {
		return id, false, err
	}
	return m.GroupID, true, nil
}

// resolveRecord rewrites a record created against a local group so that it
// references the server's group and guest identities.
func (v view) resolveRecord(ctx context.Context, rec models.CostRecord) (models.CostRecord, error) {
	if !models.IsLocalGroupID(rec.GroupID) {
		return rec, nil
	}
	m, ok, err := v.mapping(ctx, rec.GroupID)
	if err != nil {
		return rec, err
	}
	if !ok {
		return rec, errUnmappedGroup
	}

	localID := rec.GroupID
	out := rec
	out.GroupID = m.GroupID
	if rec.Payer != nil {
		p := m.participant(localID, *rec.Payer)
		out.Payer = &p
	}
	out.SplitAmong = make([]models.Share, len(rec.SplitAmong))
	for i, s := range rec.SplitAmong {
		out.SplitAmong[i] = models.Share{Participant: m.participant(localID, s.Participant), Amount: s.Amount}
	}
	return out, nil
}

func (m idMapping) participant(localGroupID string, p models.Participant) models.Participant {
	if p.Kind != models.KindGuest || p.GroupID != localGroupID {
		return p
	}
	p.GroupID = m.GroupID
	if remote, ok := m.Guests[p.GuestID]; ok {
		p.GuestID = remote
	}
	return p
}

// cachedGroupIDs lists every group with a cached entry.
func (v view) cachedGroupIDs(ctx context.Context) ([]string, error) {
	keys, err := v.c.Keys(ctx, prefixGroup)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, prefixGroup)
	}
	return ids, nil
}
