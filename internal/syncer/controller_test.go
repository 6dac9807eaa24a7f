package syncer

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tripledger/internal/local"
	"github.com/mmynk/tripledger/internal/metrics"
	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/notify"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(p models.Participant) *models.Participant { return &p }

type harness struct {
	ctx    context.Context
	db     *local.DB
	remote *fakeRemote
	ctrl   *Controller
	m      *metrics.Sync
	group  models.Group
}

// newHarness seeds a group {alice, bob} on the fake store and returns a
// synced controller for alice, switched offline.
func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := local.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	remote := newFakeRemote("alice")
	group := remote.seedGroup("Lisbon", []string{"alice", "bob"})

	m := metrics.NewSync(nil)
	ctrl := New(db, remote, Options{MemberID: "alice", Metrics: m})
	h := &harness{ctx: context.Background(), db: db, remote: remote, ctrl: ctrl, m: m, group: group}

	_, err = ctrl.SetOnline(h.ctx, true)
	require.NoError(t, err)
	_, err = ctrl.SetOnline(h.ctx, false)
	require.NoError(t, err)
	return h
}

func (h *harness) autoCost(amount string) models.CostRecord {
	return models.CostRecord{
		GroupID:   h.group.ID,
		Amount:    d(amount),
		Payer:     ptr(models.Member("alice")),
		AutoSplit: true,
	}
}

func (h *harness) pending(t *testing.T) []models.PendingAction {
	t.Helper()
	actions, err := h.ctrl.Pending(h.ctx)
	require.NoError(t, err)
	return actions
}

func netOf(t *testing.T, h *harness, groupID, member string) string {
	t.Helper()
	balances, err := h.ctrl.GetBalances(h.ctx, groupID)
	require.NoError(t, err)
	v, _ := balances.Get(models.Member(member))
	return v.String()
}

func TestOfflineRoundTrip(t *testing.T) {
	h := newHarness(t)

	var completions atomic.Int32
	h.ctrl.OnSyncComplete(func(SyncResult) { completions.Add(1) })

	rec, err := h.ctrl.AddCost(h.ctx, h.autoCost("300"))
	require.NoError(t, err)
	assert.True(t, rec.ID.IsLocal(), "offline records get a local id")
	assert.Zero(t, h.remote.countCalls("CreateCost"), "offline mutation must not touch the network")

	assert.Equal(t, "150", netOf(t, h, h.group.ID, "alice"))
	assert.Equal(t, "-150", netOf(t, h, h.group.ID, "bob"))
	require.Len(t, h.pending(t), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.OutboxDepth))

	res, err := h.ctrl.SetOnline(h.ctx, true)
	require.NoError(t, err)
	assert.Len(t, res.Applied, 1)
	assert.Empty(t, h.pending(t))
	assert.Equal(t, StateOnline, h.ctrl.State())
	assert.Equal(t, int32(1), completions.Load())

	costs, err := h.ctrl.Costs(h.ctx, h.group.ID)
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.False(t, costs[0].ID.IsLocal(), "cache must hold the server record, not the local one")
	assert.Equal(t, h.remote.records(h.group.ID)[0].ID, costs[0].ID)
	assert.Equal(t, "150", netOf(t, h, h.group.ID, "alice"))
}

func TestOrderedReplay(t *testing.T) {
	h := newHarness(t)
	alice, bob := models.Member("alice"), models.Member("bob")

	_, err := h.ctrl.AddCost(h.ctx, models.CostRecord{
		GroupID:    h.group.ID,
		Amount:     d("500"),
		Payer:      &alice,
		SplitAmong: []models.Share{{Participant: bob, Amount: d("500")}},
	})
	require.NoError(t, err)
	_, err = h.ctrl.RecordSettlement(h.ctx, h.group.ID, bob, alice, d("500"))
	require.NoError(t, err)

	balances, err := h.ctrl.GetBalances(h.ctx, h.group.ID)
	require.NoError(t, err)
	assert.Empty(t, balances, "settlement extinguishes the optimistic debt")

	_, err = h.ctrl.SetOnline(h.ctx, true)
	require.NoError(t, err)

	var mutations []string
	for _, c := range h.remote.callLog() {
		if c == "CreateCost" || c == "CreateSettlement" {
			mutations = append(mutations, c)
		}
	}
	assert.Equal(t, []string{"CreateCost", "CreateSettlement"}, mutations)

	balances, err = h.ctrl.GetBalances(h.ctx, h.group.ID)
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestReplayKeepsSettlementTime(t *testing.T) {
	h := newHarness(t)
	alice, bob := models.Member("alice"), models.Member("bob")

	queued, err := h.ctrl.RecordSettlement(h.ctx, h.group.ID, bob, alice, d("25"))
	require.NoError(t, err)
	require.False(t, queued.CreatedAt.IsZero())

	_, err = h.ctrl.SetOnline(h.ctx, true)
	require.NoError(t, err)

	remote := h.remote.records(h.group.ID)
	require.Len(t, remote, 1)
	assert.True(t, remote[0].CreatedAt.Equal(queued.CreatedAt), "server record must keep the offline timestamp")
}

func TestPermanentRejectionDoesNotBlock(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.AddCost(h.ctx, h.autoCost("10"))
	require.NoError(t, err)
	_, err = h.ctrl.AddCost(h.ctx, h.autoCost("20"))
	require.NoError(t, err)

	h.remote.failNext("CreateCost", errRejected)

	res, err := h.ctrl.SetOnline(h.ctx, true)
	require.NoError(t, err)
	require.Len(t, res.Dropped, 1)
	assert.ErrorIs(t, res.Dropped[0].Err, ErrPermanent)
	require.Len(t, res.Applied, 1)
	assert.Empty(t, h.pending(t))
	assert.Equal(t, 2, h.remote.countCalls("CreateCost"), "the second action is attempted in the same pass")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Dropped))

	costs, err := h.ctrl.Costs(h.ctx, h.group.ID)
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.True(t, costs[0].Amount.Equal(d("20")))
}

func TestTransientFailureStopsPass(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.AddCost(h.ctx, h.autoCost("10"))
	require.NoError(t, err)
	_, err = h.ctrl.AddCost(h.ctx, h.autoCost("20"))
	require.NoError(t, err)

	h.remote.failNext("CreateCost", errUnavailable)

	res, err := h.ctrl.SetOnline(h.ctx, true)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, StateOffline, h.ctrl.State())
	assert.Equal(t, 1, h.remote.countCalls("CreateCost"), "pass stops at the first transient failure")

	pending := h.pending(t)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.NotEmpty(t, pending[0].LastError)

	res, err = h.ctrl.Sync(h.ctx)
	require.NoError(t, err)
	assert.Len(t, res.Applied, 2)
	assert.Empty(t, h.pending(t))
	assert.Len(t, h.remote.records(h.group.ID), 2)
}

func TestReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.AddCost(h.ctx, h.autoCost("10"))
	require.NoError(t, err)

	// The store applies the first action, then the pass fails before it is
	// dequeued; the retry reuses the idempotency key.
	pending := h.pending(t)
	require.Len(t, pending, 1)
	var rec models.CostRecord
	require.NoError(t, jsonUnmarshal(pending[0].Payload, &rec))
	_, err = h.remote.CreateCost(h.ctx, rec, pending[0].IdempotencyKey)
	require.NoError(t, err)

	_, err = h.ctrl.SetOnline(h.ctx, true)
	require.NoError(t, err)
	assert.Len(t, h.remote.records(h.group.ID), 1, "replay must not duplicate the record")
}

func TestOnlineMutation(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.SetOnline(h.ctx, true)
	require.NoError(t, err)

	rec, err := h.ctrl.AddCost(h.ctx, h.autoCost("40"))
	require.NoError(t, err)
	assert.False(t, rec.ID.IsLocal())
	assert.Empty(t, h.pending(t))
	assert.Equal(t, "20", netOf(t, h, h.group.ID, "alice"))

	t.Run("permanent failure surfaces", func(t *testing.T) {
		h.remote.failNext("CreateCost", errRejected)
		_, err := h.ctrl.AddCost(h.ctx, h.autoCost("5"))
		assert.ErrorIs(t, err, ErrPermanent)
		assert.Empty(t, h.pending(t))
		assert.Equal(t, StateOnline, h.ctrl.State())
	})

	t.Run("transient failure is not queued", func(t *testing.T) {
		h.remote.failNext("CreateCost", errUnavailable)
		_, err := h.ctrl.AddCost(h.ctx, h.autoCost("5"))
		assert.ErrorIs(t, err, ErrTransient)
		assert.Empty(t, h.pending(t))
		assert.Equal(t, StateOffline, h.ctrl.State())
	})
}

func TestValidationNeverQueued(t *testing.T) {
	h := newHarness(t)
	alice := models.Member("alice")

	tests := []struct {
		name string
		run  func() error
	}{
		{"zero amount", func() error {
			_, err := h.ctrl.AddCost(h.ctx, h.autoCost("0"))
			return err
		}},
		{"no group", func() error {
			rec := h.autoCost("10")
			rec.GroupID = ""
			_, err := h.ctrl.AddCost(h.ctx, rec)
			return err
		}},
		{"missing participant", func() error {
			_, err := h.ctrl.AddCost(h.ctx, models.CostRecord{
				GroupID:    h.group.ID,
				Amount:     d("10"),
				SplitAmong: []models.Share{{Amount: d("10")}},
			})
			return err
		}},
		{"settle with self", func() error {
			_, err := h.ctrl.RecordSettlement(h.ctx, h.group.ID, alice, alice, d("10"))
			return err
		}},
		{"empty group name", func() error {
			_, err := h.ctrl.CreateGroup(h.ctx, " ", nil, nil)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), ErrValidation)
		})
	}
	assert.Empty(t, h.pending(t))
}

func TestOnSyncComplete_NotifiesEveryListener(t *testing.T) {
	h := newHarness(t)

	var order []int
	h.ctrl.OnSyncComplete(func(SyncResult) { order = append(order, 1) })
	h.ctrl.OnSyncComplete(func(SyncResult) { order = append(order, 2) })

	_, err := h.ctrl.SetOnline(h.ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, order)
}

func TestCancelRollsBack(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.AddCost(h.ctx, h.autoCost("30"))
	require.NoError(t, err)
	pending := h.pending(t)
	require.Len(t, pending, 1)

	cancelled, err := h.ctrl.Cancel(h.ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)
	assert.Empty(t, h.pending(t))

	costs, err := h.ctrl.Costs(h.ctx, h.group.ID)
	require.NoError(t, err)
	assert.Empty(t, costs)

	_, err = h.ctrl.Cancel(h.ctx, pending[0].ID)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestCancelJoin(t *testing.T) {
	t.Run("existing member keeps membership", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ctrl.SetOnline(h.ctx, true)
		require.NoError(t, err)
		_, err = h.ctrl.AddCost(h.ctx, h.autoCost("300"))
		require.NoError(t, err)
		_, err = h.ctrl.SetOnline(h.ctx, false)
		require.NoError(t, err)
		require.Equal(t, "150", netOf(t, h, h.group.ID, "alice"))

		_, err = h.ctrl.JoinGroup(h.ctx, h.group.ID)
		require.NoError(t, err)
		pending := h.pending(t)
		require.Len(t, pending, 1)
		_, err = h.ctrl.Cancel(h.ctx, pending[0].ID)
		require.NoError(t, err)

		g, err := h.ctrl.Group(h.ctx, h.group.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, g.Members)
		assert.Equal(t, "150", netOf(t, h, h.group.ID, "alice"))
		assert.Equal(t, "-150", netOf(t, h, h.group.ID, "bob"))
	})

	t.Run("creator of offline group stays", func(t *testing.T) {
		h := newHarness(t)
		group, err := h.ctrl.CreateGroup(h.ctx, "Porto", []string{"bob"}, nil)
		require.NoError(t, err)

		_, err = h.ctrl.JoinGroup(h.ctx, group.ID)
		require.NoError(t, err)
		pending := h.pending(t)
		require.Len(t, pending, 2)
		require.Equal(t, models.ActionJoinGroup, pending[1].Type)
		_, err = h.ctrl.Cancel(h.ctx, pending[1].ID)
		require.NoError(t, err)

		g, err := h.ctrl.Group(h.ctx, group.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, g.Members)
	})

	t.Run("new membership is undone", func(t *testing.T) {
		h := newHarness(t)
		other := h.remote.seedGroup("Madrid", []string{"carol"})

		_, err := h.ctrl.JoinGroup(h.ctx, other.ID)
		require.NoError(t, err)
		pending := h.pending(t)
		require.Len(t, pending, 1)
		_, err = h.ctrl.Cancel(h.ctx, pending[0].ID)
		require.NoError(t, err)

		_, err = h.ctrl.Group(h.ctx, other.ID)
		assert.ErrorIs(t, err, ErrNotCached, "placeholder group is removed")
	})
}

func TestOfflineGroupLifecycle(t *testing.T) {
	h := newHarness(t)

	group, err := h.ctrl.CreateGroup(h.ctx, "Porto", []string{"bob"}, []string{"Sam"})
	require.NoError(t, err)
	require.True(t, models.IsLocalGroupID(group.ID))
	require.Len(t, group.Guests, 1)
	assert.Equal(t, []string{"alice", "bob"}, group.Members)

	sam := models.GuestOf(group.ID, group.Guests[0])
	_, err = h.ctrl.AddCost(h.ctx, models.CostRecord{
		GroupID:   group.ID,
		Amount:    d("90"),
		Payer:     &sam,
		AutoSplit: true,
	})
	require.NoError(t, err)

	balances, err := h.ctrl.GetBalances(h.ctx, group.ID)
	require.NoError(t, err)
	got, ok := balances.Get(sam)
	require.True(t, ok)
	assert.Equal(t, "60", got.String())

	res, err := h.ctrl.SetOnline(h.ctx, true)
	require.NoError(t, err)
	assert.Len(t, res.Applied, 2)

	// The local id keeps working and now reads the server's group.
	remoteGroup, err := h.ctrl.Group(h.ctx, group.ID)
	require.NoError(t, err)
	assert.False(t, models.IsLocalGroupID(remoteGroup.ID))

	recs := h.remote.records(remoteGroup.ID)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Payer)
	assert.Equal(t, remoteGroup.Guests[0].ID, recs[0].Payer.GuestID, "guest token is rewritten to the server's")

	balances, err = h.ctrl.GetBalances(h.ctx, group.ID)
	require.NoError(t, err)
	got, ok = balances.Get(models.GuestOf(remoteGroup.ID, remoteGroup.Guests[0]))
	require.True(t, ok)
	assert.Equal(t, "60", got.String())

	groups, err := h.ctrl.Groups(h.ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestCancelGroupCascades(t *testing.T) {
	h := newHarness(t)

	group, err := h.ctrl.CreateGroup(h.ctx, "Porto", nil, nil)
	require.NoError(t, err)
	_, err = h.ctrl.AddCost(h.ctx, models.CostRecord{
		GroupID:   group.ID,
		Amount:    d("10"),
		Payer:     ptr(models.Member("alice")),
		AutoSplit: true,
	})
	require.NoError(t, err)
	pending := h.pending(t)
	require.Len(t, pending, 2)

	cancelled, err := h.ctrl.Cancel(h.ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Len(t, cancelled, 2)
	assert.Empty(t, h.pending(t))

	_, err = h.ctrl.Group(h.ctx, group.ID)
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestOfflineJoin(t *testing.T) {
	h := newHarness(t)
	other := h.remote.seedGroup("Madrid", []string{"carol"})

	group, err := h.ctrl.JoinGroup(h.ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, group.HasMember("alice"))

	_, err = h.ctrl.SetOnline(h.ctx, true)
	require.NoError(t, err)

	cached, err := h.ctrl.Group(h.ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "Madrid", cached.Name)
	assert.Equal(t, []string{"carol", "alice"}, cached.Members)
}

func TestStorageErrorSurfaces(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Close())

	_, err := h.ctrl.AddCost(h.ctx, h.autoCost("10"))
	assert.ErrorIs(t, err, ErrStorage)
}

func TestForcedOffline(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.Sync(h.ctx)
	assert.ErrorIs(t, err, ErrOffline)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 1, h.remote.countCalls("ListGroups"), "no network while forced offline")
}

func TestWatchRefreshesOnEvent(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.SetOnline(h.ctx, true)
	require.NoError(t, err)

	refreshed := make(chan SyncResult, 1)
	h.ctrl.OnSyncComplete(func(r SyncResult) { refreshed <- r })

	h.remote.seedCost(models.CostRecord{
		GroupID:   h.group.ID,
		Kind:      models.KindCost,
		Amount:    d("80"),
		Payer:     ptr(models.Member("bob")),
		AutoSplit: true,
	})

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	events := make(chan notify.Event, 1)
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Watch(ctx, events) }()

	events <- notify.Event{Type: notify.EventGroupChanged, GroupID: h.group.ID}

	select {
	case r := <-refreshed:
		assert.Equal(t, []string{h.group.ID}, r.Refreshed)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not refresh the group")
	}
	assert.Equal(t, "40", netOf(t, h, h.group.ID, "bob"))

	close(events)
	assert.NoError(t, <-done)
}

func TestRunRetriesAfterOutage(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.AddCost(h.ctx, h.autoCost("10"))
	require.NoError(t, err)

	h.remote.setDown(true)
	_, err = h.ctrl.SetOnline(h.ctx, true)
	require.ErrorIs(t, err, ErrTransient)
	h.remote.setDown(false)

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	go func() { _ = h.ctrl.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		actions, err := h.ctrl.Pending(h.ctx)
		return err == nil && len(actions) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, h.remote.records(h.group.ID), 1)
}
