package local

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tripledger/internal/models"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestCache_SaveLoad(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	cache := db.Cache()

	_, ok, err := cache.Load(ctx, "costs/g1")
	require.NoError(t, err)
	assert.False(t, ok, "missing key should be absent")

	require.NoError(t, cache.Save(ctx, "costs/g1", []byte(`[1]`)))
	require.NoError(t, cache.Save(ctx, "costs/g1", []byte(`[1,2]`)))

	e, ok, err := cache.Load(ctx, "costs/g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[1,2]`, string(e.Value), "last write wins")
	assert.False(t, e.WrittenAt.IsZero())

	require.NoError(t, cache.Delete(ctx, "costs/g1"))
	require.NoError(t, cache.Delete(ctx, "costs/g1"), "deleting twice is fine")
	_, ok, err = cache.Load(ctx, "costs/g1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_KeysByPrefix(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	cache := db.Cache()

	for _, k := range []string{"costs/b", "group/a", "costs/a", "groups"} {
		require.NoError(t, cache.Save(ctx, k, []byte(`{}`)))
	}

	keys, err := cache.Keys(ctx, "costs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"costs/a", "costs/b"}, keys)
}

func TestCache_JSON(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	cache := db.Cache()

	in := models.Group{ID: "g1", Name: "Lisbon", Members: []string{"alice"}}
	require.NoError(t, cache.SaveJSON(ctx, "group/g1", in))

	var out models.Group
	ok, err := cache.LoadJSON(ctx, "group/g1", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Members, out.Members)
}

func TestCache_ErrorKeepsCause(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	cache := db.Cache()

	require.NoError(t, cache.Save(ctx, "group/g1", []byte(`{"id":`)))

	var out models.Group
	_, err := cache.LoadJSON(ctx, "group/g1", &out)
	require.ErrorIs(t, err, ErrStorage)
	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr, "underlying cause stays reachable")
}

func TestOutbox_FIFO(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	outbox := db.Outbox()

	first, err := outbox.Enqueue(ctx, models.ActionAddCost, map[string]string{"n": "1"}, EnqueueOptions{GroupID: "g1"})
	require.NoError(t, err)
	second, err := outbox.Enqueue(ctx, models.ActionSettle, map[string]string{"n": "2"}, EnqueueOptions{GroupID: "g1"})
	require.NoError(t, err)
	third, err := outbox.Enqueue(ctx, models.ActionJoinGroup, map[string]string{"n": "3"}, EnqueueOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.IdempotencyKey, second.IdempotencyKey)

	pending, err := outbox.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID},
		[]string{pending[0].ID, pending[1].ID, pending[2].ID})
	assert.JSONEq(t, `{"n":"1"}`, string(pending[0].Payload))
	assert.Equal(t, models.ActionSettle, pending[1].Type)

	require.NoError(t, outbox.Dequeue(ctx, second.ID))
	require.NoError(t, outbox.Dequeue(ctx, second.ID), "dequeue is idempotent")

	pending, err = outbox.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, third.ID, pending[1].ID)
}

func TestOutbox_RejectsUnknownType(t *testing.T) {
	db, _ := openTestDB(t)
	_, err := db.Outbox().Enqueue(context.Background(), models.ActionType("delete_group"), nil, EnqueueOptions{})
	assert.Error(t, err)
}

func TestOutbox_MarkAttempt(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	outbox := db.Outbox()

	a, err := outbox.Enqueue(ctx, models.ActionAddCost, struct{}{}, EnqueueOptions{})
	require.NoError(t, err)
	require.NoError(t, outbox.MarkAttempt(ctx, a.ID, errors.New("connection refused")))

	got, ok, err := outbox.Get(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "connection refused", got.LastError)

	n, err := outbox.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutbox_SurvivesReopen(t *testing.T) {
	db, path := openTestDB(t)
	ctx := context.Background()

	a, err := db.Outbox().Enqueue(ctx, models.ActionCreateGroup, map[string]string{"name": "Trip"}, EnqueueOptions{LocalRef: "local:x"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	pending, err := reopened.Outbox().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, "local:x", pending[0].LocalRef)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Cache.Save(ctx, "costs/g1", []byte(`[]`)); err != nil {
			return err
		}
		if _, err := tx.Outbox.Enqueue(ctx, models.ActionAddCost, struct{}{}, EnqueueOptions{}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := db.Cache().Load(ctx, "costs/g1")
	require.NoError(t, err)
	assert.False(t, ok, "cache write must roll back")
	n, err := db.Outbox().Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "outbox write must roll back")
}
