package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/tripledger/internal/models"
)

// Outbox is the durable FIFO of pending actions.
//
// Entries stay queued until the sync controller dequeues them after a
// confirmed success or a permanent rejection. Listing always returns
// enqueue order.
type Outbox struct {
	q execer
}

// EnqueueOptions carries optional attributes of a new action.
type EnqueueOptions struct {
	GroupID  string
	LocalRef string
}

// Enqueue appends an action and returns it with its generated id and
// idempotency key.
func (o *Outbox) Enqueue(ctx context.Context, typ models.ActionType, payload any, opts EnqueueOptions) (models.PendingAction, error) {
	if !typ.Valid() {
		return models.PendingAction{}, fmt.Errorf("unknown action type %q", typ)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.PendingAction{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	action := models.PendingAction{
		ID:             uuid.NewString(),
		Type:           typ,
		GroupID:        opts.GroupID,
		Payload:        raw,
		IdempotencyKey: uuid.NewString(),
		LocalRef:       opts.LocalRef,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = o.q.ExecContext(ctx,
		`INSERT INTO pending_actions (id, type, group_id, payload, idempotency_key, local_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		action.ID, string(action.Type), action.GroupID, []byte(action.Payload),
		action.IdempotencyKey, action.LocalRef, action.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return models.PendingAction{}, storageErr("enqueue action", err)
	}
	return action, nil
}

const selectAction = `SELECT id, type, group_id, payload, idempotency_key, local_ref, attempts, last_error, created_at
	FROM pending_actions`

func scanAction(scan func(dest ...any) error) (models.PendingAction, error) {
	var (
		a       models.PendingAction
		typ     string
		payload []byte
		created int64
	)
	if err := scan(&a.ID, &typ, &a.GroupID, &payload, &a.IdempotencyKey, &a.LocalRef,
		&a.Attempts, &a.LastError, &created); err != nil {
		return models.PendingAction{}, err
	}
	a.Type = models.ActionType(typ)
	a.Payload = json.RawMessage(payload)
	a.CreatedAt = time.UnixMilli(created).UTC()
	return a, nil
}

// ListPending returns all queued actions in enqueue order.
func (o *Outbox) ListPending(ctx context.Context) ([]models.PendingAction, error) {
	rows, err := o.q.QueryContext(ctx, selectAction+" ORDER BY seq")
	if err != nil {
		return nil, storageErr("list pending actions", err)
	}
	defer rows.Close()

	var actions []models.PendingAction
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, storageErr("scan pending action", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate pending actions", err)
	}
	return actions, nil
}

// Get returns one action. ok is false if it is not queued.
func (o *Outbox) Get(ctx context.Context, id string) (models.PendingAction, bool, error) {
	a, err := scanAction(o.q.QueryRowContext(ctx, selectAction+" WHERE id = ?", id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PendingAction{}, false, nil
	}
	if err != nil {
		return models.PendingAction{}, false, storageErr("get pending action", err)
	}
	return a, true, nil
}

// Dequeue removes an action. Removing an action that is already gone is not
// an error, so a retried removal is harmless.
func (o *Outbox) Dequeue(ctx context.Context, id string) error {
	if _, err := o.q.ExecContext(ctx, "DELETE FROM pending_actions WHERE id = ?", id); err != nil {
		return storageErr("dequeue action", err)
	}
	return nil
}

// MarkAttempt records a failed delivery attempt.
func (o *Outbox) MarkAttempt(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := o.q.ExecContext(ctx,
		"UPDATE pending_actions SET attempts = attempts + 1, last_error = ? WHERE id = ?",
		msg, id,
	)
	if err != nil {
		return storageErr("record attempt", err)
	}
	return nil
}

// Len returns the number of queued actions.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	var n int
	if err := o.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_actions").Scan(&n); err != nil {
		return 0, storageErr("count pending actions", err)
	}
	return n, nil
}
