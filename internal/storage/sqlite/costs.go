package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/storage"
)

const selectCost = `SELECT id, group_id, kind, amount, payer_kind, payer_member_id, payer_guest_id, payer_name,
	auto_split, category, description, roster_version, created_by, created_at
	FROM costs`

// CreateCost persists a new cost or settlement record with its shares.
func (s *SQLiteStore) CreateCost(ctx context.Context, rec *models.CostRecord, idempotencyKey string) (bool, error) {
	if idempotencyKey != "" {
		existing, err := s.getCostBy(ctx, "idempotency_key", idempotencyKey)
		if err == nil {
			*rec = *existing
			return false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return false, err
		}
	}

	var rosterVersion int64
	err := s.db.QueryRowContext(ctx, "SELECT roster_version FROM groups WHERE id = ?", rec.GroupID).Scan(&rosterVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("group %s: %w", rec.GroupID, storage.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to get group: %w", err)
	}

	rec.ID = models.RemoteID(uuid.New().String())
	rec.RosterVersion = rosterVersion
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var payer models.Participant
	if rec.Payer != nil {
		payer = *rec.Payer
	}
	autoSplit := 0
	if rec.AutoSplit {
		autoSplit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO costs (id, group_id, kind, amount, payer_kind, payer_member_id, payer_guest_id, payer_name,
		 auto_split, category, description, roster_version, created_by, created_at, idempotency_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.Value(), rec.GroupID, string(rec.Kind), rec.Amount.String(),
		string(payer.Kind), payer.MemberID, payer.GuestID, payer.Name,
		autoSplit, rec.Category, rec.Description, rec.RosterVersion, rec.CreatedBy,
		rec.CreatedAt.UnixMilli(), nullable(idempotencyKey),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert cost: %w", err)
	}

	for i, share := range rec.SplitAmong {
		p := share.Participant
		_, err = tx.ExecContext(ctx,
			`INSERT INTO cost_shares (cost_id, position, participant_kind, member_id, guest_id, name, amount)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID.Value(), i, string(p.Kind), p.MemberID, p.GuestID, p.Name, share.Amount.String(),
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert share: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// ListCostsByGroup retrieves all records for a group in creation order.
func (s *SQLiteStore) ListCostsByGroup(ctx context.Context, groupID string) ([]models.CostRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectCost+" WHERE group_id = ? ORDER BY created_at, rowid", groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list costs by group: %w", err)
	}

	var records []models.CostRecord
	for rows.Next() {
		rec, err := scanCost(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cost: %w", err)
		}
		records = append(records, *rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate costs: %w", err)
	}

	for i := range records {
		shares, err := s.listShares(ctx, records[i].ID.Value(), records[i].GroupID)
		if err != nil {
			return nil, err
		}
		records[i].SplitAmong = shares
	}
	return records, nil
}

func (s *SQLiteStore) getCostBy(ctx context.Context, column, value string) (*models.CostRecord, error) {
	rec, err := scanCost(s.db.QueryRowContext(ctx, selectCost+" WHERE "+column+" = ?", value).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cost: %w", err)
	}
	shares, err := s.listShares(ctx, rec.ID.Value(), rec.GroupID)
	if err != nil {
		return nil, err
	}
	rec.SplitAmong = shares
	return rec, nil
}

// listShares loads a record's shares. Guests are scoped to the record's group.
func (s *SQLiteStore) listShares(ctx context.Context, costID, groupID string) ([]models.Share, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT participant_kind, member_id, guest_id, name, amount
		 FROM cost_shares WHERE cost_id = ? ORDER BY position`,
		costID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get shares: %w", err)
	}
	defer rows.Close()

	var shares []models.Share
	for rows.Next() {
		var (
			kind   string
			amount string
			share  models.Share
		)
		if err := rows.Scan(&kind, &share.Participant.MemberID, &share.Participant.GuestID,
			&share.Participant.Name, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		share.Participant.Kind = models.ParticipantKind(kind)
		if share.Participant.Kind == models.KindGuest {
			share.Participant.GroupID = groupID
		}
		if share.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid share amount %q: %w", amount, err)
		}
		shares = append(shares, share)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shares: %w", err)
	}

	return shares, nil
}

func scanCost(scan func(dest ...any) error) (*models.CostRecord, error) {
	var (
		rec       models.CostRecord
		id        string
		kind      string
		amount    string
		payer     models.Participant
		payerKind string
		autoSplit int
		created   int64
	)
	if err := scan(&id, &rec.GroupID, &kind, &amount, &payerKind, &payer.MemberID, &payer.GuestID, &payer.Name,
		&autoSplit, &rec.Category, &rec.Description, &rec.RosterVersion, &rec.CreatedBy, &created); err != nil {
		return nil, err
	}

	var err error
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	rec.ID = models.RemoteID(id)
	rec.Kind = models.CostKind(kind)
	rec.AutoSplit = autoSplit != 0
	rec.CreatedAt = time.UnixMilli(created).UTC()
	if payerKind != "" {
		payer.Kind = models.ParticipantKind(payerKind)
		if payer.Kind == models.KindGuest {
			payer.GroupID = rec.GroupID
		}
		rec.Payer = &payer
	}
	return &rec, nil
}
