// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateGroup persists a new group. The creator becomes its first member
// along with any members already listed on the group.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *models.Group, idempotencyKey string) (bool, error) {
	if idempotencyKey != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx,
			"SELECT id FROM groups WHERE idempotency_key = ?", idempotencyKey,
		).Scan(&existingID)
		if err == nil {
			existing, err := s.GetGroup(ctx, existingID)
			if err != nil {
				return false, err
			}
			*group = *existing
			return false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	group.ID = uuid.New().String()
	if group.CreatedAt == 0 {
		group.CreatedAt = time.Now().Unix()
	}
	group.RosterVersion = 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO groups (id, name, created_by, created_at, roster_version, idempotency_key) VALUES (?, ?, ?, ?, ?, ?)",
		group.ID, group.Name, group.CreatedBy, group.CreatedAt, group.RosterVersion, nullable(idempotencyKey),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert group: %w", err)
	}

	members := group.Members
	if group.CreatedBy != "" && !group.HasMember(group.CreatedBy) {
		members = append([]string{group.CreatedBy}, members...)
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO group_members (group_id, member_id) VALUES (?, ?)",
			group.ID, m,
		); err != nil {
			return false, fmt.Errorf("failed to insert member: %w", err)
		}
	}
	group.Members = members

	for i := range group.Guests {
		g := &group.Guests[i]
		g.ID = uuid.New().String()
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO group_guests (id, group_id, name) VALUES (?, ?, ?)",
			g.ID, group.ID, g.Name,
		); err != nil {
			return false, fmt.Errorf("failed to insert guest: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// GetGroup retrieves a group by ID, including members and guests in the
// order they joined.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group := &models.Group{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_by, created_at, roster_version FROM groups WHERE id = ?",
		groupID,
	).Scan(&group.ID, &group.Name, &group.CreatedBy, &group.CreatedAt, &group.RosterVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", groupID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT member_id FROM group_members WHERE group_id = ? ORDER BY rowid",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		group.Members = append(group.Members, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}

	guestRows, err := s.db.QueryContext(ctx,
		"SELECT id, name FROM group_guests WHERE group_id = ? ORDER BY rowid",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get guests: %w", err)
	}
	defer guestRows.Close()
	for guestRows.Next() {
		var g models.Guest
		if err := guestRows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("failed to scan guest: %w", err)
		}
		group.Guests = append(group.Guests, g)
	}
	if err := guestRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate guests: %w", err)
	}

	return group, nil
}

// ListGroupsForMember retrieves every group memberID belongs to, newest first.
func (s *SQLiteStore) ListGroupsForMember(ctx context.Context, memberID string) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id FROM groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE m.member_id = ?
		 ORDER BY g.created_at DESC, g.rowid DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}

	groups := make([]*models.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// AddMember adds a member to a group and bumps the roster version.
func (s *SQLiteStore) AddMember(ctx context.Context, groupID, memberID string) (*models.Group, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.HasMember(memberID) {
		return group, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO group_members (group_id, member_id) VALUES (?, ?)", groupID, memberID,
	); err != nil {
		return nil, fmt.Errorf("failed to insert member: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE groups SET roster_version = roster_version + 1 WHERE id = ?", groupID,
	); err != nil {
		return nil, fmt.Errorf("failed to bump roster version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetGroup(ctx, groupID)
}

// AddGuest adds a guest to a group and bumps the roster version.
func (s *SQLiteStore) AddGuest(ctx context.Context, groupID, name string) (models.Guest, error) {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return models.Guest{}, err
	}

	guest := models.Guest{ID: uuid.New().String(), Name: name}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Guest{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO group_guests (id, group_id, name) VALUES (?, ?, ?)", guest.ID, groupID, guest.Name,
	); err != nil {
		return models.Guest{}, fmt.Errorf("failed to insert guest: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE groups SET roster_version = roster_version + 1 WHERE id = ?", groupID,
	); err != nil {
		return models.Guest{}, fmt.Errorf("failed to bump roster version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Guest{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return guest, nil
}

// nullable maps an empty string to NULL so UNIQUE columns accept many blanks.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
