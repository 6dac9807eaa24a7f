package sqlite

import "database/sql"

// schema sets up the database on startup.
// Amounts are stored as TEXT so decimal values round-trip exactly.
const schema = `
CREATE TABLE IF NOT EXISTS groups (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    created_by      TEXT NOT NULL,
    created_at      INTEGER NOT NULL,
    roster_version  INTEGER NOT NULL DEFAULT 1,
    idempotency_key TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS group_members (
    group_id  TEXT NOT NULL,
    member_id TEXT NOT NULL,
    PRIMARY KEY (group_id, member_id),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS group_guests (
    id       TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    name     TEXT NOT NULL,
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS costs (
    id              TEXT PRIMARY KEY,
    group_id        TEXT NOT NULL,
    kind            TEXT NOT NULL,
    amount          TEXT NOT NULL,
    payer_kind      TEXT NOT NULL DEFAULT '',
    payer_member_id TEXT NOT NULL DEFAULT '',
    payer_guest_id  TEXT NOT NULL DEFAULT '',
    payer_name      TEXT NOT NULL DEFAULT '',
    auto_split      INTEGER NOT NULL DEFAULT 0,
    category        TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    roster_version  INTEGER NOT NULL DEFAULT 0,
    created_by      TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    idempotency_key TEXT UNIQUE,
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS cost_shares (
    cost_id          TEXT NOT NULL,
    position         INTEGER NOT NULL,
    participant_kind TEXT NOT NULL,
    member_id        TEXT NOT NULL DEFAULT '',
    guest_id         TEXT NOT NULL DEFAULT '',
    name             TEXT NOT NULL DEFAULT '',
    amount           TEXT NOT NULL,
    PRIMARY KEY (cost_id, position),
    FOREIGN KEY (cost_id) REFERENCES costs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_group_members_member_id ON group_members(member_id);
CREATE INDEX IF NOT EXISTS idx_group_guests_group_id ON group_guests(group_id);
CREATE INDEX IF NOT EXISTS idx_costs_group_id ON costs(group_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
