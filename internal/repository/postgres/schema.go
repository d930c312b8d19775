package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the event log and materialized tables if they do not
// exist. The events table is the system of record; everything else is
// derivable from it and may be dropped and rebuilt via replay.
func Migrate(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		seq        BIGSERIAL PRIMARY KEY,
		event_id   TEXT NOT NULL UNIQUE,
		tree_id    TEXT NOT NULL,
		ts         TIMESTAMPTZ NOT NULL,
		origin     TEXT NOT NULL DEFAULT '',
		actor_id   TEXT,
		event_type TEXT NOT NULL,
		payload    JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_tree ON %[1]s(tree_id);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_type ON %[1]s(event_type);

	CREATE TABLE IF NOT EXISTS %[2]s (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		metadata   JSONB,
		params     JSONB NOT NULL DEFAULT '{}',
		mode       TEXT NOT NULL DEFAULT 'chat',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		archived   BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS %[3]s (
		id               TEXT PRIMARY KEY,
		tree_id          TEXT NOT NULL,
		parent_id        TEXT,
		role             TEXT NOT NULL,
		content          TEXT NOT NULL,
		content_override TEXT,
		generation       JSONB,
		flags            JSONB NOT NULL DEFAULT '{}',
		created_at       TIMESTAMPTZ NOT NULL,
		archived         BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_%[3]s_tree ON %[3]s(tree_id, created_at);

	CREATE TABLE IF NOT EXISTS %[4]s (
		id         TEXT PRIMARY KEY,
		tree_id    TEXT NOT NULL,
		node_id    TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[4]s_tree ON %[4]s(tree_id);

	CREATE TABLE IF NOT EXISTS %[5]s (
		node_id    TEXT PRIMARY KEY,
		tree_id    TEXT NOT NULL,
		label      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[5]s_tree ON %[5]s(tree_id);

	CREATE TABLE IF NOT EXISTS %[6]s (
		node_id  TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		tree_id  TEXT NOT NULL,
		mode     TEXT NOT NULL,
		PRIMARY KEY (node_id, scope_id)
	);
	CREATE INDEX IF NOT EXISTS idx_%[6]s_tree ON %[6]s(tree_id);

	CREATE TABLE IF NOT EXISTS %[7]s (
		node_id    TEXT PRIMARY KEY,
		tree_id    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[7]s_tree ON %[7]s(tree_id);

	CREATE TABLE IF NOT EXISTS %[8]s (
		id         TEXT PRIMARY KEY,
		tree_id    TEXT NOT NULL,
		label      TEXT NOT NULL DEFAULT '',
		member_ids JSONB NOT NULL DEFAULT '[]',
		enabled    BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[8]s_tree ON %[8]s(tree_id);
	`,
		tables.Events,
		tables.Trees,
		tables.Nodes,
		tables.Annotations,
		tables.Bookmarks,
		tables.Exclusions,
		tables.Anchors,
		tables.Digressions,
	)

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
