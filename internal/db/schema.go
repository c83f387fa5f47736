package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL UNIQUE,
	password     TEXT NOT NULL,
	display_name TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS diagrams (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_diagrams_owner ON diagrams(owner_id);

CREATE TABLE IF NOT EXISTS diagram_nodes (
	id         TEXT PRIMARY KEY,
	diagram_id TEXT NOT NULL REFERENCES diagrams(id) ON DELETE CASCADE,
	label      TEXT NOT NULL DEFAULT '',
	x          DOUBLE PRECISION NOT NULL,
	y          DOUBLE PRECISION NOT NULL,
	width      DOUBLE PRECISION NOT NULL,
	height     DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nodes_diagram ON diagram_nodes(diagram_id);

CREATE TABLE IF NOT EXISTS diagram_edges (
	id          TEXT PRIMARY KEY,
	diagram_id  TEXT NOT NULL REFERENCES diagrams(id) ON DELETE CASCADE,
	source_id   TEXT NOT NULL REFERENCES diagram_nodes(id) ON DELETE CASCADE,
	target_id   TEXT NOT NULL REFERENCES diagram_nodes(id) ON DELETE CASCADE,
	source_side TEXT NOT NULL DEFAULT 'right',
	target_side TEXT NOT NULL DEFAULT 'left',
	waypoints   JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_edges_diagram ON diagram_edges(diagram_id);
`

// CreateSchema applies the schema. Idempotent; run on startup.
func CreateSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
