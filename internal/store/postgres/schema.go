// Package postgres implements the result store backend on a Postgres table.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS foursight_results (
    key         TEXT PRIMARY KEY,
    value       BYTEA NOT NULL,
    size        BIGINT NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_foursight_results_key_pattern ON foursight_results (key text_pattern_ops);
`
