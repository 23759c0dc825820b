package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension and must match the embedding model.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- One row per pipeline run, recording the end-of-run tallies.
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    rows_processed INTEGER NOT NULL DEFAULT 0,
    items_accepted INTEGER NOT NULL DEFAULT 0,
    parse_failures INTEGER NOT NULL DEFAULT 0,
    skipped_rows INTEGER NOT NULL DEFAULT 0,
    unresolved_ingredients INTEGER NOT NULL DEFAULT 0,
    unresolved_cities INTEGER NOT NULL DEFAULT 0,
    output_path TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Normalized ingredient vocabulary with the resolved Wikidata QID, if any.
CREATE TABLE IF NOT EXISTS ingredients (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    qid TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Cached context embeddings for ingredient clustering.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_ingredients USING vec0(
    ingredient_id INTEGER PRIMARY KEY,
    embedding float[%d]
);
`, embeddingDim)
}
