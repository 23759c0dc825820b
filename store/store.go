// Package store persists run history and the ingredient-embedding cache in
// SQLite. The mapping files that other tools consume stay JSON on disk; the
// store only holds what benefits from a database: run tallies for later
// inspection and vectors for KNN search via sqlite-vec.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Run is one recorded pipeline run.
type Run struct {
	ID                    string    `json:"id"`
	StartedAt             time.Time `json:"started_at"`
	FinishedAt            time.Time `json:"finished_at"`
	RowsProcessed         int       `json:"rows_processed"`
	ItemsAccepted         int       `json:"items_accepted"`
	ParseFailures         int       `json:"parse_failures"`
	SkippedRows           int       `json:"skipped_rows"`
	UnresolvedIngredients int       `json:"unresolved_ingredients"`
	UnresolvedCities      int       `json:"unresolved_cities"`
	OutputPath            string    `json:"output_path"`
}

// Ingredient is a row of the ingredient vocabulary.
type Ingredient struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	QID  string `json:"qid,omitempty"`
}

// Similar is a KNN search hit.
type Similar struct {
	Ingredient
	Distance float64 `json:"distance"`
}

// Store wraps the SQLite database.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) the database at the given path and initialises the
// schema, including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db, embeddingDim: embeddingDim}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Run ledger ---

// RecordRun writes a run's tallies. A fresh run ID is minted when empty and
// returned either way.
func (s *Store) RecordRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, rows_processed, items_accepted,
			parse_failures, skipped_rows, unresolved_ingredients, unresolved_cities, output_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.UTC().Format(time.RFC3339),
		r.RowsProcessed, r.ItemsAccepted, r.ParseFailures, r.SkippedRows,
		r.UnresolvedIngredients, r.UnresolvedCities, r.OutputPath)
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return r.ID, nil
}

// ListRuns returns recorded runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, rows_processed, items_accepted,
			parse_failures, skipped_rows, unresolved_ingredients, unresolved_cities, output_path
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.RowsProcessed, &r.ItemsAccepted,
			&r.ParseFailures, &r.SkippedRows, &r.UnresolvedIngredients, &r.UnresolvedCities,
			&r.OutputPath); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Ingredient vocabulary and embedding cache ---

// UpsertIngredient inserts or updates an ingredient by name, returning its
// row ID. A non-empty qid overwrites a stored null but never the reverse.
func (s *Store) UpsertIngredient(ctx context.Context, ing Ingredient) (int64, error) {
	var qid any
	if ing.QID != "" {
		qid = ing.QID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingredients (name, qid) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET qid = COALESCE(excluded.qid, ingredients.qid)
	`, ing.Name, qid)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	// If the UPSERT updated an existing row, LastInsertId may not reflect it.
	if id == 0 {
		row := s.db.QueryRowContext(ctx, "SELECT id FROM ingredients WHERE name = ?", ing.Name)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetIngredientByName retrieves one ingredient.
func (s *Store) GetIngredientByName(ctx context.Context, name string) (*Ingredient, error) {
	ing := &Ingredient{}
	var qid sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, qid FROM ingredients WHERE name = ?", name).
		Scan(&ing.ID, &ing.Name, &qid)
	if err != nil {
		return nil, err
	}
	ing.QID = qid.String
	return ing, nil
}

// AllIngredients returns the full vocabulary ordered by name.
func (s *Store) AllIngredients(ctx context.Context) ([]Ingredient, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, qid FROM ingredients ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ings []Ingredient
	for rows.Next() {
		var ing Ingredient
		var qid sql.NullString
		if err := rows.Scan(&ing.ID, &ing.Name, &qid); err != nil {
			return nil, err
		}
		ing.QID = qid.String
		ings = append(ings, ing)
	}
	return ings, rows.Err()
}

// InsertEmbedding stores (or replaces) the cached vector for an ingredient.
func (s *Store) InsertEmbedding(ctx context.Context, ingredientID int64, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding has dimension %d, store expects %d", len(embedding), s.embeddingDim)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_ingredients (ingredient_id, embedding) VALUES (?, ?)",
		ingredientID, serializeFloat32(embedding))
	return err
}

// GetEmbedding returns the cached vector for an ingredient, or nil when
// none is stored.
func (s *Store) GetEmbedding(ctx context.Context, ingredientID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM vec_ingredients WHERE ingredient_id = ?", ingredientID).
		Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeFloat32(blob), nil
}

// SimilarIngredients performs a KNN search returning the k nearest
// ingredients to the query vector.
func (s *Store) SimilarIngredients(ctx context.Context, query []float32, k int) ([]Similar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.ingredient_id, v.distance, i.name, i.qid
		FROM vec_ingredients v
		JOIN ingredients i ON i.id = v.ingredient_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(query), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Similar
	for rows.Next() {
		var r Similar
		var qid sql.NullString
		if err := rows.Scan(&r.ID, &r.Distance, &r.Name, &qid); err != nil {
			return nil, err
		}
		r.QID = qid.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- helpers ---

// serializeFloat32 converts a vector to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
