// Package pizzakg builds a knowledge graph of pizzas, their ingredients and
// the pizzerias serving them from a tabular menu export and a batch of LLM
// classification responses. The facade wires the pipeline stages together:
// tabular reading and filtering, response extraction, ingredient
// normalization, Wikidata resolution, graph assembly and validation
// reporting. Run history and the embedding cache live in SQLite.
package pizzakg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lkirchner/pizzakg/batch"
	"github.com/lkirchner/pizzakg/cluster"
	"github.com/lkirchner/pizzakg/embed"
	"github.com/lkirchner/pizzakg/extract"
	"github.com/lkirchner/pizzakg/kg"
	"github.com/lkirchner/pizzakg/normalize"
	"github.com/lkirchner/pizzakg/resolve"
	"github.com/lkirchner/pizzakg/store"
	"github.com/lkirchner/pizzakg/tabular"
	"github.com/lkirchner/pizzakg/validate"
)

// Engine is the main entry point for the pizza knowledge-graph pipeline.
type Engine interface {
	// Build assembles the knowledge graph from the source file and the
	// classification responses, serializes it as Turtle, saves the grown
	// mapping files and records the run.
	Build(ctx context.Context) (*BuildStats, error)

	// CleanResponses normalizes the ingredient lists inside the response
	// file in place, returning the number of changed responses.
	CleanResponses() (int, error)

	// MapIngredients resolves every ingredient name in the responses
	// against Wikidata and saves the grown mapping file.
	MapIngredients(ctx context.Context) (*MapStats, error)

	// MapCities resolves every city in the source against Wikidata and
	// saves the grown mapping file.
	MapCities(ctx context.Context) (*MapStats, error)

	// Validate writes a human-readable source-vs-extraction report.
	Validate(w io.Writer) error

	// ClusterIngredients embeds the extracted ingredient vocabulary and
	// groups it into synonym clusters, caching vectors in the store.
	ClusterIngredients(ctx context.Context) (*cluster.Result, error)

	// CreateBatchInput writes the batch-API input JSONL for the relevant
	// source rows, returning the number of requests written.
	CreateBatchInput(path string) (int, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// BuildStats reports one graph build.
type BuildStats struct {
	RunID string `json:"run_id"`

	RowsRead     int `json:"rows_read"`     // rows parsed from the source
	RowsSkipped  int `json:"rows_skipped"`  // malformed source rows
	RowsFiltered int `json:"rows_filtered"` // rows dropped by the category filter
	NoResponse   int `json:"no_response"`   // relevant rows with no matching response

	kg.Stats
	ParseFailures int `json:"parse_failures"` // responses whose content failed extraction

	Triples    int    `json:"triples"`
	OutputPath string `json:"output_path"`
}

// MapStats reports one standalone mapping run.
type MapStats struct {
	Names   int    `json:"names"`   // distinct names considered
	Lookups int    `json:"lookups"` // external calls made
	Misses  int    `json:"misses"`  // lookups that found nothing
	Path    string `json:"path"`    // mapping file written
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg   Config
	norm  *normalize.Normalizer
	store *store.Store
}

// New creates a new engine with the given configuration.
func New(cfg Config) (Engine, error) {
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &engine{
		cfg:   cfg,
		norm:  normalize.New(cfg.Renames, cfg.Remove),
		store: s,
	}, nil
}

// Build runs the full assembly pipeline.
func (e *engine) Build(ctx context.Context) (*BuildStats, error) {
	started := time.Now()
	stats := &BuildStats{OutputPath: e.cfg.OutputPath}

	rows, err := e.readRows(stats)
	if err != nil {
		return nil, err
	}
	relevant := tabular.FilterRows(rows, e.filter())
	stats.RowsFiltered = len(rows) - len(relevant)
	if len(relevant) == 0 {
		return nil, ErrNoRows
	}

	parsed, failures, err := e.readResponses()
	if err != nil {
		return nil, err
	}
	// Envelopes without a usable custom_id; content-level failures are
	// tallied per row below.
	stats.ParseFailures = len(failures)

	cities, ingredients, err := e.resolvers(resolverConfig{live: e.cfg.LiveLookups})
	if err != nil {
		return nil, err
	}

	builder := kg.NewBuilder(kg.NewVocab(e.cfg.BaseURI), e.norm, e.cfg.KnownIngredients, cities.resolver, ingredients.resolver)

	for _, row := range relevant {
		res, ok := parsed[row.Index]
		if !ok {
			// No response matched this row's index: structural mismatch
			// between source and batch output. Skip the row entirely.
			slog.Warn("build: row has no classification response", "row", row.Index, "item", row.MenuItem)
			stats.NoResponse++
			continue
		}
		if res.Failed() {
			// Malformed content still yields the pizzeria node; the row
			// just contributes no menu items.
			slog.Warn("build: response content failed extraction",
				"row", row.Index, "custom_id", res.CustomID, "error", res.Failure.Message)
			stats.ParseFailures++
		}
		builder.AddRow(ctx, row, res.Items)
	}

	if err := e.writeGraph(builder); err != nil {
		return nil, err
	}
	stats.Stats = builder.Stats()
	stats.Triples = builder.Len()

	if err := cities.save(); err != nil {
		return nil, err
	}
	if err := ingredients.save(); err != nil {
		return nil, err
	}

	runID, err := e.store.RecordRun(ctx, store.Run{
		StartedAt:             started,
		FinishedAt:            time.Now(),
		RowsProcessed:         stats.RowsProcessed,
		ItemsAccepted:         stats.ItemsAccepted,
		ParseFailures:         stats.ParseFailures,
		SkippedRows:           stats.RowsSkipped + stats.NoResponse,
		UnresolvedIngredients: stats.UnresolvedIngredients,
		UnresolvedCities:      stats.UnresolvedCities,
		OutputPath:            e.cfg.OutputPath,
	})
	if err != nil {
		slog.Warn("build: recording run failed", "error", err)
	}
	stats.RunID = runID

	slog.Info("build: graph ready",
		"output", e.cfg.OutputPath,
		"triples", stats.Triples,
		"pizzerias", stats.Pizzerias,
		"items", stats.ItemsAccepted,
		"parse_failures", stats.ParseFailures,
		"unresolved_ingredients", stats.UnresolvedIngredients,
		"elapsed", time.Since(started).Round(time.Millisecond))
	return stats, nil
}

// CleanResponses rewrites the response file with normalized ingredients.
func (e *engine) CleanResponses() (int, error) {
	return extract.CleanFile(e.cfg.ResponsesPath, e.norm)
}

// MapIngredients pre-populates the ingredient mapping file.
func (e *engine) MapIngredients(ctx context.Context) (*MapStats, error) {
	parsed, _, err := e.readResponses()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	for _, res := range parsed {
		for _, item := range res.Items {
			for _, name := range e.norm.Clean(item.Ingredients) {
				key := normalize.Key(name)
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				names = append(names, key)
			}
		}
	}

	lookup, err := resolve.NewIngredientLookup(e.cfg.WikidataEndpoint, e.lookupTimeout())
	if err != nil {
		return nil, fmt.Errorf("creating ingredient lookup: %w", err)
	}
	return e.runMapping(ctx, names, lookup, e.cfg.IngredientMapPath, e.cfg.LockedIngredientMapPath)
}

// MapCities pre-populates the city mapping file.
func (e *engine) MapCities(ctx context.Context) (*MapStats, error) {
	stats := &BuildStats{}
	rows, err := e.readRows(stats)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	for _, row := range tabular.FilterRows(rows, e.filter()) {
		key := normalize.Key(row.City)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, key)
	}

	lookup, err := resolve.NewCityLookup(e.cfg.WikidataEndpoint, e.lookupTimeout())
	if err != nil {
		return nil, fmt.Errorf("creating city lookup: %w", err)
	}
	return e.runMapping(ctx, names, lookup, e.cfg.CityMapPath, e.cfg.LockedCityMapPath)
}

// runMapping resolves names through a fresh resolver and saves the store
// mapping, also syncing resolved ingredients into the vocabulary table.
func (e *engine) runMapping(ctx context.Context, names []string, lookup resolve.Lookup, storePath, lockedPath string) (*MapStats, error) {
	stored, err := resolve.Load(storePath)
	if err != nil {
		return nil, err
	}
	locked, err := resolve.Load(lockedPath)
	if err != nil {
		return nil, err
	}

	r := resolve.NewResolver(stored, locked, lookup, e.lookupDelay())
	r.ResolveAll(ctx, names)

	if err := stored.Save(storePath); err != nil {
		return nil, err
	}
	if storePath == e.cfg.IngredientMapPath {
		e.syncVocabulary(ctx, stored)
	}

	return &MapStats{
		Names:   len(names),
		Lookups: r.Lookups(),
		Misses:  r.Misses(),
		Path:    storePath,
	}, nil
}

// syncVocabulary mirrors the ingredient mapping into the SQLite vocabulary
// so KNN search over cached embeddings can report QIDs. Failures are logged,
// the JSON file stays the source of truth.
func (e *engine) syncVocabulary(ctx context.Context, m resolve.Mappings) {
	for name := range m {
		qid, _ := m.QID(name)
		if _, err := e.store.UpsertIngredient(ctx, store.Ingredient{Name: name, QID: qid}); err != nil {
			slog.Warn("store: syncing ingredient failed", "name", name, "error", err)
		}
	}
}

// Validate writes the side-by-side source-vs-extraction report.
func (e *engine) Validate(w io.Writer) error {
	stats := &BuildStats{}
	rows, err := e.readRows(stats)
	if err != nil {
		return err
	}
	relevant := tabular.FilterRows(rows, e.filter())

	parsed, _, err := e.readResponses()
	if err != nil {
		return err
	}
	return validate.Write(w, validate.SourceItems(relevant), parsed)
}

// ClusterIngredients embeds and clusters the extracted vocabulary.
func (e *engine) ClusterIngredients(ctx context.Context) (*cluster.Result, error) {
	parsed, _, err := e.readResponses()
	if err != nil {
		return nil, err
	}
	var items []extract.MenuItem
	for _, res := range parsed {
		items = append(items, res.Items...)
	}

	provider, err := embed.NewProvider(e.cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	result, err := cluster.Run(ctx, items, provider, e.cfg.Cluster)
	if err != nil {
		return nil, err
	}

	// Cache vectors for later KNN search; the clustering result stands on
	// its own if any insert fails.
	for i, term := range result.Terms {
		id, err := e.store.UpsertIngredient(ctx, store.Ingredient{Name: term})
		if err != nil {
			slog.Warn("store: caching ingredient failed", "term", term, "error", err)
			continue
		}
		if err := e.store.InsertEmbedding(ctx, id, result.Vectors[i]); err != nil {
			slog.Warn("store: caching embedding failed", "term", term, "error", err)
		}
	}

	slog.Info("cluster: vocabulary grouped",
		"terms", len(result.Terms), "clusters", len(result.Clusters))
	return result, nil
}

// CreateBatchInput writes the classification requests for the source rows.
func (e *engine) CreateBatchInput(path string) (int, error) {
	stats := &BuildStats{}
	rows, err := e.readRows(stats)
	if err != nil {
		return 0, err
	}
	relevant := tabular.FilterRows(rows, e.filter())
	if len(relevant) == 0 {
		return 0, ErrNoRows
	}

	reqs := batch.BuildRequests(relevant, e.cfg.BatchModel)

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating batch input %s: %w", path, err)
	}
	defer f.Close()

	if err := batch.WriteJSONL(f, reqs); err != nil {
		return 0, err
	}
	return len(reqs), nil
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine.
func (e *engine) Close() error {
	return e.store.Close()
}

// readRows loads the tabular source, CSV or XLSX by extension.
func (e *engine) readRows(stats *BuildStats) ([]tabular.Row, error) {
	skipped := func(line int, err error) {
		slog.Warn("tabular: skipping malformed row", "line", line, "error", err)
		stats.RowsSkipped++
	}

	var rows []tabular.Row
	var err error
	switch ext := strings.ToLower(filepath.Ext(e.cfg.SourcePath)); ext {
	case ".csv":
		f, ferr := os.Open(e.cfg.SourcePath)
		if ferr != nil {
			return nil, fmt.Errorf("opening source: %w", ferr)
		}
		defer f.Close()
		rows, err = tabular.ReadCSV(f, skipped)
	case ".xlsx":
		rows, err = tabular.ReadXLSX(e.cfg.SourcePath, skipped)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("reading source %s: %w", e.cfg.SourcePath, err)
	}
	stats.RowsRead = len(rows)
	return rows, nil
}

// readResponses loads and parses the classification response file.
func (e *engine) readResponses() (map[int]extract.Result, []extract.Result, error) {
	f, err := os.Open(e.cfg.ResponsesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening responses: %w", err)
	}
	defer f.Close()

	parsed, failures, err := extract.ReadResponses(f)
	if err != nil {
		return nil, nil, fmt.Errorf("reading responses %s: %w", e.cfg.ResponsesPath, err)
	}
	if len(parsed) == 0 && len(failures) == 0 {
		return nil, nil, ErrNoResponses
	}
	return parsed, failures, nil
}

// filter builds the category filter, falling back to the defaults when the
// config lists are empty.
func (e *engine) filter() tabular.Filter {
	f := tabular.DefaultFilter()
	if len(e.cfg.AllowCategories) > 0 {
		f.Allow = e.cfg.AllowCategories
	}
	if len(e.cfg.ExcludeCategories) > 0 {
		f.Exclude = e.cfg.ExcludeCategories
	}
	return f
}

func (e *engine) lookupTimeout() time.Duration {
	if e.cfg.LookupTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.cfg.LookupTimeoutSec) * time.Second
}

func (e *engine) lookupDelay() time.Duration {
	if e.cfg.LookupDelayMS < 0 {
		return 0
	}
	return time.Duration(e.cfg.LookupDelayMS) * time.Millisecond
}

// resolverConfig controls how Build wires its resolvers.
type resolverConfig struct {
	live bool
}

// boundResolver pairs a resolver with the mapping file it grows into.
type boundResolver struct {
	resolver *resolve.Resolver
	store    resolve.Mappings
	path     string
}

func (b boundResolver) save() error {
	return b.store.Save(b.path)
}

// resolvers builds the city and ingredient resolvers for a graph build.
// Without live lookups both run cache-only against the mapping files.
func (e *engine) resolvers(rc resolverConfig) (cities, ingredients boundResolver, err error) {
	var cityLookup, ingLookup resolve.Lookup
	if rc.live {
		w, werr := resolve.NewCityLookup(e.cfg.WikidataEndpoint, e.lookupTimeout())
		if werr != nil {
			return cities, ingredients, fmt.Errorf("creating city lookup: %w", werr)
		}
		cityLookup = w
		w, werr = resolve.NewIngredientLookup(e.cfg.WikidataEndpoint, e.lookupTimeout())
		if werr != nil {
			return cities, ingredients, fmt.Errorf("creating ingredient lookup: %w", werr)
		}
		ingLookup = w
	}

	cities, err = e.bindResolver(e.cfg.CityMapPath, e.cfg.LockedCityMapPath, cityLookup)
	if err != nil {
		return cities, ingredients, err
	}
	ingredients, err = e.bindResolver(e.cfg.IngredientMapPath, e.cfg.LockedIngredientMapPath, ingLookup)
	return cities, ingredients, err
}

func (e *engine) bindResolver(storePath, lockedPath string, lookup resolve.Lookup) (boundResolver, error) {
	stored, err := resolve.Load(storePath)
	if err != nil {
		return boundResolver{}, err
	}
	locked, err := resolve.Load(lockedPath)
	if err != nil {
		return boundResolver{}, err
	}
	return boundResolver{
		resolver: resolve.NewResolver(stored, locked, lookup, e.lookupDelay()),
		store:    stored,
		path:     storePath,
	}, nil
}

// writeGraph serializes the accumulated triples once, at the end.
func (e *engine) writeGraph(b *kg.Builder) error {
	if dir := filepath.Dir(e.cfg.OutputPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.Create(e.cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("creating output %s: %w", e.cfg.OutputPath, err)
	}
	defer f.Close()

	if err := b.WriteTurtle(f); err != nil {
		return err
	}
	return f.Close()
}
