// Package resolve maps normalized ingredient and city names to Wikidata
// identifiers. Resolution is layered: a locked override file pins entries
// that automated lookups must never touch, a growing mapping file caches
// earlier results across runs, and only keys unknown to both reach the
// external lookup — once each, with a courtesy delay between calls.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/lkirchner/pizzakg/normalize"
)

// Mapping is one entry of a mapping file. A nil QID means the name was
// looked up and not found; Locked entries are manually curated and are
// never overwritten by resolution.
type Mapping struct {
	QID    *string `json:"qid"`
	Locked bool    `json:"locked"`
}

// Mappings is a mapping file in memory, keyed by normalized name.
type Mappings map[string]Mapping

// Load reads a mapping file. A missing file is an empty mapping, not an
// error, so first runs need no setup.
func Load(path string) (Mappings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Mappings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading mapping file %s: %w", path, err)
	}
	var m Mappings
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing mapping file %s: %w", path, err)
	}
	if m == nil {
		m = Mappings{}
	}
	return m, nil
}

// Save writes a mapping file. Map keys are encoded in sorted order, so
// diffs stay readable across runs.
func (m Mappings) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding mapping file: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing mapping file %s: %w", path, err)
	}
	return nil
}

// QID returns the identifier for a key if the mapping holds a non-nil one.
func (m Mappings) QID(key string) (string, bool) {
	entry, ok := m[normalize.Key(key)]
	if !ok || entry.QID == nil || *entry.QID == "" {
		return "", false
	}
	return *entry.QID, true
}

// Lookup finds at most one external identifier for a name. Implementations
// must apply their own request timeout; an empty string means not found.
type Lookup interface {
	QID(ctx context.Context, name string) (string, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, name string) (string, error)

func (f LookupFunc) QID(ctx context.Context, name string) (string, error) { return f(ctx, name) }

// Resolver resolves names against a locked override file, a cache mapping,
// and an external lookup, in that order of precedence.
type Resolver struct {
	store     Mappings
	locked    Mappings
	lookup    Lookup
	delay     time.Duration
	lastCall  time.Time
	attempted map[string]bool // keys looked up during this run
	lookups   int
	misses    int
}

// NewResolver builds a Resolver. store is mutated as lookups complete and
// should be saved by the caller at the end of the run; locked is read-only.
// A nil lookup disables external resolution entirely (cache-only mode).
func NewResolver(store, locked Mappings, lookup Lookup, delay time.Duration) *Resolver {
	if store == nil {
		store = Mappings{}
	}
	return &Resolver{
		store:     store,
		locked:    locked,
		lookup:    lookup,
		delay:     delay,
		attempted: make(map[string]bool),
	}
}

// Resolve returns the identifier for a name, or "" when none is known.
// Locked entries win unconditionally and never trigger a lookup. Cached
// non-nil identifiers are returned as-is. Everything else is looked up at
// most once per run; errors and timeouts are recorded as not-found so a
// later run can retry them.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, bool) {
	key := normalize.Key(name)
	if key == "" {
		return "", false
	}

	if entry, ok := r.locked[key]; ok && entry.Locked {
		if entry.QID == nil || *entry.QID == "" {
			return "", false
		}
		return *entry.QID, true
	}

	if entry, ok := r.store[key]; ok {
		if entry.QID != nil && *entry.QID != "" {
			return *entry.QID, true
		}
		// Known miss: retried on a later run, not within this one.
		if r.attempted[key] || r.lookup == nil {
			return "", false
		}
	}

	if r.lookup == nil || r.attempted[key] {
		return "", false
	}
	r.attempted[key] = true
	r.throttle(ctx)

	qid, err := r.lookup.QID(ctx, key)
	r.lookups++
	if err != nil {
		slog.Warn("resolve: lookup failed, recording miss", "name", key, "error", err)
		qid = ""
	}

	entry := Mapping{Locked: false}
	if qid != "" {
		entry.QID = &qid
	} else {
		r.misses++
	}
	r.store[key] = entry
	return qid, qid != ""
}

// ResolveAll resolves every name in the slice, useful for the standalone
// mapping commands that pre-populate the cache files.
func (r *Resolver) ResolveAll(ctx context.Context, names []string) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for _, name := range sorted {
		if ctx.Err() != nil {
			return
		}
		qid, ok := r.Resolve(ctx, name)
		if ok {
			slog.Info("resolve: mapped", "name", normalize.Key(name), "qid", qid)
		} else {
			slog.Info("resolve: not found", "name", normalize.Key(name))
		}
	}
}

// Lookups returns the number of external lookup calls made this run.
func (r *Resolver) Lookups() int { return r.lookups }

// Misses returns the number of lookups that found nothing this run.
func (r *Resolver) Misses() int { return r.misses }

// throttle enforces the fixed courtesy delay between external calls.
func (r *Resolver) throttle(ctx context.Context) {
	if r.delay <= 0 {
		return
	}
	if wait := r.delay - time.Since(r.lastCall); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}
	r.lastCall = time.Now()
}
