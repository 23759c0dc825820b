package kg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/knakk/rdf"

	"github.com/lkirchner/pizzakg/extract"
	"github.com/lkirchner/pizzakg/normalize"
	"github.com/lkirchner/pizzakg/resolve"
	"github.com/lkirchner/pizzakg/tabular"
)

// pizzeriaKey identifies one restaurant location for deduplication.
// State and country describe the address but do not split identity.
type pizzeriaKey struct {
	name    string
	address string
	city    string
}

// Stats are the per-run graph building tallies reported at the end.
type Stats struct {
	RowsProcessed         int `json:"rows_processed"`
	ItemsAccepted         int `json:"items_accepted"`
	Pizzerias             int `json:"pizzerias"`
	PriceParseFailures    int `json:"price_parse_failures"`
	UnresolvedIngredients int `json:"unresolved_ingredients"`
	UnresolvedCities      int `json:"unresolved_cities"`
}

// Builder accumulates triples for one run. It owns the identity caches
// (pizzeria composite keys, ingredient nodes) and is not safe for
// concurrent use; the pipeline is single-threaded by design.
type Builder struct {
	vocab      Vocab
	norm       *normalize.Normalizer
	known      map[string]string // normalized name -> ontology local name
	cities     *resolve.Resolver
	ingredient *resolve.Resolver

	triples     []rdf.Triple
	pizzerias   map[pizzeriaKey]rdf.IRI
	ingredients map[string]rdf.IRI // normalized name -> node, minted once per run
	unresolved  map[string]bool    // normalized ingredient names with no mapping at all
	addrSeq     int
	pizzaSeq    int

	stats Stats
}

// NewBuilder creates a graph builder. known maps normalized ingredient
// names to hand-authored ontology individuals and takes precedence over any
// QID mapping. cities and ingredients may run in cache-only mode (nil
// lookup) when the mapping files were pre-populated.
func NewBuilder(vocab Vocab, norm *normalize.Normalizer, known map[string]string, cities, ingredients *resolve.Resolver) *Builder {
	normKnown := make(map[string]string, len(known))
	for k, v := range known {
		normKnown[normalize.Key(k)] = v
	}
	return &Builder{
		vocab:       vocab,
		norm:        norm,
		known:       normKnown,
		cities:      cities,
		ingredient:  ingredients,
		pizzerias:   make(map[pizzeriaKey]rdf.IRI),
		ingredients: make(map[string]rdf.IRI),
		unresolved:  make(map[string]bool),
	}
}

func (b *Builder) add(s rdf.Subject, p rdf.Predicate, o rdf.Object) {
	b.triples = append(b.triples, rdf.Triple{Subj: s, Pred: p, Obj: o})
}

// AddRow ingests one tabular row and its accepted menu items. The pizzeria
// node is created on first sight of its composite key whether or not any
// item qualified; menu-item nodes are minted fresh for every accepted item.
func (b *Builder) AddRow(ctx context.Context, row tabular.Row, items []extract.MenuItem) {
	b.stats.RowsProcessed++

	pizzeria := b.ensurePizzeria(ctx, row)

	for _, item := range items {
		if !item.IsPizza {
			continue
		}
		b.addMenuItem(ctx, pizzeria, row, item)
	}
}

// ensurePizzeria returns the node for the row's restaurant, minting it and
// its postal-address subnode on first occurrence of the composite key.
func (b *Builder) ensurePizzeria(ctx context.Context, row tabular.Row) rdf.IRI {
	key := pizzeriaKey{name: row.Restaurant, address: row.Address, city: row.City}
	if node, ok := b.pizzerias[key]; ok {
		return node
	}

	node := b.vocab.Pizzeria(len(b.pizzerias))
	b.pizzerias[key] = node
	b.stats.Pizzerias++

	b.add(node, iri(rdfType), b.vocab.ClassPizzeria())
	b.add(node, iri(rdfsLabel), lit(row.Restaurant))

	addr, err := rdf.NewBlank(fmt.Sprintf("addr%d", b.addrSeq))
	b.addrSeq++
	if err != nil {
		// Blank node ids are generated, so this cannot fire.
		panic(fmt.Sprintf("kg: blank node: %v", err))
	}

	b.add(addr, iri(rdfType), schemaIRI("PostalAddress"))
	b.add(addr, schemaIRI("streetAddress"), lit(row.Address))
	if qid, ok := b.cities.Resolve(ctx, row.City); ok {
		b.add(addr, schemaIRI("addressLocality"), WikidataEntity(qid))
	} else {
		b.add(addr, schemaIRI("addressLocality"), lit(row.City))
		if row.City != "" {
			b.stats.UnresolvedCities++
		}
	}
	if row.State != "" {
		b.add(addr, schemaIRI("addressRegion"), lit(row.State))
	}
	if row.Postcode != "" {
		b.add(addr, schemaIRI("postalCode"), lit(row.Postcode))
	}
	if row.Country != "" {
		b.add(addr, schemaIRI("addressCountry"), lit(row.Country))
	}
	b.add(node, schemaIRI("address"), addr)

	return node
}

// addMenuItem mints a fresh pizza node for one accepted menu item and links
// it to its pizzeria and ingredient nodes.
func (b *Builder) addMenuItem(ctx context.Context, pizzeria rdf.IRI, row tabular.Row, item extract.MenuItem) {
	node := b.vocab.Pizza(b.pizzaSeq)
	b.pizzaSeq++
	b.stats.ItemsAccepted++

	label := item.Name
	if label == "" {
		label = row.MenuItem
	}

	b.add(node, iri(rdfType), b.vocab.ClassPizza())
	b.add(node, iri(rdfsLabel), lit(label))
	b.add(node, schemaIRI("name"), lit(label))
	if row.Description != "" {
		b.add(node, schemaIRI("description"), lit(row.Description))
	}
	if row.Value != "" {
		if price, err := strconv.ParseFloat(row.Value, 64); err == nil {
			b.add(node, b.vocab.Price(), decimal(strconv.FormatFloat(price, 'f', -1, 64)))
			if row.Currency != "" {
				b.add(node, schemaIRI("priceCurrency"), lit(row.Currency))
			}
		} else {
			// Policy: an unparseable price emits no price triple at all.
			slog.Debug("kg: unparseable item value", "row", row.Index, "value", row.Value)
			b.stats.PriceParseFailures++
		}
	}
	b.add(node, b.vocab.BelongsToPizzeria(), pizzeria)

	for _, raw := range b.norm.Clean(item.Ingredients) {
		ing := b.ensureIngredient(ctx, raw)
		b.add(node, b.vocab.ContainsIngredient(), ing)
	}
}

// ensureIngredient returns the node for a normalized ingredient, minting it
// at most once per run. Precedence: the hand-authored canonical table, then
// the QID mapping (with an owl:sameAs link to Wikidata), then a local slug
// node.
func (b *Builder) ensureIngredient(ctx context.Context, name string) rdf.IRI {
	key := normalize.Key(name)
	if node, ok := b.ingredients[key]; ok {
		return node
	}

	var node rdf.IRI
	switch {
	case b.known[key] != "":
		node = b.vocab.KnownIngredient(b.known[key])
	default:
		if qid, ok := b.ingredient.Resolve(ctx, key); ok {
			node = b.vocab.WikidataIngredient(qid)
			b.add(node, iri(owlSameAs), WikidataEntity(qid))
		} else {
			node = b.vocab.SlugIngredient(key)
			if !b.unresolved[key] {
				b.unresolved[key] = true
				b.stats.UnresolvedIngredients++
			}
		}
	}

	b.ingredients[key] = node
	b.add(node, iri(rdfType), b.vocab.ClassIngredient())
	return node
}

// Stats returns the running tallies.
func (b *Builder) Stats() Stats { return b.stats }

// Len returns the number of accumulated triples.
func (b *Builder) Len() int { return len(b.triples) }

// Triples exposes the accumulated triples, mainly for tests.
func (b *Builder) Triples() []rdf.Triple { return b.triples }

// WriteTurtle serializes the whole graph once, in insertion order.
func (b *Builder) WriteTurtle(w io.Writer) error {
	enc := rdf.NewTripleEncoder(w, rdf.Turtle)
	for _, t := range b.triples {
		if err := enc.Encode(t); err != nil {
			enc.Close()
			return fmt.Errorf("encoding triple: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing turtle encoder: %w", err)
	}
	return nil
}
