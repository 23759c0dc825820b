// Package kg assembles the pizza knowledge graph: one food-establishment
// node per distinct restaurant location, one menu-item node per accepted
// pizza, and shared ingredient nodes linked to Wikidata where a mapping is
// known. Triples use schema.org for the postal-address and price shape and
// the course pizza ontology's classes and relations for the domain typing.
package kg

import (
	"fmt"
	"strings"

	"github.com/knakk/rdf"
)

// Namespaces and fixed terms. The ontology property names are German
// because the course ontology defines them that way; they are interop
// surface, not style.
const (
	DefaultBase = "http://ontology.pizzakg.dev/pizza#"
	schemaNS    = "http://schema.org/"
	wikidataNS  = "http://www.wikidata.org/entity/"

	rdfType   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	rdfsLabel = "http://www.w3.org/2000/01/rdf-schema#label"
	owlSameAs = "http://www.w3.org/2002/07/owl#sameAs"
	xsdDec    = "http://www.w3.org/2001/XMLSchema#decimal"
)

// Vocab mints IRIs inside the configured base namespace.
type Vocab struct {
	base string
}

// NewVocab returns a Vocab for the given base namespace, defaulting to
// DefaultBase when empty.
func NewVocab(base string) Vocab {
	if base == "" {
		base = DefaultBase
	}
	return Vocab{base: base}
}

func (v Vocab) Base() string { return v.base }

// Ontology classes and properties.
func (v Vocab) ClassPizzeria() rdf.IRI   { return iri(v.base + "Pizzeria") }
func (v Vocab) ClassPizza() rdf.IRI      { return iri(v.base + "Pizza") }
func (v Vocab) ClassIngredient() rdf.IRI { return iri(v.base + "Zutat") }

func (v Vocab) ContainsIngredient() rdf.IRI { return iri(v.base + "enthaeltZutat") }
func (v Vocab) BelongsToPizzeria() rdf.IRI  { return iri(v.base + "gehörtZuPizzeria") }
func (v Vocab) Price() rdf.IRI              { return iri(v.base + "preis") }

// Minted individuals.
func (v Vocab) Pizzeria(n int) rdf.IRI { return iri(fmt.Sprintf("%sPizzeria_%d", v.base, n)) }
func (v Vocab) Pizza(n int) rdf.IRI    { return iri(fmt.Sprintf("%sPizza_%d", v.base, n)) }

// KnownIngredient returns the IRI of a hand-authored ontology ingredient.
func (v Vocab) KnownIngredient(localName string) rdf.IRI { return iri(v.base + localName) }

// WikidataIngredient mints the local node for an ingredient resolved to a
// Wikidata entity; the node carries an owl:sameAs link to that entity.
func (v Vocab) WikidataIngredient(qid string) rdf.IRI {
	return iri(v.base + "Ingredient_wd_" + qid)
}

// SlugIngredient mints a local node for an ingredient no mapping knows.
func (v Vocab) SlugIngredient(key string) rdf.IRI {
	return iri(v.base + "Ingredient_" + Slug(key))
}

// Slug turns a normalized ingredient key into an IRI-safe local name.
func Slug(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, key)
}

// Schema.org terms.
func schemaIRI(local string) rdf.IRI { return iri(schemaNS + local) }

// WikidataEntity returns the IRI of a Wikidata entity by QID.
func WikidataEntity(qid string) rdf.IRI { return iri(wikidataNS + qid) }

// iri builds an IRI from a string known to be valid. The inputs are either
// constants or slugged, so the error path cannot fire.
func iri(s string) rdf.IRI {
	v, err := rdf.NewIRI(s)
	if err != nil {
		panic(fmt.Sprintf("kg: invalid IRI %q: %v", s, err))
	}
	return v
}

// lit builds a plain string literal.
func lit(s string) rdf.Literal {
	v, err := rdf.NewLiteral(s)
	if err != nil {
		panic(fmt.Sprintf("kg: invalid literal %q: %v", s, err))
	}
	return v
}

// decimal builds an xsd:decimal typed literal.
func decimal(s string) rdf.Literal {
	return rdf.NewTypedLiteral(s, iri(xsdDec))
}
