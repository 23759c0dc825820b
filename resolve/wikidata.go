package resolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knakk/sparql"
)

// DefaultEndpoint is the public Wikidata query service.
const DefaultEndpoint = "https://query.wikidata.org/sparql"

// wikidataEntityPrefix is stripped from result IRIs to obtain the bare QID.
const wikidataEntityPrefix = "http://www.wikidata.org/entity/"

// ingredientQuery finds an entity whose English label matches the name
// exactly. Ingredient names are common nouns, so an exact label match is
// precise enough and avoids false positives from fuzzy search.
const ingredientQuery = `
SELECT ?item WHERE {
  ?item ?label "%s"@en.
  FILTER(STRSTARTS(STR(?item), "%sQ"))
  SERVICE wikibase:label { bd:serviceParam wikibase:language "[AUTO_LANGUAGE],en". }
}
LIMIT 1`

// cityQuery uses the EntitySearch API and then restricts the hit to
// settlement-like types, so "Springfield" resolves to a place and not a
// TV show.
const cityQuery = `
SELECT DISTINCT ?item WHERE {
  SERVICE wikibase:mwapi {
    bd:serviceParam wikibase:endpoint "www.wikidata.org";
                    wikibase:api "EntitySearch";
                    mwapi:search "%s";
                    mwapi:language "en".
    ?item wikibase:apiOutputItem mwapi:item.
  }
  VALUES ?cityTypes {
    wd:Q515     # city
    wd:Q1549591 # big city
    wd:Q486972  # human settlement
    wd:Q3957    # town
    wd:Q7930989 # village
  }
  ?item (wdt:P31|wdt:P279) ?cityTypes.
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en". }
}
LIMIT 1`

// Wikidata is a Lookup backed by the Wikidata SPARQL endpoint.
type Wikidata struct {
	repo  *sparql.Repo
	query string // format string with one %s placeholder for the name
}

// NewIngredientLookup creates a Wikidata lookup for ingredient names.
// timeout bounds each HTTP request; a timed-out query reads as not-found.
func NewIngredientLookup(endpoint string, timeout time.Duration) (*Wikidata, error) {
	return newWikidata(endpoint, timeout, fmt.Sprintf(ingredientQuery, "%s", wikidataEntityPrefix))
}

// NewCityLookup creates a Wikidata lookup for city names.
func NewCityLookup(endpoint string, timeout time.Duration) (*Wikidata, error) {
	return newWikidata(endpoint, timeout, cityQuery)
}

func newWikidata(endpoint string, timeout time.Duration, query string) (*Wikidata, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	repo, err := sparql.NewRepo(endpoint, sparql.Timeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("creating sparql repo: %w", err)
	}
	return &Wikidata{repo: repo, query: query}, nil
}

// QID queries the endpoint for the given name and returns the bare QID of
// the first hit, or "" when nothing matched. The underlying HTTP client
// applies the configured timeout; callers treat errors as not-found.
func (w *Wikidata) QID(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	safe := strings.ReplaceAll(name, `"`, `\"`)
	res, err := w.repo.Query(fmt.Sprintf(w.query, safe))
	if err != nil {
		return "", fmt.Errorf("sparql query for %q: %w", name, err)
	}
	for _, sol := range res.Solutions() {
		item, ok := sol["item"]
		if !ok {
			continue
		}
		iri := item.String()
		if strings.HasPrefix(iri, wikidataEntityPrefix) {
			return strings.TrimPrefix(iri, wikidataEntityPrefix), nil
		}
	}
	return "", nil
}
