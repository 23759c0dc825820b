// Package cluster groups ingredient names into synonym clusters using
// sentence embeddings. Each ingredient is embedded together with the menu
// items it appears on (context makes "mozzarella" and "mozzarella cheese"
// land close), then merged bottom-up with average-linkage agglomerative
// clustering under a cosine-distance threshold. The embedding model is an
// external oracle behind embed.Provider.
package cluster

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lkirchner/pizzakg/embed"
	"github.com/lkirchner/pizzakg/extract"
)

// Config controls clustering behavior.
type Config struct {
	// Threshold is the cosine-distance cutoff for merging two clusters.
	// Smaller values produce tighter synonym groups.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// GenericTokens are dropped from ingredient terms before comparison
	// ("cheese", "sauce", "fresh" carry no identity on their own).
	GenericTokens []string `json:"generic_tokens" yaml:"generic_tokens"`
}

// DefaultConfig returns the thresholds tuned on the pizza corpus.
func DefaultConfig() Config {
	return Config{
		Threshold:     0.25,
		GenericTokens: []string{"cheese", "sauce", "fresh", "dried"},
	}
}

// Result holds the clustering output.
type Result struct {
	// Terms are the normalized ingredient terms, sorted.
	Terms []string
	// Vectors are the context embeddings, parallel to Terms.
	Vectors [][]float32
	// Clusters groups terms by cluster label.
	Clusters map[int][]string
	// Canonical maps every term to the shortest member of its cluster.
	Canonical map[string]string
}

// NormalizeTerm lower-cases a term, replaces punctuation with spaces, and
// drops generic tokens.
func NormalizeTerm(term string, generic map[string]bool) string {
	var b strings.Builder
	for _, r := range strings.ToLower(term) {
		if (r >= 'a' && r <= 'z') || r == ' ' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	words := strings.Fields(b.String())
	kept := words[:0]
	for _, w := range words {
		if !generic[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// contextSentences builds one embedding sentence per normalized term,
// listing the menu items it appears on.
func contextSentences(items []extract.MenuItem, generic map[string]bool) ([]string, []string) {
	contexts := make(map[string]map[string]bool)
	for _, item := range items {
		for _, ing := range item.Ingredients {
			term := NormalizeTerm(ing, generic)
			if term == "" {
				continue
			}
			if contexts[term] == nil {
				contexts[term] = make(map[string]bool)
			}
			if item.Name != "" {
				contexts[term][item.Name] = true
			}
		}
	}

	terms := make([]string, 0, len(contexts))
	for t := range contexts {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	sentences := make([]string, len(terms))
	for i, t := range terms {
		names := make([]string, 0, len(contexts[t]))
		for n := range contexts[t] {
			names = append(names, n)
		}
		sort.Strings(names)
		if len(names) == 0 {
			sentences[i] = t
		} else {
			sentences[i] = fmt.Sprintf("%s in %s", t, strings.Join(names, ", "))
		}
	}
	return terms, sentences
}

// Run embeds the ingredient vocabulary of the given menu items and clusters
// it into synonym groups.
func Run(ctx context.Context, items []extract.MenuItem, provider embed.Provider, cfg Config) (*Result, error) {
	generic := make(map[string]bool, len(cfg.GenericTokens))
	for _, t := range cfg.GenericTokens {
		generic[strings.ToLower(t)] = true
	}

	terms, sentences := contextSentences(items, generic)
	if len(terms) == 0 {
		return &Result{Clusters: map[int][]string{}, Canonical: map[string]string{}}, nil
	}

	vectors, err := provider.Embed(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embedding %d ingredient contexts: %w", len(sentences), err)
	}
	if len(vectors) != len(terms) {
		return nil, fmt.Errorf("embedding count mismatch: %d vectors for %d terms", len(vectors), len(terms))
	}

	labels := Agglomerate(vectors, cfg.Threshold)

	clusters := make(map[int][]string)
	for i, lbl := range labels {
		clusters[lbl] = append(clusters[lbl], terms[i])
	}

	canonical := make(map[string]string, len(terms))
	for _, group := range clusters {
		shortest := group[0]
		for _, t := range group[1:] {
			if len(t) < len(shortest) || (len(t) == len(shortest) && t < shortest) {
				shortest = t
			}
		}
		for _, t := range group {
			canonical[t] = shortest
		}
	}

	return &Result{Terms: terms, Vectors: vectors, Clusters: clusters, Canonical: canonical}, nil
}

// Agglomerate runs average-linkage agglomerative clustering over cosine
// distance, merging until no cluster pair is closer than threshold.
// Returns a cluster label per input vector, labels dense from 0.
func Agglomerate(vectors [][]float32, threshold float64) []int {
	n := len(vectors)
	if n == 0 {
		return nil
	}

	// Pairwise cosine distances.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := CosineDistance(vectors[i], vectors[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	avgLink := func(a, b []int) float64 {
		sum := 0.0
		for _, i := range a {
			for _, j := range b {
				sum += dist[i][j]
			}
		}
		return sum / float64(len(a)*len(b))
	}

	for len(clusters) > 1 {
		bestA, bestB := -1, -1
		bestD := math.Inf(1)
		for a := 0; a < len(clusters); a++ {
			for b := a + 1; b < len(clusters); b++ {
				if d := avgLink(clusters[a], clusters[b]); d < bestD {
					bestD = d
					bestA, bestB = a, b
				}
			}
		}
		if bestD >= threshold {
			break
		}
		clusters[bestA] = append(clusters[bestA], clusters[bestB]...)
		clusters = append(clusters[:bestB], clusters[bestB+1:]...)
	}

	labels := make([]int, n)
	for lbl, members := range clusters {
		for _, i := range members {
			labels[i] = lbl
		}
	}
	return labels
}

// CosineDistance returns 1 - cosine similarity of two vectors. Mismatched
// or zero vectors read as maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
