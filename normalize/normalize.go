// Package normalize canonicalizes raw ingredient strings coming out of the
// LLM classification step: synonyms are renamed, junk terms are dropped, and
// duplicates are collapsed case-insensitively while keeping the first-seen
// spelling and order.
package normalize

import "strings"

// Normalizer holds the rename and denylist tables. Both are matched against
// the case-folded form of the input; a renamed value is re-checked against
// the denylist, so a rename can drop an ingredient.
type Normalizer struct {
	renames map[string]string // case-folded raw -> replacement (replacement keeps its authored casing)
	remove  map[string]bool   // case-folded terms to drop
}

// New builds a Normalizer from configuration tables. Keys are case-folded
// internally; callers can author them in any casing.
func New(renames map[string]string, remove []string) *Normalizer {
	n := &Normalizer{
		renames: make(map[string]string, len(renames)),
		remove:  make(map[string]bool, len(remove)),
	}
	for k, v := range renames {
		n.renames[strings.ToLower(k)] = v
	}
	for _, r := range remove {
		n.remove[strings.ToLower(r)] = true
	}
	return n
}

// Normalize canonicalizes a single ingredient. The second return value is
// false when the ingredient is denylisted and must be dropped.
func (n *Normalizer) Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if replacement, ok := n.renames[strings.ToLower(s)]; ok {
		s = replacement
	}
	if n.remove[strings.ToLower(s)] {
		return "", false
	}
	return s, true
}

// Clean renames, drops, and deduplicates a full ingredient list.
// Dedup is case-insensitive with a keep-first policy; output preserves the
// first-seen order and casing. Clean is idempotent.
func (n *Normalizer) Clean(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, keep := n.Normalize(item)
		if !keep {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// Key returns the case-folded, trimmed form of an ingredient used for node
// identity and mapping-file lookups.
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
