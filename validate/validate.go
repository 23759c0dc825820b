// Package validate cross-references the tabular source against the parsed
// LLM output and renders a human-readable comparison, flagging lines the
// extractor could not parse. It is a pure function of its inputs: the
// report sequence can be consumed, discarded, and re-generated freely.
package validate

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"

	"github.com/lkirchner/pizzakg/extract"
	"github.com/lkirchner/pizzakg/tabular"
)

// SourceItem is the slice of a tabular row shown in the report.
type SourceItem struct {
	Restaurant  string
	Name        string
	Description string
}

// Report is the comparison outcome for one source row.
type Report struct {
	ID     int
	Source SourceItem
	Result *extract.Result // nil when no response matched the row
}

// SourceItems indexes rows by their row index for comparison.
func SourceItems(rows []tabular.Row) map[int]SourceItem {
	items := make(map[int]SourceItem, len(rows))
	for _, r := range rows {
		items[r.Index] = SourceItem{
			Restaurant:  r.Restaurant,
			Name:        r.MenuItem,
			Description: r.Description,
		}
	}
	return items
}

// Compare yields one Report per source row in ascending row order. The
// sequence is finite and restartable.
func Compare(source map[int]SourceItem, parsed map[int]extract.Result) iter.Seq[Report] {
	ids := make([]int, 0, len(source))
	for id := range source {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return func(yield func(Report) bool) {
		for _, id := range ids {
			rep := Report{ID: id, Source: source[id]}
			if res, ok := parsed[id]; ok {
				rep.Result = &res
			}
			if !yield(rep) {
				return
			}
		}
	}
}

// String renders the report block shown to the operator.
func (r Report) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 60))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Restaurant: %s\n", r.Source.Restaurant)
	fmt.Fprintf(&b, "Menu Item: %s\n", r.Source.Name)
	fmt.Fprintf(&b, "Description: %s\n", r.Source.Description)

	switch {
	case r.Result == nil:
		b.WriteString("No result found.\n")
	case r.Result.Failed():
		fmt.Fprintf(&b, "Parse error: %s\n", r.Result.Failure.Message)
		fmt.Fprintf(&b, "Raw: %s\n", r.Result.Failure.Raw)
	case len(r.Result.Items) == 0:
		b.WriteString("Output: not classified as pizza\n")
	default:
		pretty, err := json.MarshalIndent(r.Result.Items, "", "  ")
		if err != nil {
			fmt.Fprintf(&b, "Output: %v\n", r.Result.Items)
		} else {
			fmt.Fprintf(&b, "Output:\n%s\n", pretty)
		}
	}
	return b.String()
}

// Write renders every report block to w.
func Write(w io.Writer, source map[int]SourceItem, parsed map[int]extract.Result) error {
	for rep := range Compare(source, parsed) {
		if _, err := io.WriteString(w, rep.String()); err != nil {
			return err
		}
	}
	return nil
}
