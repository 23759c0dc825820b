// Package tabular reads the restaurant menu export that drives the pipeline.
// The canonical source is a CSV file with a header row; an XLSX variant of
// the same layout is also accepted. Rows are addressed by column name, never
// by position, so reordered exports keep working.
package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Column names required in every source file. "categories" is optional and
// only consulted by the relevance filter.
var requiredColumns = []string{
	"name", "address", "city", "state", "postcode", "country",
	"menu item", "item description", "item value", "currency",
}

// Row is one menu-item row of the tabular source.
type Row struct {
	Index       int    // zero-based position in the source, used for custom IDs
	Restaurant  string // restaurant name
	Address     string
	City        string
	State       string
	Postcode    string
	Country     string
	MenuItem    string
	Description string
	Value       string // raw price text; parsed (or not) by the graph builder
	Currency    string
	Categories  string
}

// ReadCSV reads all rows from a CSV source with a header line.
// A missing required column is an error for the whole file; a short record
// is an error for that row only and is reported via the skipped callback.
func ReadCSV(r io.Reader, skipped func(line int, err error)) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("source is missing required column %q", c)
		}
	}

	field := func(rec []string, name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return "", !ok // optional columns missing from the header are fine
		}
		return strings.TrimSpace(rec[i]), true
	}

	var rows []Row
	index := 0
	line := 1
	for {
		rec, err := cr.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}

		row := Row{Index: index}
		ok := true
		for _, bind := range []struct {
			col  string
			dest *string
		}{
			{"name", &row.Restaurant},
			{"address", &row.Address},
			{"city", &row.City},
			{"state", &row.State},
			{"postcode", &row.Postcode},
			{"country", &row.Country},
			{"menu item", &row.MenuItem},
			{"item description", &row.Description},
			{"item value", &row.Value},
			{"currency", &row.Currency},
		} {
			v, present := field(rec, bind.col)
			if !present {
				if skipped != nil {
					skipped(line, fmt.Errorf("row is missing column %q", bind.col))
				}
				ok = false
				break
			}
			*bind.dest = v
		}
		if !ok {
			index++
			continue
		}
		if v, _ := field(rec, "categories"); v != "" {
			row.Categories = v
		}

		rows = append(rows, row)
		index++
	}
	return rows, nil
}

// Filter decides whether a row's restaurant is relevant to the pizza
// domain, based on its free-text category string. Exclusions win over
// inclusions.
type Filter struct {
	Allow   []string
	Exclude []string
}

// DefaultFilter returns the category keyword lists used to clean the raw
// export before classification.
func DefaultFilter() Filter {
	return Filter{
		Allow: []string{
			"pizza", "restaurant", "pizzeria", "bakery", "bar", "brewery",
			"cafe", "caf", "breakfast", "brunch",
		},
		Exclude: []string{
			"strip club", "adult", "doctor", "university", "cell phone",
			"repair", "electronics", "equipment", "sporting goods", "shoe store",
		},
	}
}

// Relevant reports whether the category string passes the filter.
// Rows without category data are kept.
func (f Filter) Relevant(categories string) bool {
	if categories == "" {
		return true
	}
	lower := strings.ToLower(categories)
	for _, bad := range f.Exclude {
		if strings.Contains(lower, bad) {
			return false
		}
	}
	for _, good := range f.Allow {
		if strings.Contains(lower, good) {
			return true
		}
	}
	return false
}

// FilterRows returns the rows whose categories pass the filter, re-indexed
// so downstream custom IDs stay dense.
func FilterRows(rows []Row, f Filter) []Row {
	var out []Row
	for _, r := range rows {
		if !f.Relevant(r.Categories) {
			continue
		}
		r.Index = len(out)
		out = append(out, r)
	}
	return out
}
