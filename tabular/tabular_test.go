package tabular

import (
	"strings"
	"testing"
)

const csvHeader = "name,address,city,state,postcode,country,menu item,item description,item value,currency,categories\n"

func TestReadCSV(t *testing.T) {
	src := csvHeader +
		"Tony's,1 Main St,Springfield,IL,62701,US,Margherita,Tomato and mozzarella,9.99,USD,Pizza Restaurant\n" +
		"Tony's,1 Main St,Springfield,IL,62701,US,Hawaiian,Pineapple and ham,11.50,USD,Pizza Restaurant\n"

	rows, err := ReadCSV(strings.NewReader(src), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows; want 2", len(rows))
	}
	r := rows[0]
	if r.Index != 0 || r.Restaurant != "Tony's" || r.MenuItem != "Margherita" || r.Value != "9.99" {
		t.Errorf("row 0 = %+v", r)
	}
	if rows[1].Index != 1 {
		t.Errorf("row 1 index = %d", rows[1].Index)
	}
}

func TestReadCSVReorderedColumns(t *testing.T) {
	src := "menu item,name,city,address,state,postcode,country,item value,currency,item description\n" +
		"Margherita,Tony's,Springfield,1 Main St,IL,62701,US,9.99,USD,Classic\n"

	rows, err := ReadCSV(strings.NewReader(src), nil)
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].Restaurant != "Tony's" || rows[0].MenuItem != "Margherita" {
		t.Errorf("columns bound by position, not name: %+v", rows[0])
	}
}

func TestReadCSVMissingColumn(t *testing.T) {
	src := "name,address,city\nTony's,1 Main St,Springfield\n"
	if _, err := ReadCSV(strings.NewReader(src), nil); err == nil {
		t.Fatal("expected error for missing required column")
	}
}

func TestReadCSVShortRecordSkipped(t *testing.T) {
	src := csvHeader +
		"Tony's,1 Main St,Springfield,IL,62701,US,Margherita,Classic,9.99,USD,Pizza\n" +
		"short,row\n" +
		"Luigi's,2 Oak Ave,Springfield,IL,62701,US,Diavola,Spicy,12.00,USD,Pizza\n"

	var skippedLines []int
	rows, err := ReadCSV(strings.NewReader(src), func(line int, err error) {
		skippedLines = append(skippedLines, line)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows; want 2", len(rows))
	}
	if len(skippedLines) != 1 || skippedLines[0] != 3 {
		t.Errorf("skipped lines = %v; want [3]", skippedLines)
	}
	// The skipped row still consumes an index so custom IDs stay aligned
	// with the raw file.
	if rows[1].Index != 2 {
		t.Errorf("row after skip has index %d; want 2", rows[1].Index)
	}
}

func TestFilterRelevant(t *testing.T) {
	f := DefaultFilter()

	tests := []struct {
		categories string
		want       bool
	}{
		{"Pizza Restaurant", true},
		{"Bakery, Cafe", true},
		{"", true}, // no category data keeps the row
		{"Sporting Goods Store", false},
		{"Cell Phone Repair", false},
		{"Pizza Restaurant, Strip Club", false}, // exclusions win
		{"Hardware Store", false},               // nothing on the allow list
	}
	for _, tt := range tests {
		if got := f.Relevant(tt.categories); got != tt.want {
			t.Errorf("Relevant(%q) = %v; want %v", tt.categories, got, tt.want)
		}
	}
}

func TestFilterRows(t *testing.T) {
	rows := []Row{
		{Index: 0, Restaurant: "A", Categories: "Pizza"},
		{Index: 1, Restaurant: "B", Categories: "Shoe Store"},
		{Index: 2, Restaurant: "C", Categories: "Restaurant"},
	}
	got := FilterRows(rows, DefaultFilter())
	if len(got) != 2 {
		t.Fatalf("got %d rows; want 2", len(got))
	}
	// Indices are re-assigned densely after filtering.
	if got[0].Restaurant != "A" || got[0].Index != 0 {
		t.Errorf("row 0 = %+v", got[0])
	}
	if got[1].Restaurant != "C" || got[1].Index != 1 {
		t.Errorf("row 1 = %+v", got[1])
	}
}
