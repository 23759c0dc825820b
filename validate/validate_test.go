package validate

import (
	"strings"
	"testing"

	"github.com/lkirchner/pizzakg/extract"
	"github.com/lkirchner/pizzakg/tabular"
)

func testSource() map[int]SourceItem {
	return SourceItems([]tabular.Row{
		{Index: 0, Restaurant: "Tony's", MenuItem: "Margherita", Description: "Tomato and mozzarella"},
		{Index: 1, Restaurant: "Tony's", MenuItem: "Garlic Bread", Description: "With butter"},
		{Index: 2, Restaurant: "Luigi's", MenuItem: "Diavola", Description: "Spicy salami"},
	})
}

func testParsed() map[int]extract.Result {
	return map[int]extract.Result{
		0: {
			CustomID: "0_Tonys_Margherita",
			Items:    []extract.MenuItem{{Name: "Pizza Margherita", IsPizza: true, Ingredients: []string{"Mozzarella"}}},
		},
		1: {CustomID: "1_Tonys_Garlic_Bread"},
		2: {
			CustomID: "2_Luigis_Diavola",
			Failure:  &extract.ParseFailure{Raw: "not json", Message: "invalid JSON in message content"},
		},
	}
}

func TestCompareOrderAndMatching(t *testing.T) {
	var ids []int
	for rep := range Compare(testSource(), testParsed()) {
		ids = append(ids, rep.ID)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d reports; want 3", len(ids))
	}
	for i, id := range ids {
		if id != i {
			t.Errorf("reports out of order: %v", ids)
			break
		}
	}
}

func TestCompareRestartable(t *testing.T) {
	seq := Compare(testSource(), testParsed())

	first := 0
	for range seq {
		first++
		break // abandon after one element
	}
	second := 0
	for range seq {
		second++
	}
	if second != 3 {
		t.Errorf("second pass yielded %d reports; want 3", second)
	}
}

func TestCompareMissingResult(t *testing.T) {
	source := testSource()
	parsed := testParsed()
	delete(parsed, 1)

	for rep := range Compare(source, parsed) {
		if rep.ID == 1 && rep.Result != nil {
			t.Error("row without response should have nil Result")
		}
	}
}

func TestReportString(t *testing.T) {
	tests := []struct {
		name string
		rep  Report
		want string
	}{
		{
			name: "accepted items rendered as JSON",
			rep:  Report{ID: 0, Source: SourceItem{Restaurant: "Tony's", Name: "Margherita"}, Result: &extract.Result{Items: []extract.MenuItem{{Name: "Pizza Margherita", IsPizza: true}}}},
			want: "Pizza Margherita",
		},
		{
			name: "no result",
			rep:  Report{ID: 1, Source: SourceItem{Restaurant: "Tony's"}},
			want: "No result found.",
		},
		{
			name: "not a pizza",
			rep:  Report{ID: 2, Result: &extract.Result{}},
			want: "not classified as pizza",
		},
		{
			name: "parse failure shows raw text",
			rep:  Report{ID: 3, Result: &extract.Result{Failure: &extract.ParseFailure{Raw: "RAWTEXT", Message: "boom"}}},
			want: "RAWTEXT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rep.String()
			if !strings.Contains(got, tt.want) {
				t.Errorf("report missing %q:\n%s", tt.want, got)
			}
			if !strings.HasPrefix(got, strings.Repeat("=", 60)) {
				t.Error("report missing separator line")
			}
		})
	}
}

func TestWrite(t *testing.T) {
	var sb strings.Builder
	if err := Write(&sb, testSource(), testParsed()); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if strings.Count(out, strings.Repeat("=", 60)) != 3 {
		t.Errorf("expected 3 report blocks:\n%s", out)
	}
	if !strings.Contains(out, "Parse error") {
		t.Error("parse failure block missing")
	}
}
