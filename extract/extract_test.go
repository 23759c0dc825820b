package extract

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

// envelopeLine builds a response line whose message content is the given
// string.
func envelopeLine(customID, content string) string {
	return fmt.Sprintf(`{"custom_id":%q,"response":{"body":{"choices":[{"message":{"content":%q}}]}}}`,
		customID, content)
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"stray opener only", "```json\n{\"a\":1}", `{"a":1}`},
		{"surrounding prose", "Here you go:\n```json\n{\"a\":1}\n```\nenjoy", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences(%q) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractSingleObject(t *testing.T) {
	content := "```json\n{\"name\":\"Pizza Hawaii\",\"is_pizza\":true,\"ingredients\":[\"Pineapple\",\"Ham\"]}\n```"
	res := Extract(envelopeLine("12_Tonys_Hawaii", content))
	if res.Failed() {
		t.Fatalf("unexpected failure: %s", res.Failure.Message)
	}
	if res.CustomID != "12_Tonys_Hawaii" {
		t.Errorf("CustomID = %q", res.CustomID)
	}
	want := []MenuItem{{Name: "Pizza Hawaii", IsPizza: true, Ingredients: []string{"Pineapple", "Ham"}}}
	if !reflect.DeepEqual(res.Items, want) {
		t.Errorf("Items = %+v; want %+v", res.Items, want)
	}
}

func TestExtractArrayContent(t *testing.T) {
	content := `[
		{"name":"Margherita","is_pizza":true,"ingredients":["Tomato Sauce","Mozzarella"]},
		{"name":"Caesar Salad","is_pizza":false,"ingredients":["Lettuce"]}
	]`
	res := Extract(envelopeLine("3_x", content))
	if res.Failed() {
		t.Fatalf("unexpected failure: %s", res.Failure.Message)
	}
	if len(res.Items) != 1 || res.Items[0].Name != "Margherita" {
		t.Errorf("Items = %+v; want only Margherita", res.Items)
	}
}

func TestExtractNotPizza(t *testing.T) {
	content := `{"name":"Garlic Bread","is_pizza":false,"ingredients":["Garlic"]}`
	res := Extract(envelopeLine("0_x", content))
	if res.Failed() {
		t.Fatalf("unexpected failure: %s", res.Failure.Message)
	}
	if len(res.Items) != 0 {
		t.Errorf("Items = %+v; want none", res.Items)
	}
}

func TestExtractMalformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json at all", "garbage"},
		{"missing choices", `{"custom_id":"1_x","response":{"body":{"choices":[]}}}`},
		{"broken content", envelopeLine("1_x", "```json\n{\"name\": broken\n```")},
		{"empty content", envelopeLine("1_x", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Extract(tt.line)
			if !res.Failed() {
				t.Fatalf("expected failure, got %+v", res)
			}
			if res.Failure.Message == "" {
				t.Error("failure should carry a message")
			}
		})
	}
}

func TestRowIndex(t *testing.T) {
	tests := []struct {
		id      string
		want    int
		wantErr bool
	}{
		{"0_Tonys_Margherita", 0, false},
		{"17_a", 17, false},
		{"42", 42, false},
		{"_slug", 0, true},
		{"abc_1", 0, true},
		{"-1_x", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := RowIndex(tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("RowIndex(%q) error = %v; wantErr %v", tt.id, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("RowIndex(%q) = %d; want %d", tt.id, got, tt.want)
		}
	}
}

func TestReadResponsesNDJSON(t *testing.T) {
	content := `{"name":"Margherita","is_pizza":true,"ingredients":["Mozzarella"]}`
	file := envelopeLine("0_a", content) + "\n" + envelopeLine("1_b", content) + "\n"

	byRow, unmatched, err := ReadResponses(strings.NewReader(file))
	if err != nil {
		t.Fatal(err)
	}
	if len(unmatched) != 0 {
		t.Errorf("unmatched = %+v", unmatched)
	}
	if len(byRow) != 2 {
		t.Fatalf("byRow has %d entries; want 2", len(byRow))
	}
	if byRow[1].CustomID != "1_b" {
		t.Errorf("byRow[1].CustomID = %q", byRow[1].CustomID)
	}
}

func TestReadResponsesArray(t *testing.T) {
	content := `{"name":"Margherita","is_pizza":true,"ingredients":["Mozzarella"]}`
	file := "[\n" + envelopeLine("0_a", content) + ",\n" + envelopeLine("1_b", content) + "\n]\n"

	byRow, _, err := ReadResponses(strings.NewReader(file))
	if err != nil {
		t.Fatal(err)
	}
	if len(byRow) != 2 {
		t.Fatalf("byRow has %d entries; want 2", len(byRow))
	}
}

func TestReadResponsesDuplicateKeepsFirst(t *testing.T) {
	first := envelopeLine("5_first", `{"name":"A","is_pizza":true,"ingredients":["x"]}`)
	second := envelopeLine("5_second", `{"name":"B","is_pizza":true,"ingredients":["y"]}`)

	byRow, _, err := ReadResponses(strings.NewReader(first + "\n" + second + "\n"))
	if err != nil {
		t.Fatal(err)
	}
	if byRow[5].CustomID != "5_first" {
		t.Errorf("kept %q; want the first envelope", byRow[5].CustomID)
	}
}

func TestReadResponsesUnmatchedID(t *testing.T) {
	good := envelopeLine("0_a", `{"name":"A","is_pizza":true,"ingredients":["x"]}`)
	bad := envelopeLine("nonsense", `{"name":"B","is_pizza":true,"ingredients":["y"]}`)

	byRow, unmatched, err := ReadResponses(strings.NewReader(good + "\n" + bad + "\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(byRow) != 1 {
		t.Errorf("byRow has %d entries; want 1", len(byRow))
	}
	if len(unmatched) != 1 {
		t.Fatalf("unmatched has %d entries; want 1", len(unmatched))
	}
	if unmatched[0].Failure == nil {
		t.Error("unmatched result should carry a failure")
	}
}

func TestAccepted(t *testing.T) {
	tests := []struct {
		name string
		obj  string
		want bool
	}{
		{"pizza with ingredients", `{"is_pizza":true,"ingredients":["Ham"]}`, true},
		{"not a pizza", `{"is_pizza":false,"ingredients":["Ham"]}`, false},
		{"missing ingredients", `{"is_pizza":true}`, false},
		{"ingredients not strings", `{"is_pizza":true,"ingredients":[1,2]}`, false},
		{"extra fields fine", `{"name":"X","is_pizza":true,"ingredients":[]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accepted([]byte(tt.obj)); got != tt.want {
				t.Errorf("Accepted(%s) = %v; want %v", tt.obj, got, tt.want)
			}
		})
	}
}
