package pizzakg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sourceCSV = `name,address,city,state,postcode,country,menu item,item description,item value,currency,categories
Tony's,1 Main St,Springfield,IL,62701,US,Margherita,Tomato sauce and mozzarella,9.99,USD,Pizza Restaurant
Tony's,1 Main St,Springfield,IL,62701,US,Garlic Bread,With butter,4.50,USD,Pizza Restaurant
Luigi's,2 Oak Ave,Springfield,IL,62701,US,Hawaiian,"Pineapple, ham",11.00,USD,Restaurant
Gadget Hut,3 Elm St,Springfield,IL,62701,US,Phone Case,Rubber,5.00,USD,Cell Phone Repair
`

func respLine(idx int, slug, content string) string {
	return fmt.Sprintf(`{"custom_id":"%d_%s","response":{"body":{"choices":[{"message":{"content":%q}}]}}}`,
		idx, slug, content)
}

// testEngine wires an engine against a temp directory: CSV source, NDJSON
// responses, empty mapping files, local database.
func testEngine(t *testing.T) (Engine, Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "test.db")
	cfg.SourcePath = filepath.Join(dir, "source.csv")
	cfg.ResponsesPath = filepath.Join(dir, "responses.jsonl")
	cfg.OutputPath = filepath.Join(dir, "out", "pizza.ttl")
	cfg.IngredientMapPath = filepath.Join(dir, "ingredient_mappings.json")
	cfg.LockedIngredientMapPath = filepath.Join(dir, "locked_ingredient_mappings.json")
	cfg.CityMapPath = filepath.Join(dir, "city_mappings.json")
	cfg.LockedCityMapPath = filepath.Join(dir, "locked_city_mappings.json")

	if err := os.WriteFile(cfg.SourcePath, []byte(sourceCSV), 0644); err != nil {
		t.Fatal(err)
	}

	// After filtering, the three restaurant rows are re-indexed 0..2; the
	// gadget shop is dropped by the category filter.
	responses := strings.Join([]string{
		respLine(0, "Tonys_Margherita", "```json\n{\"name\":\"Pizza Margherita\",\"is_pizza\":true,\"ingredients\":[\"Tomato Sauce\",\"Mozzarella\",\"dough\"]}\n```"),
		respLine(1, "Tonys_Garlic_Bread", `{"name":"Garlic Bread","is_pizza":false,"ingredients":["Garlic"]}`),
		respLine(2, "Luigis_Hawaiian", "```json\n{\"name\":\"Pizza Hawaii\",\"is_pizza\":true,\"ingredients\":[\"Pineapple\",\"Ham\"]}\n```"),
	}, "\n") + "\n"
	if err := os.WriteFile(cfg.ResponsesPath, []byte(responses), 0644); err != nil {
		t.Fatal(err)
	}

	eng, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, cfg
}

func TestBuild(t *testing.T) {
	eng, cfg := testEngine(t)

	stats, err := eng.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if stats.RowsRead != 4 {
		t.Errorf("RowsRead = %d; want 4", stats.RowsRead)
	}
	if stats.RowsFiltered != 1 {
		t.Errorf("RowsFiltered = %d; want 1", stats.RowsFiltered)
	}
	if stats.RowsProcessed != 3 {
		t.Errorf("RowsProcessed = %d; want 3", stats.RowsProcessed)
	}
	// Two pizzas accepted; the garlic bread row still yields its pizzeria.
	if stats.ItemsAccepted != 2 {
		t.Errorf("ItemsAccepted = %d; want 2", stats.ItemsAccepted)
	}
	if stats.Pizzerias != 2 {
		t.Errorf("Pizzerias = %d; want 2", stats.Pizzerias)
	}
	if stats.Triples == 0 {
		t.Error("no triples written")
	}
	if stats.RunID == "" {
		t.Error("run not recorded")
	}

	data, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	ttl := string(data)
	for _, want := range []string{
		"Pizzeria_0", "Pizza_0",
		"enthaeltZutat", "gehörtZuPizzeria",
		"Mozzarella", "Tomatensauce", "Ananas", "Schinken",
	} {
		if !strings.Contains(ttl, want) {
			t.Errorf("turtle output missing %q", want)
		}
	}
	// The denylisted "dough" must not surface as an ingredient node.
	if strings.Contains(ttl, "Ingredient_dough") {
		t.Error("denylisted ingredient leaked into the graph")
	}

	runs, err := eng.Store().ListRuns(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ItemsAccepted != 2 {
		t.Errorf("recorded runs = %+v", runs)
	}
}

func TestBuildTalliesContentParseFailures(t *testing.T) {
	eng, cfg := testEngine(t)

	// Row 0's envelope and custom_id are fine, but the message content is
	// not JSON; the failure must show up in the end-of-run counts.
	responses := strings.Join([]string{
		respLine(0, "Tonys_Margherita", "this is { not json"),
		respLine(1, "Tonys_Garlic_Bread", `{"is_pizza":false,"ingredients":[]}`),
		respLine(2, "Luigis_Hawaiian", "```json\n{\"is_pizza\":true,\"ingredients\":[\"Ham\"]}\n```"),
	}, "\n") + "\n"
	if err := os.WriteFile(cfg.ResponsesPath, []byte(responses), 0644); err != nil {
		t.Fatal(err)
	}

	stats, err := eng.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.ParseFailures != 1 {
		t.Errorf("ParseFailures = %d; want 1", stats.ParseFailures)
	}
	// The failed row is still processed: its pizzeria exists, it just
	// contributes no menu items.
	if stats.RowsProcessed != 3 {
		t.Errorf("RowsProcessed = %d; want 3", stats.RowsProcessed)
	}
	if stats.ItemsAccepted != 1 {
		t.Errorf("ItemsAccepted = %d; want 1", stats.ItemsAccepted)
	}

	runs, err := eng.Store().ListRuns(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ParseFailures != 1 {
		t.Errorf("recorded run parse failures = %+v; want 1", runs)
	}
}

func TestBuildMissingResponseSkipsRow(t *testing.T) {
	eng, cfg := testEngine(t)

	// Drop the Hawaiian response; its row must be skipped, not misassigned.
	responses := respLine(0, "Tonys_Margherita",
		"```json\n{\"is_pizza\":true,\"ingredients\":[\"Mozzarella\"]}\n```") + "\n" +
		respLine(1, "Tonys_Garlic_Bread", `{"is_pizza":false,"ingredients":[]}`) + "\n"
	if err := os.WriteFile(cfg.ResponsesPath, []byte(responses), 0644); err != nil {
		t.Fatal(err)
	}

	stats, err := eng.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.NoResponse != 1 {
		t.Errorf("NoResponse = %d; want 1", stats.NoResponse)
	}
	if stats.RowsProcessed != 2 {
		t.Errorf("RowsProcessed = %d; want 2", stats.RowsProcessed)
	}
	if stats.Pizzerias != 1 {
		t.Errorf("Pizzerias = %d; want 1 (Luigi's row skipped)", stats.Pizzerias)
	}
}

func TestBuildUsesLockedMappings(t *testing.T) {
	eng, cfg := testEngine(t)

	locked := `{"pineapple": {"qid": "Q1493", "locked": true}}`
	if err := os.WriteFile(cfg.LockedIngredientMapPath, []byte(locked), 0644); err != nil {
		t.Fatal(err)
	}
	// The known-ingredient table would otherwise claim pineapple; clear it
	// so the locked mapping is observable.
	// (Known table precedence over mappings is covered in package kg.)
	delete(cfg.KnownIngredients, "pineapple")
	eng.Close()
	eng2, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer eng2.Close()

	if _, err := eng2.Build(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Q1493") {
		t.Error("locked QID not used in the graph")
	}
}

func TestBuildSavesGrownMappings(t *testing.T) {
	eng, cfg := testEngine(t)

	if _, err := eng.Build(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Cache-only build: files exist afterwards even without lookups.
	for _, path := range []string{cfg.IngredientMapPath, cfg.CityMapPath} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("mapping file not saved: %v", err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Errorf("mapping file %s is not valid JSON: %v", path, err)
		}
	}
}

func TestValidateReport(t *testing.T) {
	eng, _ := testEngine(t)

	var sb strings.Builder
	if err := eng.Validate(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if strings.Count(out, strings.Repeat("=", 60)) != 3 {
		t.Errorf("expected 3 report blocks:\n%s", out)
	}
	if !strings.Contains(out, "not classified as pizza") {
		t.Error("garlic bread block missing")
	}
}

func TestCleanResponses(t *testing.T) {
	eng, cfg := testEngine(t)

	changed, err := eng.CleanResponses()
	if err != nil {
		t.Fatal(err)
	}
	if changed == 0 {
		t.Error("expected at least one cleaned response")
	}
	data, err := os.ReadFile(cfg.ResponsesPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"dough"`) {
		t.Error("denylisted ingredient survived cleaning")
	}
}

func TestCreateBatchInput(t *testing.T) {
	eng, cfg := testEngine(t)

	out := filepath.Join(filepath.Dir(cfg.SourcePath), "batchinput.jsonl")
	n, err := eng.CreateBatchInput(out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("wrote %d requests; want 3 (filtered rows only)", n)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "Gadget Hut") {
		t.Error("filtered row leaked into batch input")
	}
}
