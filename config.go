package pizzakg

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lkirchner/pizzakg/cluster"
	"github.com/lkirchner/pizzakg/embed"
	"github.com/lkirchner/pizzakg/resolve"
)

// Config holds all configuration for the pizza knowledge-graph engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.pizzakg/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "pizzakg".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is
	// not explicitly set. Options: "home" (default) uses ~/.pizzakg/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Pipeline files.
	SourcePath    string `json:"source_path" yaml:"source_path"`       // tabular menu export (.csv or .xlsx)
	ResponsesPath string `json:"responses_path" yaml:"responses_path"` // batch output (JSONL or JSON array)
	OutputPath    string `json:"output_path" yaml:"output_path"`       // Turtle serialization target

	// Mapping files. The locked variants are manually curated and are
	// read-only; the plain variants grow as lookups resolve.
	IngredientMapPath       string `json:"ingredient_map_path" yaml:"ingredient_map_path"`
	LockedIngredientMapPath string `json:"locked_ingredient_map_path" yaml:"locked_ingredient_map_path"`
	CityMapPath             string `json:"city_map_path" yaml:"city_map_path"`
	LockedCityMapPath       string `json:"locked_city_map_path" yaml:"locked_city_map_path"`

	// BaseURI is the ontology namespace for minted nodes.
	BaseURI string `json:"base_uri" yaml:"base_uri"`

	// Ingredient normalization tables, applied in rename-then-remove order.
	Renames map[string]string `json:"renames" yaml:"renames"`
	Remove  []string          `json:"remove" yaml:"remove"`

	// KnownIngredients maps normalized names to hand-authored ontology
	// individuals, taking precedence over any Wikidata mapping.
	KnownIngredients map[string]string `json:"known_ingredients" yaml:"known_ingredients"`

	// Category keyword lists for the relevance filter.
	AllowCategories   []string `json:"allow_categories" yaml:"allow_categories"`
	ExcludeCategories []string `json:"exclude_categories" yaml:"exclude_categories"`

	// Wikidata lookups.
	WikidataEndpoint string `json:"wikidata_endpoint" yaml:"wikidata_endpoint"`
	LookupTimeoutSec int    `json:"lookup_timeout_sec" yaml:"lookup_timeout_sec"`
	LookupDelayMS    int    `json:"lookup_delay_ms" yaml:"lookup_delay_ms"`

	// LiveLookups enables external resolution during graph builds. When
	// false, builds run against the mapping files alone and unknown names
	// fall back to local nodes.
	LiveLookups bool `json:"live_lookups" yaml:"live_lookups"`

	// Batch classification.
	OpenAIKey  string `json:"openai_key" yaml:"openai_key"`
	BatchModel string `json:"batch_model" yaml:"batch_model"`

	// Ingredient clustering.
	Embedding    embed.Config   `json:"embedding" yaml:"embedding"`
	EmbeddingDim int            `json:"embedding_dim" yaml:"embedding_dim"`
	Cluster      cluster.Config `json:"cluster" yaml:"cluster"`
}

// DefaultConfig returns a Config with the tables and paths used on the
// pizza corpus. Database is stored in ~/.pizzakg/pizzakg.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "pizzakg",
		StorageDir: "home",

		SourcePath:    "data/pizza-menus.csv",
		ResponsesPath: "data/batch_output.jsonl",
		OutputPath:    "out/pizza.ttl",

		IngredientMapPath:       "mappings/ingredient_mappings.json",
		LockedIngredientMapPath: "mappings/locked_ingredient_mappings.json",
		CityMapPath:             "mappings/city_mappings.json",
		LockedCityMapPath:       "mappings/locked_city_mappings.json",

		Renames: map[string]string{
			"banana pepper":        "bell pepper",
			"1000 island dressing": "island dressing",
			"brazil nut parmesan":  "parmesan",
			"Italian bread":        "bread",
		},
		Remove: []string{"dough", "1 topping", "2 toppings", "2 topping"},

		KnownIngredients: map[string]string{
			"ananas":       "Ananas",
			"pineapple":    "Ananas",
			"broccoli":     "Brokkoli",
			"mozzarella":   "Mozzarella",
			"pepperoni":    "Pepperoniwurst",
			"salami":       "Salami",
			"ham":          "Schinken",
			"tomato sauce": "Tomatensauce",
		},

		WikidataEndpoint: resolve.DefaultEndpoint,
		LookupTimeoutSec: 30,
		LookupDelayMS:    1000,

		BatchModel: "gpt-4.1-nano",

		Embedding: embed.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim: 768,
		Cluster:      cluster.DefaultConfig(),
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing file is
// not an error; callers get the plain defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "pizzakg"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".pizzakg", name+".db")
	}
}
