// Command pizzakg drives the pizza knowledge-graph pipeline.
//
// Typical sequence:
//
//	pizzakg batch-create --source ./data/pizza-menus.csv --out ./data/batchinput.jsonl
//	pizzakg batch-submit --input ./data/batchinput.jsonl
//	pizzakg batch-status --id batch_abc123
//	pizzakg batch-fetch --id batch_abc123 --out ./data/batch_output.jsonl
//	pizzakg clean --responses ./data/batch_output.jsonl
//	pizzakg map-ingredients --responses ./data/batch_output.jsonl
//	pizzakg map-cities --source ./data/pizza-menus.csv
//	pizzakg build --source ./data/pizza-menus.csv --responses ./data/batch_output.jsonl --out ./out/pizza.ttl
//	pizzakg validate --source ./data/pizza-menus.csv --responses ./data/batch_output.jsonl
//	pizzakg cluster --responses ./data/batch_output.jsonl
//	pizzakg runs
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	pizzakg "github.com/lkirchner/pizzakg"
	"github.com/lkirchner/pizzakg/batch"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "build":
		runBuild(ctx, args)
	case "clean":
		runClean(args)
	case "validate":
		runValidate(args)
	case "map-ingredients":
		runMap(ctx, args, "map-ingredients")
	case "map-cities":
		runMap(ctx, args, "map-cities")
	case "cluster":
		runCluster(ctx, args)
	case "batch-create":
		runBatchCreate(args)
	case "batch-submit":
		runBatchSubmit(ctx, args)
	case "batch-status":
		runBatchStatus(ctx, args)
	case "batch-fetch":
		runBatchFetch(ctx, args)
	case "runs":
		runRuns(ctx, args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: pizzakg <command> [flags]

commands:
  batch-create     write the batch-API classification input JSONL
  batch-submit     upload the input file and start a batch job
  batch-status     print the status of a batch job
  batch-fetch      download the output of a completed batch
  clean            normalize ingredients inside the response file in place
  map-ingredients  resolve ingredient names against Wikidata
  map-cities       resolve city names against Wikidata
  build            assemble the knowledge graph and write Turtle
  validate         print the source-vs-extraction report
  cluster          group the ingredient vocabulary into synonym clusters
  runs             list recorded pipeline runs

run "pizzakg <command> -h" for command flags
`)
}

// commonFlags registers the flags shared by every engine-backed command and
// returns a loader that builds the final config after parsing.
func commonFlags(fs *flag.FlagSet) func() pizzakg.Config {
	var (
		configPath = fs.String("config", "", "Path to YAML config file")
		source     = fs.String("source", "", "Tabular source file (.csv or .xlsx)")
		responses  = fs.String("responses", "", "Classification response file")
		output     = fs.String("out", "", "Output path")
		dbPath     = fs.String("db", "", "Path to SQLite database")
		baseURI    = fs.String("base-uri", "", "Ontology base namespace")
		live       = fs.Bool("live-lookups", false, "Resolve unknown names against Wikidata during build")
		verbose    = fs.Bool("v", false, "Debug logging")
	)
	return func() pizzakg.Config {
		level := slog.LevelInfo
		if *verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		cfg, err := pizzakg.LoadConfig(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		if *source != "" {
			cfg.SourcePath = *source
		}
		if *responses != "" {
			cfg.ResponsesPath = *responses
		}
		if *output != "" {
			cfg.OutputPath = *output
		}
		if *dbPath != "" {
			cfg.DBPath = *dbPath
		}
		if *baseURI != "" {
			cfg.BaseURI = *baseURI
		}
		if *live {
			cfg.LiveLookups = true
		}
		if cfg.OpenAIKey == "" {
			cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
		}
		return cfg
	}
}

func newEngine(cfg pizzakg.Config) pizzakg.Engine {
	eng, err := pizzakg.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	return eng
}

func runBuild(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	load := commonFlags(fs)
	fs.Parse(args)

	eng := newEngine(load())
	defer eng.Close()

	stats, err := eng.Build(ctx)
	if err != nil {
		log.Fatal(err)
	}
	printJSON(stats)
}

func runClean(args []string) {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	load := commonFlags(fs)
	fs.Parse(args)

	eng := newEngine(load())
	defer eng.Close()

	changed, err := eng.CleanResponses()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("cleaned %d responses\n", changed)
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	load := commonFlags(fs)
	fs.Parse(args)

	eng := newEngine(load())
	defer eng.Close()

	if err := eng.Validate(os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func runMap(ctx context.Context, args []string, name string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	load := commonFlags(fs)
	fs.Parse(args)

	eng := newEngine(load())
	defer eng.Close()

	var stats *pizzakg.MapStats
	var err error
	if name == "map-cities" {
		stats, err = eng.MapCities(ctx)
	} else {
		stats, err = eng.MapIngredients(ctx)
	}
	if err != nil {
		log.Fatal(err)
	}
	printJSON(stats)
}

func runCluster(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("cluster", flag.ExitOnError)
	load := commonFlags(fs)
	fs.Parse(args)

	eng := newEngine(load())
	defer eng.Close()

	result, err := eng.ClusterIngredients(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, group := range result.Clusters {
		if len(group) < 2 {
			continue
		}
		fmt.Printf("%s <- %v\n", result.Canonical[group[0]], group)
	}
	fmt.Printf("%d terms in %d clusters\n", len(result.Terms), len(result.Clusters))
}

func runBatchCreate(args []string) {
	fs := flag.NewFlagSet("batch-create", flag.ExitOnError)
	load := commonFlags(fs)
	fs.Parse(args)

	cfg := load()
	// --out names the JSONL here, not the Turtle target.
	out := cfg.OutputPath
	if out == "" || out == pizzakg.DefaultConfig().OutputPath {
		out = "data/batchinput.jsonl"
	}

	eng := newEngine(cfg)
	defer eng.Close()

	n, err := eng.CreateBatchInput(out)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %d requests to %s\n", n, out)
}

func runBatchSubmit(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("batch-submit", flag.ExitOnError)
	input := fs.String("input", "data/batchinput.jsonl", "Batch input JSONL file")
	load := commonFlags(fs)
	fs.Parse(args)

	cfg := load()
	if cfg.OpenAIKey == "" {
		log.Fatal("OPENAI_API_KEY is required for batch submission")
	}

	id, err := batch.NewClient(cfg.OpenAIKey).Submit(ctx, *input)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(id)
}

func runBatchStatus(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("batch-status", flag.ExitOnError)
	id := fs.String("id", "", "Batch ID")
	load := commonFlags(fs)
	fs.Parse(args)

	cfg := load()
	if *id == "" {
		log.Fatal("--id is required")
	}
	if cfg.OpenAIKey == "" {
		log.Fatal("OPENAI_API_KEY is required")
	}

	status, err := batch.NewClient(cfg.OpenAIKey).Status(ctx, *id)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(status)
}

func runBatchFetch(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("batch-fetch", flag.ExitOnError)
	id := fs.String("id", "", "Batch ID")
	load := commonFlags(fs)
	fs.Parse(args)

	cfg := load()
	if *id == "" {
		log.Fatal("--id is required")
	}
	if cfg.OpenAIKey == "" {
		log.Fatal("OPENAI_API_KEY is required")
	}

	out := cfg.ResponsesPath
	f, err := os.Create(out)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	if err := batch.NewClient(cfg.OpenAIKey).Download(ctx, *id, f); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote batch output to %s\n", out)
}

func runRuns(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum runs to list")
	load := commonFlags(fs)
	fs.Parse(args)

	eng := newEngine(load())
	defer eng.Close()

	runs, err := eng.Store().ListRuns(ctx, *limit)
	if err != nil {
		log.Fatal(err)
	}
	printJSON(runs)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(data))
}
