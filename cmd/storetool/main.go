package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"polystore/internal/query"
	"polystore/internal/storage"
)

type document = map[string]any

func main() {
	app := &cli.App{
		Name:  "storetool",
		Usage: "Inspect and manipulate a store through any backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine",
				Aliases: []string{"e"},
				Usage:   "Storage engine (memory, file, sqlite, graph)",
				Value:   "file",
			},
			&cli.StringFlag{
				Name:    "path",
				Aliases: []string{"p"},
				Usage:   "Path to the store file or database",
				Value:   "./data/store.json",
			},
			&cli.StringFlag{
				Name:  "table",
				Usage: "Table name for the sqlite engine",
				Value: "entries",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store a JSON value under a key",
				ArgsUsage: "<key> <json-value>",
				Action:    setCommand,
			},
			{
				Name:      "get",
				Usage:     "Print the value stored under a key",
				ArgsUsage: "<key>",
				Action:    getCommand,
			},
			{
				Name:      "delete",
				Usage:     "Remove a key",
				ArgsUsage: "<key>",
				Action:    deleteCommand,
			},
			{
				Name:   "keys",
				Usage:  "List all keys",
				Action: keysCommand,
			},
			{
				Name:      "import",
				Usage:     "Bulk-load entries from a JSON object file",
				ArgsUsage: "<file>",
				Action:    importCommand,
			},
			{
				Name:   "query",
				Usage:  "Run a query against the store",
				Action: queryCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "where",
						Usage: "Condition as field:op:value (op: eq, gt, gte, lt, lte, contains, is_null, not_null)",
					},
					&cli.StringSliceFlag{
						Name:  "order-by",
						Usage: "Sort key as field:asc or field:desc",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of rows",
						Value: -1,
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Rows to skip after ordering",
					},
					&cli.BoolFlag{
						Name:  "count",
						Usage: "Count matching rows instead of returning them",
					},
					&cli.StringSliceFlag{
						Name:  "group-by",
						Usage: "Partition fields for aggregation",
					},
				},
			},
			{
				Name:      "relationships",
				Usage:     "List edges incident to a node (graph engine only)",
				ArgsUsage: "<node-id>",
				Action:    relationshipsCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openStore(c *cli.Context) (storage.BatchStorage[document], error) {
	path := c.String("path")
	cfg := storage.Config{
		Engine: c.String("engine"),
		Memory: storage.MemoryConfig{ID: "storetool"},
		File:   storage.DefaultFileConfig(path),
		SQL: storage.SQLConfig{
			Database:   path,
			TableName:  c.String("table"),
			AutoCreate: true,
		},
		Graph: storage.GraphConfig{
			Database:   path,
			AutoCreate: true,
		},
	}
	store, err := storage.Open[document](cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

func setCommand(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: set <key> <json-value>")
	}

	var value document
	if err := json.Unmarshal([]byte(c.Args().Get(1)), &value); err != nil {
		return fmt.Errorf("value is not a JSON object: %w", err)
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer store.Close(ctx)

	if err := store.Set(ctx, c.Args().Get(0), value); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func getCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: get <key>")
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer store.Close(ctx)

	value, err := store.Get(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}
	return printJSON(value)
}

func deleteCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: delete <key>")
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer store.Close(ctx)

	if err := store.Delete(ctx, c.Args().Get(0)); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func keysCommand(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer store.Close(ctx)

	keys, err := store.Keys(ctx)
	if err != nil {
		return err
	}
	for key := range keys {
		fmt.Println(key)
	}
	return nil
}

func importCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: import <file>")
	}

	data, err := os.ReadFile(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}
	var entries map[string]document
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("import file is not a JSON object of objects: %w", err)
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer store.Close(ctx)

	if err := store.SetMany(ctx, entries); err != nil {
		return err
	}
	fmt.Printf("Imported %d entries\n", len(entries))
	return nil
}

func queryCommand(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer store.Close(ctx)

	b := query.NewBuilder()
	for _, raw := range c.StringSlice("where") {
		if err := addCondition(b, raw); err != nil {
			return err
		}
	}
	for _, raw := range c.StringSlice("order-by") {
		field, dir, _ := strings.Cut(raw, ":")
		if dir == "" {
			dir = "asc"
		}
		b.OrderBy(field, query.Direction(dir))
	}
	if limit := c.Int("limit"); limit >= 0 {
		b.Limit(limit)
	}
	if offset := c.Int("offset"); offset > 0 {
		b.Offset(offset)
	}
	if c.Bool("count") {
		b.Count()
	}
	if groups := c.StringSlice("group-by"); len(groups) > 0 {
		b.GroupBy(groups...)
	}

	executor := query.ExecutorFor[document](store)
	result, err := executor.Execute(ctx, b.Build())
	if err != nil {
		return err
	}

	if len(result.Aggregates) > 0 {
		return printJSON(result.Aggregates)
	}
	return printJSON(result.Rows)
}

// addCondition parses field:op:value. The value half is decoded as JSON
// when possible, so numbers and booleans keep their type; anything that
// fails to decode is treated as a plain string.
func addCondition(b *query.Builder, raw string) error {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 {
		return fmt.Errorf("invalid condition %q: want field:op[:value]", raw)
	}
	field, op := parts[0], parts[1]

	var value any
	if len(parts) == 3 {
		if err := json.Unmarshal([]byte(parts[2]), &value); err != nil {
			value = parts[2]
		}
	}

	switch query.Operator(op) {
	case query.OpEqual:
		b.WhereEqual(field, value)
	case query.OpGreaterThan:
		b.WhereGreaterThan(field, value)
	case query.OpGreaterThanOrEqual:
		b.WhereGreaterThanOrEqual(field, value)
	case query.OpLessThan:
		b.WhereLessThan(field, value)
	case query.OpLessThanOrEqual:
		b.WhereLessThanOrEqual(field, value)
	case query.OpContains:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("contains condition on %q requires a string value", field)
		}
		b.WhereContains(field, s)
	case query.OpIsNull:
		b.WhereNull(field)
	case query.OpNotNull:
		b.WhereNotNull(field)
	default:
		return fmt.Errorf("unknown operator %q in condition %q", op, raw)
	}
	return nil
}

func relationshipsCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: relationships <node-id>")
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer store.Close(ctx)

	graph, ok := store.(*storage.GraphStorage[document])
	if !ok {
		return fmt.Errorf("relationships require the graph engine, got %s", store.Backend())
	}

	edges, err := graph.GetRelationships(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}
	return printJSON(edges)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
