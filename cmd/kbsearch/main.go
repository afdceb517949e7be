// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/kbsearch"
	"github.com/poiesic/kbsearch/config"
	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/grounding"
	"github.com/poiesic/kbsearch/ingestion"
	"github.com/poiesic/kbsearch/reprocess"
	"github.com/poiesic/kbsearch/search"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "kbsearch",
		Usage: "Knowledge-base ingestion and semantic search",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				EnvVars: []string{"KBSEARCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file",
				Value: ".env",
			},
		},
		Before: func(c *cli.Context) error {
			if err := loadEnv(c); err != nil {
				return err
			}
			return setupLogger(c)
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Chunk, embed and index documents",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					collectionFlag(),
					&cli.StringFlag{
						Name:    "doc",
						Aliases: []string{"d"},
						Usage:   "Document ID (single file only; defaults to the file name)",
					},
				},
			},
			{
				Name:   "reprocess",
				Usage:  "Rebuild the chunks of one document from its stored text",
				Action: reprocessCommand,
				Flags:  []cli.Flag{docFlag()},
			},
			{
				Name:   "reprocess-collection",
				Usage:  "Rebuild the chunks of every document in a collection",
				Action: reprocessCollectionCommand,
				Flags: []cli.Flag{
					collectionFlag(),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of documents to process in each batch",
						Value: reprocess.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: 10,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.BoolFlag{
						Name:  "restart",
						Usage: "Ignore any saved checkpoint and start from the beginning",
					},
				},
			},
			{
				Name:   "delete",
				Usage:  "Remove every chunk of a document from the index",
				Action: deleteCommand,
				Flags:  []cli.Flag{docFlag()},
			},
			{
				Name:   "count",
				Usage:  "Print the number of indexed chunks for a document",
				Action: countCommand,
				Flags:  []cli.Flag{docFlag()},
			},
			{
				Name:      "search",
				Usage:     "Find the chunks most similar to a query",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					collectionFlag(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results (0 uses the configured default)",
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Minimum similarity (defaults to the configured threshold, -1 accepts all)",
					},
					&cli.StringSliceFlag{
						Name:    "type",
						Aliases: []string{"t"},
						Usage:   "Restrict results to a chunk type (repeatable)",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Print the chat context retrieved for a question",
				ArgsUsage: "QUESTION",
				Action:    askCommand,
				Flags:     []cli.Flag{collectionFlag()},
			},
			{
				Name:   "info",
				Usage:  "Summarize a collection",
				Action: infoCommand,
				Flags:  []cli.Flag{collectionFlag()},
			},
		},
	}
}

func collectionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "collection",
		Aliases:  []string{"k"},
		Usage:    "Collection ID",
		Required: true,
	}
}

func docFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "doc",
		Aliases:  []string{"d"},
		Usage:    "Document ID",
		Required: true,
	}
}

func openDatabase(c *cli.Context) (*kbsearch.Database, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := kbsearch.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func ingestCommand(c *cli.Context) error {
	ctx := context.Background()

	files := c.Args().Slice()
	if len(files) == 0 {
		return errors.New("at least one file is required")
	}
	if c.String("doc") != "" && len(files) > 1 {
		return errors.New("--doc can only be used with a single file")
	}

	reqs := make([]ingestion.Request, len(files))
	for i, path := range files {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		id := c.String("doc")
		if id == "" {
			id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		reqs[i] = ingestion.Request{
			DocumentID:    id,
			CollectionID:  c.String("collection"),
			ExtractedText: string(text),
		}
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	pipeline, err := db.NewIngestionPipeline()
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	if len(reqs) == 1 {
		result, err := pipeline.Ingest(ctx, reqs[0])
		if err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "%s: %d chunks\n", result.DocumentID, result.Chunks)
		return nil
	}

	if err := pipeline.IngestAsync(ctx, reqs...); err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	pipeline.Wait()

	// Per-document failures are recorded on the document status.
	for _, req := range reqs {
		doc, err := db.Documents().GetDocument(ctx, req.DocumentID)
		if err != nil {
			return err
		}
		printDocument(c.App.Writer, doc)
	}
	return nil
}

func printDocument(w io.Writer, doc *core.Document) {
	if doc.Status == core.DocumentStatusFailed {
		fmt.Fprintf(w, "%s: %s (%s)\n", doc.ID, doc.Status, doc.Error)
		return
	}
	fmt.Fprintf(w, "%s: %d chunks\n", doc.ID, doc.ChunkCount)
}

func reprocessCommand(c *cli.Context) error {
	ctx := context.Background()

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	pipeline, err := db.NewIngestionPipeline()
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	result, err := pipeline.Reprocess(ctx, c.String("doc"))
	if err != nil {
		return fmt.Errorf("reprocessing failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "%s: %d chunks\n", result.DocumentID, result.Chunks)
	return nil
}

func reprocessCollectionCommand(c *cli.Context) error {
	ctx := context.Background()

	// Create reprocessing config
	reprocessConfig := &reprocess.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		Restart:        c.Bool("restart"),
	}

	// Validate config
	if reprocessConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reprocessConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reprocessConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	pipeline, err := db.NewIngestionPipeline()
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	reprocessor, err := db.NewReprocessor(pipeline, reprocessConfig, reprocess.WithProgress(c.App.ErrWriter))
	if err != nil {
		return fmt.Errorf("failed to create reprocessor: %w", err)
	}

	summary, err := reprocessor.Run(ctx, c.String("collection"))
	if err != nil {
		return fmt.Errorf("reprocessing failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "%s: %d processed, %d failed\n", summary.CollectionID, summary.Processed, summary.Failed)
	return nil
}

func deleteCommand(c *cli.Context) error {
	ctx := context.Background()

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	pipeline, err := db.NewIngestionPipeline()
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	removed, err := pipeline.DeleteAll(ctx, c.String("doc"))
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "%s: %d chunks removed\n", c.String("doc"), removed)
	return nil
}

func countCommand(c *cli.Context) error {
	ctx := context.Background()

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	pipeline, err := db.NewIngestionPipeline()
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	n, err := pipeline.GetChunkCount(ctx, c.String("doc"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, n)
	return nil
}

func searchCommand(c *cli.Context) error {
	ctx := context.Background()

	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("query is required")
	}

	opts := search.Options{Limit: c.Int("limit")}
	if c.IsSet("threshold") {
		opts.Threshold = search.Threshold(float32(c.Float64("threshold")))
	}
	for _, t := range c.StringSlice("type") {
		opts.Types = append(opts.Types, core.ChunkType(t))
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	service, err := db.NewSearchService()
	if err != nil {
		return fmt.Errorf("failed to create search service: %w", err)
	}

	results, err := service.Search(ctx, c.String("collection"), query, opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Found %d hits\n", len(results))
	for i, hit := range results {
		fmt.Fprintf(c.App.Writer, "%d: [%s] %s/%s [%0.3f]\n   %s\n",
			i, hit.Type, hit.DocumentID, hit.ChunkID, hit.Similarity, preview(hit.Text, 120))
	}
	return nil
}

func askCommand(c *cli.Context) error {
	ctx := context.Background()

	question := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return errors.New("question is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	service, err := db.NewSearchService()
	if err != nil {
		return fmt.Errorf("failed to create search service: %w", err)
	}
	grounder, err := grounding.NewChatGrounder(service)
	if err != nil {
		return err
	}

	chat, err := grounder.Context(ctx, c.String("collection"), question)
	if err != nil {
		return err
	}
	switch chat.Outcome {
	case grounding.OutcomeNothingFound:
		fmt.Fprintln(c.App.Writer, "Nothing relevant found.")
	default:
		fmt.Fprintln(c.App.Writer, chat.Text)
	}
	return nil
}

func infoCommand(c *cli.Context) error {
	ctx := context.Background()

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	service, err := db.NewSearchService()
	if err != nil {
		return fmt.Errorf("failed to create search service: %w", err)
	}

	info, err := service.CollectionInfo(ctx, c.String("collection"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Collection: %s\n", info.CollectionID)
	fmt.Fprintf(c.App.Writer, "Documents: %d\n", info.DocumentCount)
	fmt.Fprintf(c.App.Writer, "Chunks: %d\n", info.ChunkCount)
	for _, t := range core.ChunkTypes {
		if n := info.TypeCounts[t]; n > 0 {
			fmt.Fprintf(c.App.Writer, "  %s: %d\n", t, n)
		}
	}
	return nil
}

func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

// loadEnv loads the env file if it exists. Values already set in the
// environment win.
func loadEnv(c *cli.Context) error {
	path := c.String("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
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

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
