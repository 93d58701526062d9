// Package main provides the visum CLI, a thin wrapper over the Visum Go
// client for inspecting and maintaining a records collection.
//
// Usage:
//
//	visum <command> [flags] [args]
//
// Commands:
//
//	list        list records (paginated)
//	get         fetch one record by id
//	create      create records from image URLs
//	delete      delete records by id
//	delete-all  delete every record (requires --yes)
//	search      search records by concepts or image URL
//	status      show collection processing counts
//
// Environment variables:
//   - VISUM_API_KEY: static API key (or set VISUM_CLIENT_ID and VISUM_CLIENT_SECRET)
//   - VISUM_BASE_URL: API base URL (default: https://api.visum.ai)
//   - VISUM_LOG_LEVEL: debug, info, warn or error (default: info)
//   - VISUM_MAX_BATCH_SIZE: records per create request (default: 128)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/visumhq/visum-go/internal/config"
	"github.com/visumhq/visum-go/pkg/visum"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Configure slog with the log level from config
	setupLogging(cfg.LogLevel)

	client := visum.NewClientWithOptions(visum.ClientOptions{
		BaseURL:              cfg.BaseURL,
		APIKey:               cfg.APIKey,
		ClientID:             cfg.ClientID,
		ClientSecret:         cfg.ClientSecret,
		MaxBatchSize:         cfg.MaxBatchSize,
		MaxConcurrentBatches: cfg.MaxConcurrentBatches,
		Timeout:              time.Duration(cfg.TimeoutSeconds) * time.Second,
	})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var cmdErr error
	switch os.Args[1] {
	case "list":
		cmdErr = runList(ctx, client, os.Args[2:])
	case "get":
		cmdErr = runGet(ctx, client, os.Args[2:])
	case "create":
		cmdErr = runCreate(ctx, client, os.Args[2:])
	case "delete":
		cmdErr = runDelete(ctx, client, os.Args[2:])
	case "delete-all":
		cmdErr = runDeleteAll(ctx, client, os.Args[2:])
	case "search":
		cmdErr = runSearch(ctx, client, os.Args[2:])
	case "status":
		cmdErr = runStatus(ctx, client)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if cmdErr != nil {
		slog.Error("Command failed", "command", os.Args[1], "error", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: visum <list|get|create|delete|delete-all|search|status> [flags] [args]")
}

func runList(ctx context.Context, client *visum.Client, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	page := fs.Int("page", 1, "page to fetch")
	perPage := fs.Int("per-page", 20, "records per page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	records, err := client.Records.List(ctx, &visum.ListOptions{Page: *page, PerPage: *perPage})
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No records.")
		return nil
	}
	printRecords(records)
	return nil
}

func runGet(ctx context.Context, client *visum.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("get takes exactly one record id")
	}

	record, err := client.Records.Get(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Println("ID:", record.ID)
	if record.Data.Image != nil {
		fmt.Println("URL:", record.Data.Image.URL)
	}
	if !record.CreatedAt.IsZero() {
		fmt.Println("Created:", record.CreatedAt.Format(time.RFC3339))
	}
	if record.Status != nil {
		fmt.Printf("Status: %d (%s)\n", record.Status.Code, record.Status.Description)
	}
	for _, c := range record.Data.Concepts {
		fmt.Println("Concept:", conceptLabel(c))
	}
	for key, value := range record.Data.Metadata {
		fmt.Printf("Metadata: %s=%v\n", key, value)
	}
	return nil
}

func runCreate(ctx context.Context, client *visum.Client, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	concepts := fs.String("concepts", "", "comma-separated concept ids to attach to every record")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("create takes one or more image URLs")
	}

	attached := conceptList(*concepts)
	records := make([]*visum.Record, 0, fs.NArg())
	for _, imageURL := range fs.Args() {
		records = append(records, visum.NewURLRecord(imageURL, attached...))
	}

	created, err := client.Records.Create(ctx, records...)
	if err != nil {
		return err
	}

	fmt.Printf("Created %d record(s)\n", len(created))
	printRecords(created)
	return nil
}

func runDelete(ctx context.Context, client *visum.Client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("delete takes one or more record ids")
	}

	if len(args) == 1 {
		if err := client.Records.Delete(ctx, args[0]); err != nil {
			return err
		}
	} else {
		if err := client.Records.DeleteBatch(ctx, args); err != nil {
			return err
		}
	}

	fmt.Printf("Deleted %d record(s)\n", len(args))
	return nil
}

func runDeleteAll(ctx context.Context, client *visum.Client, args []string) error {
	fs := flag.NewFlagSet("delete-all", flag.ExitOnError)
	yes := fs.Bool("yes", false, "confirm deleting every record in the collection")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return fmt.Errorf("refusing to delete every record without --yes")
	}

	if err := client.Records.DeleteAll(ctx); err != nil {
		return err
	}

	fmt.Println("Deleted all records")
	return nil
}

func runSearch(ctx context.Context, client *visum.Client, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	all := fs.String("concepts", "", "comma-separated concepts that must all match")
	anyOf := fs.String("any", "", "comma-separated concepts of which at least one must match")
	imageURL := fs.String("url", "", "image URL to match by similarity")
	page := fs.Int("page", 0, "page to fetch")
	perPage := fs.Int("per-page", 0, "records per page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := &visum.SearchRequest{Page: *page, PerPage: *perPage}
	for _, name := range splitList(*all) {
		req.Ands = append(req.Ands, visum.ConceptTerm(name, true))
	}
	for _, name := range splitList(*anyOf) {
		req.Ors = append(req.Ors, visum.ConceptTerm(name, true))
	}
	if *imageURL != "" {
		req.Ands = append(req.Ands, visum.ImageTerm(*imageURL))
	}
	if len(req.Ands) == 0 && len(req.Ors) == 0 {
		return fmt.Errorf("search needs at least one of --concepts, --any or --url")
	}

	records, err := client.Records.Search(ctx, req)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, record := range records {
		fmt.Printf("%.3f  %s  %s\n", record.Score, record.ID, recordMedia(record))
	}
	return nil
}

func runStatus(ctx context.Context, client *visum.Client) error {
	status, err := client.Records.GetStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Processed: ", status.Processed)
	fmt.Println("To process:", status.ToProcess)
	fmt.Println("Errors:    ", status.Errors)
	return nil
}

func printRecords(records []*visum.Record) {
	for _, record := range records {
		labels := make([]string, 0, len(record.Data.Concepts))
		for _, c := range record.Data.Concepts {
			labels = append(labels, conceptLabel(c))
		}
		fmt.Printf("%s  %s  %s\n", record.ID, recordMedia(record), strings.Join(labels, ","))
	}
}

func recordMedia(record *visum.Record) string {
	img := record.Data.Image
	switch {
	case img == nil:
		return "(no media)"
	case img.URL != "":
		return img.URL
	default:
		return fmt.Sprintf("(inline, %d bytes)", len(img.Base64))
	}
}

func conceptLabel(c visum.Concept) string {
	label := c.ID
	if label == "" {
		label = c.Name
	}
	if c.Value != nil && !*c.Value {
		return "!" + label
	}
	return label
}

// conceptList parses a comma-separated flag value into concept annotations.
func conceptList(value string) []visum.Concept {
	names := splitList(value)
	concepts := make([]visum.Concept, 0, len(names))
	for _, name := range names {
		concepts = append(concepts, visum.Concept{ID: name})
	}
	return concepts
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// setupLogging configures slog with the specified log level
func setupLogging(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))
}
