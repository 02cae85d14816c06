package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/app"
	"github.com/dvloznov/statement-reconciler/internal/config"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/gcs"
	"github.com/dvloznov/statement-reconciler/internal/gcsuploader"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/period"
	"github.com/dvloznov/statement-reconciler/internal/pipeline"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// parse-period needs no backends.
	if os.Args[1] == "parse-period" {
		runParsePeriod(os.Args[2:])
		return
	}

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	switch os.Args[1] {
	case "ingest":
		runIngest(cfg, log)
	case "validate":
		runValidate(cfg, log)
	case "decompose":
		runDecompose(cfg, log)
	case "delete":
		runDelete(cfg, log)
	case "inspect":
		runInspect(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Statement Reconciler CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest        Extract and reconcile local statement PDFs")
	fmt.Println("  validate      Validate one record, or every pending record")
	fmt.Println("  decompose     Split a stored multi-month record into monthly records")
	fmt.Println("  delete        Delete a record by id or natural key")
	fmt.Println("  inspect       Show one record or list records")
	fmt.Println("  parse-period  Parse statement period text")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func setup(cfg *config.Config, log zerolog.Logger, timeout time.Duration) (context.Context, context.CancelFunc, *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = logger.WithContext(ctx, log)

	services, err := app.New(ctx, cfg, log)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to initialise services")
	}
	return ctx, func() {
		services.Close()
		cancel()
	}, services
}

func runIngest(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	bankID := fs.String("bank-id", "", "Bank the files belong to (skips file name matching)")
	kind := fs.String("kind", "", "Statement kind: monthly or range (default: classify)")
	password := fs.String("password", "", "Document password to try first")
	assignee := fs.String("assignee", "", "Reviewer assigned to created records")
	periodText := fs.String("period", "", "Statement period to use when extraction fails")
	fs.Parse(os.Args[2:])

	if fs.NArg() == 0 {
		log.Fatal().Msg("Usage: cli ingest [options] FILE|gs://BUCKET/OBJECT...")
	}

	var hintKind domain.StatementKind
	if *kind != "" {
		k, ok := domain.ParseStatementKind(*kind)
		if !ok {
			log.Fatal().Str("kind", *kind).Msg("Invalid kind")
		}
		hintKind = k
	}

	var manual *period.Span
	if *periodText != "" {
		span, err := period.Parse(*periodText)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -period")
		}
		manual = &span
	}

	ctx, done, services := setup(cfg, log, 30*time.Minute)
	defer done()

	p, err := services.Pipeline(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extraction pipeline")
	}

	var items []*pipeline.UploadItem
	for i, path := range fs.Args() {
		name, data, err := readSource(ctx, path)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Failed to read file")
		}
		item := pipeline.NewUploadItem(i, name, data)
		item.BankID = *bankID
		item.Kind = hintKind
		item.Password = *password
		items = append(items, item)
	}

	summary, err := p.Run(ctx, nil, items)
	if err != nil {
		log.Fatal().Err(err).Msg("Batch aborted")
	}
	log.Info().Int("succeeded", summary.Succeeded).Int("unmatched", summary.Unmatched).Int("failed", summary.Failed).Msg("Extraction finished")

	for _, item := range items {
		if manual != nil && (item.Status == pipeline.StatusFailed || item.Status == pipeline.StatusUnmatched) {
			if err := p.EnterPeriod(ctx, item, *manual); err != nil {
				log.Error().Err(err).Str("file", item.FileName).Msg("Failed to enter period")
				continue
			}
		}
		if item.Status != pipeline.StatusMatched {
			fmt.Printf("%-40s %s %v\n", item.FileName, item.Status, item.Err())
			continue
		}

		res, err := p.Upload(ctx, item, *assignee)
		if err != nil {
			log.Error().Err(err).Str("file", item.FileName).Msg("Upload failed")
			fmt.Printf("%-40s upload failed: %v\n", item.FileName, err)
			continue
		}
		fmt.Printf("%-40s %s %s: %d created, %d merged\n", item.FileName, res.Kind, res.Span, res.Created, res.Merged)
	}
}

// readSource reads a local file or a gs:// object.
func readSource(ctx context.Context, path string) (string, []byte, error) {
	if strings.HasPrefix(path, "gs://") {
		data, err := gcsuploader.FetchFromGCS(ctx, path)
		return gcs.FileName(path), data, err
	}
	data, err := os.ReadFile(path)
	return filepath.Base(path), data, err
}

func runValidate(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	recordID := fs.String("record-id", "", "Record to validate")
	pending := fs.Bool("pending", false, "Validate every record that is not yet validated")
	by := fs.String("by", cfg.ValidatorID, "Validator id stored on the record")
	fs.Parse(os.Args[2:])

	if (*recordID == "") == !*pending {
		log.Fatal().Msg("Usage: cli validate (-record-id ID | -pending)")
	}

	ctx, done, services := setup(cfg, log, 10*time.Minute)
	defer done()

	if *pending {
		n, err := services.Engine.RevalidatePending(ctx, *by)
		if err != nil {
			log.Fatal().Err(err).Msg("Revalidation failed")
		}
		fmt.Printf("%d record(s) now validated.\n", n)
		return
	}

	rec, err := services.Engine.ValidateRecord(ctx, *recordID, *by)
	if err != nil {
		log.Fatal().Err(err).Msg("Validation failed")
	}
	fmt.Printf("Validated: %v\n", rec.Validation.Validated)
	for _, m := range rec.Validation.Mismatches {
		fmt.Printf("  %-16s expected %q, got %q\n", m.Field, m.Expected, m.Actual)
	}
}

func runDecompose(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("decompose", flag.ExitOnError)
	recordID := fs.String("record-id", "", "Multi-month record to split")
	fs.Parse(os.Args[2:])

	if *recordID == "" {
		log.Fatal().Msg("Error: -record-id is required")
	}

	ctx, done, services := setup(cfg, log, 10*time.Minute)
	defer done()

	res, err := services.Engine.DecomposeRecord(ctx, *recordID)
	if res != nil {
		fmt.Printf("%s %s: %d created, %d merged, %d failed, aggregate deleted: %v\n",
			res.Kind, res.Span, res.Created, res.Merged, res.Failed, res.AggregateDeleted)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Decompose failed")
	}
}

func runDelete(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	recordID := fs.String("record-id", "", "Record to delete")
	bankID := fs.String("bank-id", "", "Bank of the record")
	month := fs.Int("month", 0, "Month of the record")
	year := fs.Int("year", 0, "Year of the record")
	kind := fs.String("kind", "", "Statement kind of the record")
	fs.Parse(os.Args[2:])

	ctx, done, services := setup(cfg, log, 5*time.Minute)
	defer done()

	if *recordID != "" {
		if err := services.Engine.DeleteRecord(ctx, *recordID); err != nil {
			log.Fatal().Err(err).Msg("Delete failed")
		}
		fmt.Printf("Deleted record %s.\n", *recordID)
		return
	}

	k, _ := domain.ParseStatementKind(*kind)
	key := domain.RecordKey{BankID: *bankID, Month: *month, Year: *year, Kind: k}
	if err := services.Engine.DeleteByKey(ctx, key); err != nil {
		log.Fatal().Err(err).Msg("Delete failed")
	}
	fmt.Printf("Deleted record %s.\n", key)
}

func runInspect(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	recordID := fs.String("record-id", "", "Record to show in full")
	bankID := fs.String("bank-id", "", "Filter by bank")
	year := fs.Int("year", 0, "Filter by year")
	kind := fs.String("kind", "", "Filter by statement kind")
	limit := fs.Int("limit", 100, "Maximum records to list")
	fs.Parse(os.Args[2:])

	ctx, done, services := setup(cfg, log, 5*time.Minute)
	defer done()

	if *recordID != "" {
		rec, err := services.Engine.GetRecord(ctx, *recordID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to get record")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(rec)
		return
	}

	k, _ := domain.ParseStatementKind(*kind)
	recs, err := services.Engine.ListRecords(ctx, records.Filter{BankID: *bankID, Year: *year, Kind: k, Limit: *limit})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list records")
	}

	fmt.Printf("\n=== Records (%d) ===\n", len(recs))
	for _, rec := range recs {
		fmt.Printf("%s  %-36s validated=%-5v workflow=%s\n", rec.ID, rec.Key, rec.Validation.Validated, rec.Workflow.Status)
	}
	fmt.Println()
}

func runParsePeriod(args []string) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		fmt.Fprintln(os.Stderr, "Usage: cli parse-period TEXT")
		os.Exit(1)
	}

	span, err := period.Parse(text)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("Span:      %s\n", span)
	fmt.Printf("Canonical: %s\n", span.Canonical())
	fmt.Printf("Months:    %d\n", span.MonthCount())
	for ym := range span.All() {
		fmt.Printf("  %s\n", ym)
	}
}
