package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/cycles"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/notionsync"
	"github.com/dvloznov/statement-reconciler/internal/period"
	"github.com/joho/godotenv"
)

// sync-notion creates the Notion cycle pages for a range of months ahead
// of ingestion, so reviewers see every period before statements arrive.
func main() {
	_ = godotenv.Load()

	// Initialize structured logger
	log := logger.NewWithOptions(logger.Options{Level: os.Getenv("LOG_LEVEL")})

	// Parse CLI flags
	periodText := flag.String("period", "", "Months to create, e.g. \"Jan 2024 - Dec 2024\" (required)")
	kindsFlag := flag.String("kinds", "monthly,range", "Comma-separated statement kinds")
	notionToken := flag.String("notion-token", os.Getenv("NOTION_TOKEN"), "Notion API token")
	notionDBID := flag.String("notion-db-id", os.Getenv("NOTION_CYCLES_DATABASE_ID"), "Notion cycles database ID")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - list cycles without creating pages")
	flag.Parse()

	// Validate required flags
	if *periodText == "" {
		log.Fatal().Msg("Error: --period is required")
	}
	span, err := period.Parse(*periodText)
	if err != nil {
		log.Fatal().Err(err).Msg("Error: invalid --period")
	}

	var kinds []domain.StatementKind
	for _, s := range strings.Split(*kindsFlag, ",") {
		kind, ok := domain.ParseStatementKind(strings.TrimSpace(s))
		if !ok {
			log.Fatal().Str("kind", s).Msg("Error: invalid kind")
		}
		kinds = append(kinds, kind)
	}

	if *dryRun {
		for ym := range span.All() {
			for _, kind := range kinds {
				fmt.Println(cycles.Key{Year: ym.Year, Month: ym.Month, Kind: kind}.Label())
			}
		}
		return
	}

	if *notionToken == "" || *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-token and --notion-db-id are required")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// Add logger to context
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("span", span.String()).
		Int("months", span.MonthCount()).
		Msg("Starting Notion cycle sync")

	board := notionsync.NewCycleBoard(notionsync.NewNotionClient(*notionToken), *notionDBID)
	pages, err := board.Seed(ctx, span, kinds...)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	labels := make([]string, 0, len(pages))
	for label := range pages {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Printf("%-18s %s\n", label, pages[label])
	}

	fmt.Println("Sync completed successfully.")
}
