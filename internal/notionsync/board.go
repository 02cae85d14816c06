package notionsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/cycles"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/period"
	"github.com/jomei/notionapi"
)

// Property names on the cycles database.
const (
	propCycle       = "Cycle"
	propYear        = "Year"
	propMonth       = "Month"
	propKind        = "Kind"
	propPeriodStart = "Period Start"
)

// CycleBoard keeps one Notion page per processing cycle and uses the page id
// as the cycle id. Pages are matched on their title, the cycle label.
type CycleBoard struct {
	notion     NotionService
	databaseID string

	mu     sync.Mutex
	pages  map[string]string // label -> page id
	loaded bool
}

// NewCycleBoard creates a cycle service on a Notion database.
func NewCycleBoard(notion NotionService, databaseID string) *CycleBoard {
	return &CycleBoard{
		notion:     notion,
		databaseID: databaseID,
		pages:      make(map[string]string),
	}
}

// Resolve implements cycles.Service.
func (b *CycleBoard) Resolve(ctx context.Context, year, month int, kind domain.StatementKind) (string, error) {
	key := cycles.Key{Year: year, Month: month, Kind: kind}
	label := key.Label()
	log := logger.FromContext(ctx)

	// Serialised so two records of the same new period share one page.
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.pages[label]; ok {
		return id, nil
	}

	if !b.loaded {
		if err := b.load(ctx); err != nil {
			return "", fmt.Errorf("Resolve %s: %w", label, err)
		}
		if id, ok := b.pages[label]; ok {
			return id, nil
		}
	}

	page, err := b.notion.CreatePage(ctx, b.databaseID, CycleProperties(key))
	if err != nil {
		return "", fmt.Errorf("Resolve %s: creating page: %w", label, err)
	}

	id := string(page.ID)
	b.pages[label] = id
	log.Info().Str("cycle", label).Str("page_id", id).Msg("Created cycle page in Notion")
	return id, nil
}

// Seed makes sure a page exists for every month of span and every kind.
// It returns the cycle labels mapped to page ids.
func (b *CycleBoard) Seed(ctx context.Context, span period.Span, kinds ...domain.StatementKind) (map[string]string, error) {
	out := make(map[string]string, span.MonthCount()*len(kinds))
	for ym := range span.All() {
		for _, kind := range kinds {
			id, err := b.Resolve(ctx, ym.Year, ym.Month, kind)
			if err != nil {
				return out, fmt.Errorf("Seed: %w", err)
			}
			out[cycles.Key{Year: ym.Year, Month: ym.Month, Kind: kind}.Label()] = id
		}
	}
	return out, nil
}

// load indexes every existing cycle page by title.
func (b *CycleBoard) load(ctx context.Context) error {
	pages, err := queryAllNotionPages(ctx, b.notion, b.databaseID)
	if err != nil {
		return err
	}

	for _, page := range pages {
		label := extractTitle(page, propCycle)
		if label == "" {
			continue
		}
		if _, dup := b.pages[label]; dup {
			log := logger.FromContext(ctx)
			log.Warn().
				Str("cycle", label).
				Str("page_id", string(page.ID)).
				Msg("Duplicate cycle page in Notion, keeping the first")
			continue
		}
		b.pages[label] = string(page.ID)
	}
	b.loaded = true
	return nil
}

// CycleProperties builds the Notion page properties for a cycle.
func CycleProperties(key cycles.Key) notionapi.Properties {
	start := notionapi.Date(time.Date(key.Year, time.Month(key.Month), 1, 0, 0, 0, 0, time.UTC))
	return notionapi.Properties{
		propCycle: notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: key.Label(),
					},
				},
			},
		},
		propYear: notionapi.NumberProperty{
			Number: float64(key.Year),
		},
		propMonth: notionapi.NumberProperty{
			Number: float64(key.Month),
		},
		propKind: notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(key.Kind),
			},
		},
		propPeriodStart: notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: &start,
			},
		},
	}
}

// queryAllNotionPages queries all pages from a Notion database, handling pagination.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}

		// Only set StartCursor if we have a cursor value
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}

// extractTitle returns the plain text of a title property, or "".
func extractTitle(page notionapi.Page, name string) string {
	prop, ok := page.Properties[name]
	if !ok {
		return ""
	}
	switch title := prop.(type) {
	case *notionapi.TitleProperty:
		if len(title.Title) > 0 {
			return title.Title[0].PlainText
		}
	case notionapi.TitleProperty:
		if len(title.Title) > 0 {
			return title.Title[0].PlainText
		}
	}
	return ""
}

var _ cycles.Service = (*CycleBoard)(nil)
