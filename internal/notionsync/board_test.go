package notionsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/cycles"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/period"
	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockNotionService is a mock implementation of NotionService for testing.
type MockNotionService struct {
	CreatePageFunc    func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabaseFunc func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)

	creates int
	queries int
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	m.creates++
	return m.CreatePageFunc(ctx, databaseID, properties)
}

func (m *MockNotionService) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	m.queries++
	return m.QueryDatabaseFunc(ctx, databaseID, filter)
}

func cyclePage(id, label string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			propCycle: &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: label}},
			},
		},
	}
}

func testContext() context.Context {
	return logger.WithContext(context.Background(), zerolog.Nop())
}

func TestCycleBoard_ReusesExistingPage(t *testing.T) {
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			assert.Equal(t, "db-1", databaseID)
			if req.StartCursor == "" {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{cyclePage("page-jan", "2024-01 monthly")},
					HasMore:    true,
					NextCursor: "next",
				}, nil
			}
			return &notionapi.DatabaseQueryResponse{
				Results: []notionapi.Page{cyclePage("page-feb", "2024-02 range")},
			}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			t.Fatal("no page should be created")
			return nil, nil
		},
	}
	board := NewCycleBoard(mock, "db-1")
	ctx := testContext()

	id, err := board.Resolve(ctx, 2024, 2, domain.KindRange)
	require.NoError(t, err)
	assert.Equal(t, "page-feb", id)

	id, err = board.Resolve(ctx, 2024, 1, domain.KindMonthly)
	require.NoError(t, err)
	assert.Equal(t, "page-jan", id)

	assert.Equal(t, 2, mock.queries, "pages are listed once")
}

func TestCycleBoard_CreatesMissingPageOnce(t *testing.T) {
	var created notionapi.Properties
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			created = properties
			return &notionapi.Page{ID: "page-new"}, nil
		},
	}
	board := NewCycleBoard(mock, "db-1")
	ctx := testContext()

	for i := 0; i < 2; i++ {
		id, err := board.Resolve(ctx, 2024, 3, domain.KindMonthly)
		require.NoError(t, err)
		assert.Equal(t, "page-new", id)
	}
	assert.Equal(t, 1, mock.creates)

	title, ok := created[propCycle].(notionapi.TitleProperty)
	require.True(t, ok)
	assert.Equal(t, "2024-03 monthly", title.Title[0].Text.Content)

	kind, ok := created[propKind].(notionapi.SelectProperty)
	require.True(t, ok)
	assert.Equal(t, "monthly", kind.Select.Name)
}

func TestCycleBoard_Errors(t *testing.T) {
	t.Run("query fails", func(t *testing.T) {
		mock := &MockNotionService{
			QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
				return nil, errors.New("rate limited")
			},
		}
		_, err := NewCycleBoard(mock, "db").Resolve(testContext(), 2024, 1, domain.KindMonthly)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limited")
	})

	t.Run("create fails", func(t *testing.T) {
		mock := &MockNotionService{
			QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
				return &notionapi.DatabaseQueryResponse{}, nil
			},
			CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
				return nil, errors.New("forbidden")
			},
		}
		_, err := NewCycleBoard(mock, "db").Resolve(testContext(), 2024, 1, domain.KindMonthly)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "forbidden")
	})
}

func TestCycleProperties(t *testing.T) {
	props := CycleProperties(cycles.Key{Year: 2023, Month: 12, Kind: domain.KindRange})

	year, ok := props[propYear].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.Equal(t, float64(2023), year.Number)

	start, ok := props[propPeriodStart].(notionapi.DateProperty)
	require.True(t, ok)
	require.NotNil(t, start.Date.Start)
	assert.Equal(t, "2023-12-01", time.Time(*start.Date.Start).Format("2006-01-02"))
}

func TestCycleBoard_Seed(t *testing.T) {
	next := 0
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{
				Results: []notionapi.Page{cyclePage("page-dec", "2023-12 monthly")},
			}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			next++
			return &notionapi.Page{ID: notionapi.ObjectID(fmt.Sprintf("page-%d", next))}, nil
		},
	}
	board := NewCycleBoard(mock, "db-1")

	span, err := period.Parse("01/12/2023 - 31/01/2024")
	require.NoError(t, err)

	pages, err := board.Seed(testContext(), span, domain.KindMonthly, domain.KindRange)
	require.NoError(t, err)
	assert.Len(t, pages, 4)
	assert.Equal(t, "page-dec", pages["2023-12 monthly"])
	assert.Equal(t, 3, mock.creates)
}
