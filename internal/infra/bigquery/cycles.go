package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-reconciler/internal/cycles"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

type CycleRow struct {
	CycleID     string     `bigquery:"cycle_id"`     // REQUIRED
	Year        int64      `bigquery:"year"`         // REQUIRED
	Month       int64      `bigquery:"month"`        // REQUIRED
	Kind        string     `bigquery:"kind"`         // REQUIRED
	Label       string     `bigquery:"label"`        // REQUIRED
	PeriodStart civil.Date `bigquery:"period_start"` // DATE, REQUIRED
	CreatedTS   time.Time  `bigquery:"created_ts"`   // REQUIRED
}

func newCycleRow(year, month int, kind domain.StatementKind) CycleRow {
	return CycleRow{
		CycleID:     uuid.NewString(),
		Year:        int64(year),
		Month:       int64(month),
		Kind:        string(kind),
		Label:       cycles.Key{Year: year, Month: month, Kind: kind}.Label(),
		PeriodStart: civil.Date{Year: year, Month: time.Month(month), Day: 1},
		CreatedTS:   time.Now().UTC(),
	}
}

func findCycleID(ctx context.Context, client *bigquery.Client, ds Dataset, year, month int, kind domain.StatementKind) (string, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT cycle_id
		FROM %s
		WHERE year = @year AND month = @month AND kind = @kind
		ORDER BY created_ts
		LIMIT 1
	`, ds.Table(cyclesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "year", Value: int64(year)},
		{Name: "month", Value: int64(month)},
		{Name: "kind", Value: string(kind)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("reading query: %w", err)
	}

	var row struct {
		CycleID string `bigquery:"cycle_id"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("iterating: %w", err)
	}
	return row.CycleID, nil
}

// ResolveCycleWithClient returns the cycle id for a period, creating the cycle
// the first time the period is seen.
func ResolveCycleWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, year, month int, kind domain.StatementKind) (string, error) {
	id, err := findCycleID(ctx, client, ds, year, month, kind)
	if err != nil {
		return "", fmt.Errorf("ResolveCycleWithClient: %w", err)
	}
	if id != "" {
		return id, nil
	}

	row := newCycleRow(year, month, kind)
	sql := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @year AS year, @month AS month, @kind AS kind) S
		ON T.year = S.year AND T.month = S.month AND T.kind = S.kind
		WHEN NOT MATCHED THEN
			INSERT (cycle_id, year, month, kind, label, period_start, created_ts)
			VALUES (@cycle_id, @year, @month, @kind, @label, @period_start, @created_ts)
	`, ds.Table(cyclesTable))

	params := []bigquery.QueryParameter{
		{Name: "cycle_id", Value: row.CycleID},
		{Name: "year", Value: row.Year},
		{Name: "month", Value: row.Month},
		{Name: "kind", Value: row.Kind},
		{Name: "label", Value: row.Label},
		{Name: "period_start", Value: row.PeriodStart},
		{Name: "created_ts", Value: row.CreatedTS},
	}
	if _, err := runDML(ctx, client, "ResolveCycleWithClient", sql, params); err != nil {
		return "", err
	}

	// Read back: a concurrent resolver may have won the merge.
	id, err = findCycleID(ctx, client, ds, year, month, kind)
	if err != nil {
		return "", fmt.Errorf("ResolveCycleWithClient: reading back: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("ResolveCycleWithClient: cycle %s missing after insert", row.Label)
	}
	return id, nil
}
