package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// buildRecordWhere turns a records filter into a WHERE clause and its parameters.
func buildRecordWhere(filter records.Filter) (string, []bigquery.QueryParameter) {
	var conds []string
	var params []bigquery.QueryParameter

	add := func(cond, name string, value interface{}) {
		conds = append(conds, cond)
		params = append(params, bigquery.QueryParameter{Name: name, Value: value})
	}

	if filter.ID != "" {
		add("record_id = @f_record_id", "f_record_id", filter.ID)
	}
	if filter.BankID != "" {
		add("bank_id = @f_bank_id", "f_bank_id", filter.BankID)
	}
	if filter.CompanyID != "" {
		add("company_id = @f_company_id", "f_company_id", filter.CompanyID)
	}
	if filter.Month != 0 {
		add("month = @f_month", "f_month", int64(filter.Month))
	}
	if filter.Year != 0 {
		add("year = @f_year", "f_year", int64(filter.Year))
	}
	if filter.Kind != "" {
		add("kind = @f_kind", "f_kind", string(filter.Kind))
	}
	if filter.CycleID != "" {
		add("cycle_id = @f_cycle_id", "f_cycle_id", filter.CycleID)
	}
	if filter.Validated != nil {
		add("validated = @f_validated", "f_validated", *filter.Validated)
	}

	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), params
}

func readRecords(ctx context.Context, q *bigquery.Query, op string) ([]*domain.StatementRecord, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: reading query: %w", op, err)
	}

	var result []*domain.StatementRecord
	for {
		var row StatementRecordRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iterating: %w", op, err)
		}
		rec, err := rowToRecord(&row)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, rec)
	}
	return result, nil
}

// ListStatementRecordsWithClient returns the records matching the filter,
// ordered by period, bank and kind.
func ListStatementRecordsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, filter records.Filter) ([]*domain.StatementRecord, error) {
	where, params := buildRecordWhere(filter)
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY year, month, bank_id, kind
	`, statementRecordColumns, ds.Table(statementRecordsTable), where)
	if filter.Limit > 0 {
		sql += fmt.Sprintf("LIMIT %d\n", filter.Limit)
	}

	q := client.Query(sql)
	q.Parameters = params
	return readRecords(ctx, q, "ListStatementRecordsWithClient")
}

// GetStatementRecordWithClient returns one record by id or records.ErrNotFound.
func GetStatementRecordWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, id string) (*domain.StatementRecord, error) {
	recs, err := ListStatementRecordsWithClient(ctx, client, ds, records.Filter{ID: id, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("GetStatementRecordWithClient: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("GetStatementRecordWithClient %s: %w", id, records.ErrNotFound)
	}
	return recs[0], nil
}

// FindStatementRecordByKeyWithClient returns the record holding a natural key, or nil.
func FindStatementRecordByKeyWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, key domain.RecordKey) (*domain.StatementRecord, error) {
	filter := records.ForKey(key)
	filter.Limit = 1
	recs, err := ListStatementRecordsWithClient(ctx, client, ds, filter)
	if err != nil {
		return nil, fmt.Errorf("FindStatementRecordByKeyWithClient: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// InsertStatementRecordWithClient inserts a record unless its natural key is
// already taken, in which case it returns records.ErrConflict.
func InsertStatementRecordWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, rec *domain.StatementRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	row, err := recordToRow(rec)
	if err != nil {
		return fmt.Errorf("InsertStatementRecordWithClient: %w", err)
	}

	// Conditional insert: BigQuery has no unique constraints.
	sql := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s)
		SELECT
			@record_id, @bank_id, @month, @year, @kind,
			@company_id, @cycle_id,
			@document_path, @document_size, @document_password,
			@payload,
			@validated, @validated_ts, @validated_by, @mismatches,
			@workflow_status, @assignee,
			@created_ts, @updated_ts
		FROM UNNEST([1])
		WHERE NOT EXISTS (
			SELECT 1 FROM %[1]s
			WHERE bank_id = @bank_id AND month = @month AND year = @year AND kind = @kind
		)
	`, ds.Table(statementRecordsTable), statementRecordColumns)

	n, err := runDML(ctx, client, "InsertStatementRecordWithClient", sql, rowParams(row))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("InsertStatementRecordWithClient %s: %w", rec.Key, records.ErrConflict)
	}
	return nil
}

// UpdateStatementRecordWithClient replaces the record with the same id.
func UpdateStatementRecordWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, rec *domain.StatementRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	row, err := recordToRow(rec)
	if err != nil {
		return fmt.Errorf("UpdateStatementRecordWithClient: %w", err)
	}

	sql := fmt.Sprintf(`
		UPDATE %s
		SET bank_id = @bank_id,
		    month = @month,
		    year = @year,
		    kind = @kind,
		    company_id = @company_id,
		    cycle_id = @cycle_id,
		    document_path = @document_path,
		    document_size = @document_size,
		    document_password = @document_password,
		    payload = @payload,
		    validated = @validated,
		    validated_ts = @validated_ts,
		    validated_by = @validated_by,
		    mismatches = @mismatches,
		    workflow_status = @workflow_status,
		    assignee = @assignee,
		    updated_ts = @updated_ts
		WHERE record_id = @record_id
	`, ds.Table(statementRecordsTable))

	n, err := runDML(ctx, client, "UpdateStatementRecordWithClient", sql, rowParams(row))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("UpdateStatementRecordWithClient %s: %w", rec.ID, records.ErrNotFound)
	}
	return nil
}

// DeleteStatementRecordsWithClient deletes the records matching a scoped filter.
func DeleteStatementRecordsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, filter records.Filter) (int, error) {
	if !filter.Scoped() {
		return 0, fmt.Errorf("DeleteStatementRecordsWithClient: %w", records.ErrUnscopedDelete)
	}

	where, params := buildRecordWhere(filter)
	sql := fmt.Sprintf(`
		DELETE FROM %s
		WHERE %s
	`, ds.Table(statementRecordsTable), where)

	n, err := runDML(ctx, client, "DeleteStatementRecordsWithClient", sql, params)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// UpsertStatementRecordWithClient merges a record on its natural key. An
// existing record keeps its id and creation time.
func UpsertStatementRecordWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, rec *domain.StatementRecord) (bool, error) {
	existing, err := FindStatementRecordByKeyWithClient(ctx, client, ds, rec.Key)
	if err != nil {
		return false, fmt.Errorf("UpsertStatementRecordWithClient: %w", err)
	}

	now := time.Now().UTC()
	if existing != nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	row, err := recordToRow(rec)
	if err != nil {
		return false, fmt.Errorf("UpsertStatementRecordWithClient: %w", err)
	}

	sql := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @bank_id AS bank_id, @month AS month, @year AS year, @kind AS kind) S
		ON T.bank_id = S.bank_id AND T.month = S.month AND T.year = S.year AND T.kind = S.kind
		WHEN MATCHED THEN UPDATE SET
			company_id = @company_id,
			cycle_id = @cycle_id,
			document_path = @document_path,
			document_size = @document_size,
			document_password = @document_password,
			payload = @payload,
			validated = @validated,
			validated_ts = @validated_ts,
			validated_by = @validated_by,
			mismatches = @mismatches,
			workflow_status = @workflow_status,
			assignee = @assignee,
			updated_ts = @updated_ts
		WHEN NOT MATCHED THEN INSERT (%s)
		VALUES (
			@record_id, @bank_id, @month, @year, @kind,
			@company_id, @cycle_id,
			@document_path, @document_size, @document_password,
			@payload,
			@validated, @validated_ts, @validated_by, @mismatches,
			@workflow_status, @assignee,
			@created_ts, @updated_ts
		)
	`, ds.Table(statementRecordsTable), statementRecordColumns)

	if _, err := runDML(ctx, client, "UpsertStatementRecordWithClient", sql, rowParams(row)); err != nil {
		return false, err
	}
	return existing == nil, nil
}
