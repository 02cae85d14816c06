package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/banks"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"google.golang.org/api/iterator"
)

type BankAccountRow struct {
	BankID        string `bigquery:"bank_id"`        // REQUIRED
	BankName      string `bigquery:"bank_name"`      // REQUIRED
	AccountNumber string `bigquery:"account_number"` // REQUIRED
	CurrencyCode  string `bigquery:"currency_code"`  // REQUIRED

	CompanyID        bigquery.NullString `bigquery:"company_id"`        // NULLABLE
	DocumentPassword bigquery.NullString `bigquery:"document_password"` // NULLABLE
}

func (r *BankAccountRow) toDomain() domain.BankAccount {
	return domain.BankAccount{
		BankID:        r.BankID,
		BankName:      r.BankName,
		AccountNumber: r.AccountNumber,
		CurrencyCode:  r.CurrencyCode,
		CompanyID:     r.CompanyID.StringVal,
		Password:      r.DocumentPassword.StringVal,
	}
}

// ListBankAccountsWithClient returns every bank account ordered by bank id.
func ListBankAccountsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset) ([]domain.BankAccount, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT bank_id, bank_name, account_number, currency_code, company_id, document_password
		FROM %s
		ORDER BY bank_id
	`, ds.Table(bankAccountsTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListBankAccountsWithClient: reading query: %w", err)
	}

	var accounts []domain.BankAccount
	for {
		var row BankAccountRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListBankAccountsWithClient: iterating: %w", err)
		}
		accounts = append(accounts, row.toDomain())
	}
	return accounts, nil
}

// GetBankAccountWithClient returns one bank account or banks.ErrUnknownBank.
func GetBankAccountWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, bankID string) (*domain.BankAccount, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT bank_id, bank_name, account_number, currency_code, company_id, document_password
		FROM %s
		WHERE bank_id = @bank_id
		LIMIT 1
	`, ds.Table(bankAccountsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "bank_id", Value: bankID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetBankAccountWithClient: reading query: %w", err)
	}

	var row BankAccountRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("GetBankAccountWithClient %q: %w", bankID, banks.ErrUnknownBank)
	}
	if err != nil {
		return nil, fmt.Errorf("GetBankAccountWithClient: iterating: %w", err)
	}

	acct := row.toDomain()
	return &acct, nil
}
