package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/domain"
)

// Field names used in mismatches.
const (
	FieldBankName      = "bank_name"
	FieldAccountNumber = "account_number"
	FieldCurrency      = "currency"
	FieldBalances      = "balances"
)

// Outcome replaces a record's validation status wholesale.
type Outcome struct {
	IsValidated bool              `json:"is_validated"`
	ValidatedAt time.Time         `json:"validated_at"`
	ValidatedBy string            `json:"validated_by"`
	Mismatches  []domain.Mismatch `json:"mismatches"`
}

// Status converts the outcome into the record's validation status.
func (o Outcome) Status() domain.ValidationStatus {
	at := o.ValidatedAt
	return domain.ValidationStatus{
		Validated:   o.IsValidated,
		ValidatedAt: &at,
		ValidatedBy: o.ValidatedBy,
		Mismatches:  o.Mismatches,
	}
}

// Validate compares an extraction payload with the bank's ground truth.
// Checks run in a fixed order and each failure appends one mismatch.
func Validate(p *domain.ExtractionPayload, bank *domain.BankAccount, validatorID string, now time.Time) Outcome {
	mismatches := []domain.Mismatch{}

	name := strings.TrimSpace(p.BankName)
	switch {
	case name == "":
		mismatches = append(mismatches, mismatch(FieldBankName, bank.BankName, name, "bank name missing from statement"))
	case !strings.Contains(strings.ToLower(name), strings.ToLower(strings.TrimSpace(bank.BankName))):
		mismatches = append(mismatches, mismatch(FieldBankName, bank.BankName, name,
			fmt.Sprintf("statement bank name %q does not contain %q", name, bank.BankName)))
	}

	account := strings.TrimSpace(p.AccountNumber)
	switch {
	case account == "":
		mismatches = append(mismatches, mismatch(FieldAccountNumber, bank.AccountNumber, account, "account number missing from statement"))
	case !strings.Contains(account, strings.TrimSpace(bank.AccountNumber)):
		mismatches = append(mismatches, mismatch(FieldAccountNumber, bank.AccountNumber, account,
			fmt.Sprintf("statement account number %q does not contain %q", account, bank.AccountNumber)))
	}

	got, want := NormalizeCurrency(p.Currency), NormalizeCurrency(bank.CurrencyCode)
	if got != want {
		mismatches = append(mismatches, mismatch(FieldCurrency, want, got,
			fmt.Sprintf("statement currency %q does not match %q", got, want)))
	}

	if len(p.Balances) == 0 {
		mismatches = append(mismatches, mismatch(FieldBalances, ">= 1", "0", "no monthly balances extracted"))
	}

	return Outcome{
		IsValidated: len(mismatches) == 0,
		ValidatedAt: now,
		ValidatedBy: validatorID,
		Mismatches:  mismatches,
	}
}

func mismatch(field, expected, actual, msg string) domain.Mismatch {
	return domain.Mismatch{Field: field, Expected: expected, Actual: actual, Message: msg}
}
