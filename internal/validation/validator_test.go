package validation

import (
	"testing"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kcb() *domain.BankAccount {
	return &domain.BankAccount{
		BankID:        "bank-1",
		BankName:      "KCB",
		AccountNumber: "1234567890",
		CurrencyCode:  "KES",
	}
}

func goodPayload() *domain.ExtractionPayload {
	return &domain.ExtractionPayload{
		BankName:      "KCB Bank Kenya",
		AccountNumber: "A/C 1234567890",
		Currency:      "Kshs",
		Balances:      []domain.MonthlyBalance{{Month: 1, Year: 2024}},
	}
}

func TestNormalizeCurrency(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"KSH", "KES"},
		{"Kshs", "KES"},
		{"K.SH", "KES"},
		{" kenya shilling ", "KES"},
		{"Kenya  Shillings", "KES"},
		{"euros", "EUR"},
		{"Euro", "EUR"},
		{"pounds", "GBP"},
		{"Sterling", "GBP"},
		{"US Dollar", "USD"},
		{"us$", "USD"},
		{"usd", "USD"},
		{"XAF", "XAF"},
		{" xaf ", "XAF"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCurrency(tt.in))
		})
	}
}

func TestValidate_AllChecksPass(t *testing.T) {
	now := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

	out := Validate(goodPayload(), kcb(), "auditor-7", now)

	assert.True(t, out.IsValidated)
	assert.Empty(t, out.Mismatches)
	assert.NotNil(t, out.Mismatches)
	assert.Equal(t, now, out.ValidatedAt)
	assert.Equal(t, "auditor-7", out.ValidatedBy)
}

func TestValidate_BankNameDirection(t *testing.T) {
	bank := kcb()
	p := goodPayload()

	out := Validate(p, bank, "v", time.Now())
	assert.True(t, out.IsValidated, "ground truth contained in extracted name")

	bank.BankName = "KCB Bank Kenya"
	p.BankName = "KCB"
	out = Validate(p, bank, "v", time.Now())
	require.False(t, out.IsValidated)
	require.Len(t, out.Mismatches, 1)
	assert.Equal(t, FieldBankName, out.Mismatches[0].Field)
}

func TestValidate_BankNameCaseInsensitive(t *testing.T) {
	p := goodPayload()
	p.BankName = "kcb bank kenya ltd"
	assert.True(t, Validate(p, kcb(), "v", time.Now()).IsValidated)
}

func TestValidate_MismatchOrder(t *testing.T) {
	p := &domain.ExtractionPayload{
		BankName:      "Equity",
		AccountNumber: "",
		Currency:      "USD",
	}

	out := Validate(p, kcb(), "v", time.Now())

	require.False(t, out.IsValidated)
	fields := make([]string, 0, len(out.Mismatches))
	for _, m := range out.Mismatches {
		fields = append(fields, m.Field)
	}
	assert.Equal(t, []string{FieldBankName, FieldAccountNumber, FieldCurrency, FieldBalances}, fields)
}

func TestValidate_AccountNumberSubstring(t *testing.T) {
	tests := []struct {
		name    string
		account string
		ok      bool
	}{
		{"exact", "1234567890", true},
		{"embedded", "Account: 1234567890 (current)", true},
		{"partial", "4567890", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := goodPayload()
			p.AccountNumber = tt.account
			out := Validate(p, kcb(), "v", time.Now())
			assert.Equal(t, tt.ok, out.IsValidated)
		})
	}
}

func TestOutcome_Status(t *testing.T) {
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	st := Validate(goodPayload(), kcb(), "v", now).Status()

	assert.True(t, st.Validated)
	require.NotNil(t, st.ValidatedAt)
	assert.Equal(t, now, *st.ValidatedAt)
	assert.Equal(t, "v", st.ValidatedBy)
}
