package pipeline

import (
	"testing"

	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectHints(t *testing.T) {
	tests := []struct {
		name         string
		fileName     string
		wantAccounts []string
		wantPassword string
		wantInName   string
	}{
		{"account and bank", "KCB_1234567890_March2024.pdf", []string{"1234567890"}, "", "kcb"},
		{"short numbers ignored", "barclays 2024-03.pdf", nil, "", "barclays"},
		{"pw prefix", "equity_0099887766_pw_abc123.pdf", []string{"0099887766"}, "abc123", "equity"},
		{"pwd dash", "statement pwd-Secret9.PDF", nil, "Secret9", "statement"},
		{"password equals", "scans/stanbic password=8812 jan.pdf", nil, "8812", "stanbic"},
		{"password never a number hint", "kcb_password=123456789.pdf", nil, "123456789", "kcb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := DetectHints(tt.fileName)
			assert.Equal(t, tt.wantAccounts, h.AccountNumbers)
			assert.Equal(t, tt.wantPassword, h.Password)
			assert.Contains(t, h.Name, tt.wantInName)
			if tt.wantPassword != "" {
				assert.NotContains(t, h.Name, tt.wantPassword)
			}
		})
	}
}

func TestMatchBank(t *testing.T) {
	accounts := []domain.BankAccount{
		{BankID: "barclays", BankName: "Barclays", AccountNumber: "55667788"},
		{BankID: "kcb", BankName: "KCB", AccountNumber: "1234-5678-90"},
	}

	t.Run("account number first", func(t *testing.T) {
		acct, conf := MatchBank(DetectHints("barclays_1234567890.pdf"), accounts)
		require.NotNil(t, acct)
		assert.Equal(t, "kcb", acct.BankID)
		assert.Equal(t, ConfidenceHigh, conf)
	})

	t.Run("bank name second", func(t *testing.T) {
		acct, conf := MatchBank(DetectHints("KCB March.pdf"), accounts)
		require.NotNil(t, acct)
		assert.Equal(t, "kcb", acct.BankID)
		assert.Equal(t, ConfidenceLow, conf)
	})

	t.Run("first match wins", func(t *testing.T) {
		acct, _ := MatchBank(DetectHints("barclays kcb.pdf"), accounts)
		require.NotNil(t, acct)
		assert.Equal(t, "barclays", acct.BankID)
	})

	t.Run("no match", func(t *testing.T) {
		acct, conf := MatchBank(DetectHints("scan0001.pdf"), accounts)
		assert.Nil(t, acct)
		assert.Equal(t, ConfidenceNone, conf)
	})
}
