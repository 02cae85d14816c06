package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/statement-reconciler/internal/config"
	"github.com/dvloznov/statement-reconciler/internal/gcs"
	"github.com/dvloznov/statement-reconciler/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const banksYAML = `accounts:
  - bank_id: kcb-main
    bank_name: KCB
    account_number: "1234567890"
    currency_code: KES
    company_id: acme
`

type stubExtractor struct{}

func (stubExtractor) Extract(ctx context.Context, doc pipeline.Document, schema pipeline.Schema) pipeline.Result {
	return pipeline.Failure{Reason: "stub", Retryable: false}
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "banks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(banksYAML), 0o644))
	return &config.Config{
		RecordStore:     config.StoreMemory,
		CycleBackend:    config.CyclesMemory,
		BanksFile:       path,
		ExtractAttempts: 2,
		GeminiModel:     "test-model",
	}
}

func TestNew_Memory(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, isMemory := a.Storage.(*gcs.Memory)
	assert.True(t, isMemory)

	acct, err := a.Banks.Get(ctx, "kcb-main")
	require.NoError(t, err)
	assert.Equal(t, "KCB", acct.BankName)

	p := a.PipelineWith(stubExtractor{})
	assert.Equal(t, 2, p.MaxAttempts())
	assert.NoError(t, a.Close())
}

func TestNew_MissingBanksFile(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.BanksFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
