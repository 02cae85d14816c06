package banks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/dvloznov/statement-reconciler/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrUnknownBank is returned when a bank id is not in the directory.
var ErrUnknownBank = errors.New("unknown bank")

// Directory provides bank account reference data.
type Directory interface {
	Get(ctx context.Context, bankID string) (*domain.BankAccount, error)
	List(ctx context.Context) ([]domain.BankAccount, error)
}

// Static is a fixed, in-memory Directory.
type Static struct {
	accounts map[string]domain.BankAccount
}

// NewStatic builds a directory from a list of accounts. Later duplicates win.
func NewStatic(accounts ...domain.BankAccount) *Static {
	s := &Static{accounts: make(map[string]domain.BankAccount, len(accounts))}
	for _, a := range accounts {
		s.accounts[a.BankID] = a
	}
	return s
}

// Get implements Directory.
func (s *Static) Get(ctx context.Context, bankID string) (*domain.BankAccount, error) {
	a, ok := s.accounts[bankID]
	if !ok {
		return nil, fmt.Errorf("Get %q: %w", bankID, ErrUnknownBank)
	}
	return &a, nil
}

// List implements Directory. Accounts are ordered by bank id.
func (s *Static) List(ctx context.Context) ([]domain.BankAccount, error) {
	out := make([]domain.BankAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankID < out[j].BankID })
	return out, nil
}

type directoryFile struct {
	Accounts []domain.BankAccount `yaml:"accounts"`
}

// LoadFile reads a YAML directory of the form:
//
//	accounts:
//	  - bank_id: kcb-main
//	    bank_name: KCB
//	    account_number: "1234567890"
//	    currency_code: KES
//	    company_id: acme
//	    password: secret
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadFile: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML directory document.
func Parse(data []byte) (*Static, error) {
	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("Parse: decoding yaml: %w", err)
	}
	for i, a := range f.Accounts {
		if a.BankID == "" {
			return nil, fmt.Errorf("Parse: account %d has no bank_id", i)
		}
	}
	return NewStatic(f.Accounts...), nil
}

var _ Directory = (*Static)(nil)
