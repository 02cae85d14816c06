package records

import (
	"context"
	"errors"

	"github.com/dvloznov/statement-reconciler/internal/domain"
)

var (
	// ErrNotFound is returned by Get and Update when no record matches.
	ErrNotFound = errors.New("statement record not found")

	// ErrConflict is returned by Insert when a record with the same natural key exists.
	ErrConflict = errors.New("statement record already exists for key")

	// ErrUnscopedDelete is returned by Delete when the filter names neither an id nor a kind.
	ErrUnscopedDelete = errors.New("delete must be scoped by record id or statement kind")
)

// Filter selects statement records. Zero fields match everything.
type Filter struct {
	ID        string
	BankID    string
	CompanyID string
	Month     int
	Year      int
	Kind      domain.StatementKind
	CycleID   string

	// Validated, when set, matches on the validated flag.
	Validated *bool

	Limit int
}

// ForKey returns a filter matching exactly one natural key.
func ForKey(key domain.RecordKey) Filter {
	return Filter{BankID: key.BankID, Month: key.Month, Year: key.Year, Kind: key.Kind}
}

// Scoped reports whether the filter is narrow enough to delete with.
func (f Filter) Scoped() bool {
	return f.ID != "" || f.Kind.Valid()
}

// Matches reports whether rec satisfies the filter.
func (f Filter) Matches(rec *domain.StatementRecord) bool {
	switch {
	case f.ID != "" && rec.ID != f.ID:
		return false
	case f.BankID != "" && rec.Key.BankID != f.BankID:
		return false
	case f.CompanyID != "" && rec.CompanyID != f.CompanyID:
		return false
	case f.Month != 0 && rec.Key.Month != f.Month:
		return false
	case f.Year != 0 && rec.Key.Year != f.Year:
		return false
	case f.Kind != "" && rec.Key.Kind != f.Kind:
		return false
	case f.CycleID != "" && rec.CycleID != f.CycleID:
		return false
	case f.Validated != nil && rec.Validation.Validated != *f.Validated:
		return false
	}
	return true
}

// Store persists statement records.
type Store interface {
	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.StatementRecord, error)

	// FindByKey returns the record for a natural key, or nil when none exists.
	FindByKey(ctx context.Context, key domain.RecordKey) (*domain.StatementRecord, error)

	// List returns the records matching the filter.
	List(ctx context.Context, filter Filter) ([]*domain.StatementRecord, error)

	// Insert adds a new record. It returns ErrConflict when the key is taken.
	Insert(ctx context.Context, rec *domain.StatementRecord) error

	// Update replaces the record with the same id. It returns ErrNotFound when absent.
	Update(ctx context.Context, rec *domain.StatementRecord) error

	// Delete removes matching records and returns how many were removed.
	// Unscoped filters are rejected with ErrUnscopedDelete.
	Delete(ctx context.Context, filter Filter) (int, error)

	// Upsert inserts rec or replaces the record holding its natural key.
	// It reports whether a new record was created.
	Upsert(ctx context.Context, rec *domain.StatementRecord) (bool, error)
}
