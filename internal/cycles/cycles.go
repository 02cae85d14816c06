package cycles

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/google/uuid"
)

// Service resolves the grouping identifier for a processing period,
// creating one the first time a period is seen.
type Service interface {
	Resolve(ctx context.Context, year, month int, kind domain.StatementKind) (string, error)
}

// Key is the natural key of a cycle.
type Key struct {
	Year  int
	Month int
	Kind  domain.StatementKind
}

// Label is the human-readable name of a cycle, e.g. "2024-03 range".
func (k Key) Label() string {
	return fmt.Sprintf("%04d-%02d %s", k.Year, k.Month, k.Kind)
}

// Memory is an in-process Service.
type Memory struct {
	mu  sync.Mutex
	ids map[Key]string
}

// NewMemory creates an empty in-process cycle service.
func NewMemory() *Memory {
	return &Memory{ids: make(map[Key]string)}
}

// Resolve implements Service.
func (m *Memory) Resolve(ctx context.Context, year, month int, kind domain.StatementKind) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := Key{Year: year, Month: month, Kind: kind}
	if id, ok := m.ids[k]; ok {
		return id, nil
	}
	id := uuid.NewString()
	m.ids[k] = id
	return id, nil
}

var _ Service = (*Memory)(nil)
