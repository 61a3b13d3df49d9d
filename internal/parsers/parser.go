package parsers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finance-import/internal/domain"
)

// Record is one raw record extracted from a source file together with its
// normalized form. Normalized is nil when normalization failed, in which case
// Status is error and Message explains why.
type Record struct {
	RowNumber  int
	Payload    any
	Normalized *domain.Transaction
	Status     domain.RowStatus
	Message    string
}

// Parser turns raw file bytes into records. Structural problems are returned
// as errors; row-level problems are reported on the affected Record.
type Parser interface {
	// Name returns a human-readable parser name.
	Name() string

	// Parse extracts every record from data. Row numbers start at 1 and are
	// contiguous across the whole file.
	Parse(ctx context.Context, data []byte) ([]Record, error)
}

// Registry binds source types to parsers. Source types without a parser are
// deferred to the column-mapping step.
type Registry struct {
	mu      sync.RWMutex
	parsers map[domain.SourceType]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[domain.SourceType]Parser)}
}

// Register binds p to t, replacing any previous binding.
func (r *Registry) Register(t domain.SourceType, p Parser) error {
	if _, ok := t.Info(); !ok {
		return fmt.Errorf("register parser %s: %w: %q", p.Name(), domain.ErrUnsupportedSourceType, t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[t] = p
	return nil
}

// Lookup returns the parser for t. ok is false for deferred source types.
func (r *Registry) Lookup(t domain.SourceType) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[t]
	return p, ok
}

// ListParsers returns "source_type: parser name" entries sorted by source type.
func (r *Registry) ListParsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.parsers))
	for t, p := range r.parsers {
		names = append(names, fmt.Sprintf("%s: %s", t, p.Name()))
	}
	sort.Strings(names)
	return names
}
