// Package source defines the TabularSource capability and the adapters that
// turn CSV, XLSX and HTTP-hosted statements into model.Table values.
package source

import (
	"context"

	"github.com/sells-group/lineage-cli/internal/model"
)

// TabularSource supplies one rectangular field x period table. Each external
// system implements it independently; the core composes sources only through
// this interface.
type TabularSource interface {
	// FetchTabular reads the table. Implementations must honor ctx cancellation.
	FetchTabular(ctx context.Context) (*model.Table, error)

	// Identity names the source for provenance, e.g. "xlsx:/data/aapl.xlsx#Income".
	Identity() string
}

// StaticSource serves a table that is already in memory.
type StaticSource struct {
	Table model.Table
}

// FetchTabular returns a copy of the wrapped table header with shared rows.
func (s StaticSource) FetchTabular(ctx context.Context) (*model.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := s.Table
	return &t, nil
}

// Identity returns the table's source identity.
func (s StaticSource) Identity() string {
	return s.Table.SourceIdentity
}
