// Package store persists datasets, provenance nodes and references so the
// engine can be rebuilt on restart.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lineage-cli/internal/model"
)

// Repository is the persisted state of the engine. Datasets and nodes are
// append-only; references are upserted and deleted on unbind.
type Repository interface {
	// Datasets
	SaveDataset(ctx context.Context, ds *model.Dataset) error
	LoadDatasets(ctx context.Context) ([]*model.Dataset, error)

	// Provenance log, returned in append order.
	AppendNode(ctx context.Context, n *model.ProvenanceNode) error
	LoadNodes(ctx context.Context) ([]*model.ProvenanceNode, error)

	// References
	SaveReference(ctx context.Context, ref model.Reference) error
	DeleteReference(ctx context.Context, tokenID string) error
	LoadReferences(ctx context.Context) ([]model.Reference, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to driver at dsn and runs migrations.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Repository, error) {
	var (
		r   Repository
		err error
	)
	switch strings.ToLower(driver) {
	case DriverMemory:
		r = NewMemory()
	case DriverSQLite, "":
		r, err = NewSQLite(dsn)
	case DriverPostgres:
		r, err = NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := r.Migrate(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}
