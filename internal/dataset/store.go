// Package dataset owns ingestion, validation and versioned storage of
// field x period tables.
package dataset

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lineage-cli/internal/metrics"
	"github.com/sells-group/lineage-cli/internal/model"
	"github.com/sells-group/lineage-cli/internal/source"
)

// Repository persists published dataset versions. SaveDataset is called
// before a version becomes visible, so a failed save publishes nothing.
type Repository interface {
	SaveDataset(ctx context.Context, ds *model.Dataset) error
}

// Option configures a Store.
type Option func(*Store)

// WithRepository persists every version before it is published.
func WithRepository(r Repository) Option {
	return func(s *Store) { s.repo = r }
}

// WithClock overrides the ingestion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records ingest outcomes.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Store) { s.metrics = m }
}

// Store holds every version of every dataset. Published versions are
// immutable; the per-name version slice is the only shared mutable state.
type Store struct {
	mu       sync.RWMutex
	versions map[string][]*model.Dataset

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	repo    Repository
	now     func() time.Time
	metrics *metrics.Recorder
	log     *zap.Logger
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		versions: make(map[string][]*model.Dataset),
		locks:    make(map[string]chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
		log:      zap.L().With(zap.String("component", "dataset")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Restore loads previously persisted versions, e.g. from store.LoadDatasets.
// Versions are sorted per name; gaps are rejected.
func (s *Store) Restore(datasets []*model.Dataset) error {
	byName := make(map[string][]*model.Dataset)
	for _, d := range datasets {
		byName[d.Name] = append(byName[d.Name], d)
	}
	for name, list := range byName {
		sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
		for i, d := range list {
			if d.Version != i+1 {
				return eris.Errorf("dataset: restore %q: expected version %d, got %d", name, i+1, d.Version)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, list := range byName {
		s.versions[name] = list
	}
	return nil
}

// Ingest validates table and publishes it as the next version of name.
// Ingests of one name are serialized; different names proceed independently.
func (s *Store) Ingest(ctx context.Context, name string, table *model.Table) (*model.Dataset, error) {
	start := time.Now()
	ds, err := s.ingest(ctx, name, table)
	s.metrics.Ingest(outcome(err), time.Since(start))
	return ds, err
}

func (s *Store) ingest(ctx context.Context, name string, table *model.Table) (*model.Dataset, error) {
	if table == nil {
		return nil, &model.SchemaError{Dataset: name, Reason: "no table supplied"}
	}
	release, err := s.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	fields, periods, err := Validate(name, table)
	if err != nil {
		return nil, err
	}

	version := s.LatestVersion(name) + 1
	ds := model.NewDataset(name, version, table.SourceIdentity, fields, periods, table.Rows, s.now())

	if s.repo != nil {
		if err := s.repo.SaveDataset(ctx, ds); err != nil {
			return nil, eris.Wrapf(err, "dataset: persist %q version %d", name, version)
		}
	}

	s.mu.Lock()
	s.versions[name] = append(s.versions[name], ds)
	s.mu.Unlock()

	s.log.Info("dataset ingested",
		zap.String("dataset", name),
		zap.Int("version", version),
		zap.String("source", table.SourceIdentity),
		zap.Int("fields", len(fields)),
		zap.Int("periods", len(periods)),
	)
	return ds, nil
}

// IngestFrom fetches a table from src under timeout and ingests it. Fetch
// failures and timeouts surface as *model.SourceUnavailableError; nothing
// is published for them. A zero timeout means the caller's ctx alone bounds
// the fetch.
func (s *Store) IngestFrom(ctx context.Context, name string, src source.TabularSource, timeout time.Duration) (*model.Dataset, error) {
	fetchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	table, err := src.FetchTabular(fetchCtx)
	if err != nil {
		var se *model.SchemaError
		if errors.As(err, &se) {
			if se.Dataset == "" || se.Dataset == src.Identity() {
				se.Dataset = name
			}
			s.metrics.Ingest("schema_error", 0)
			return nil, se
		}
		s.log.Warn("source unavailable",
			zap.String("dataset", name),
			zap.String("source", src.Identity()),
			zap.Error(err),
		)
		s.metrics.Ingest("source_unavailable", 0)
		return nil, &model.SourceUnavailableError{Dataset: name, Source: src.Identity(), Err: err}
	}
	if table.SourceIdentity == "" {
		table.SourceIdentity = src.Identity()
	}
	return s.Ingest(ctx, name, table)
}

// Get returns version of name; version <= 0 means latest.
func (s *Store) Get(name string, version int) (*model.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.versions[name]
	if !ok || len(list) == 0 {
		return nil, &model.DatasetNotFoundError{Dataset: name, Version: version, Available: s.namesLocked()}
	}
	if version <= 0 {
		return list[len(list)-1], nil
	}
	if version > len(list) {
		return nil, &model.DatasetNotFoundError{Dataset: name, Version: version, Available: s.namesLocked()}
	}
	return list[version-1], nil
}

// Latest returns the newest version of name.
func (s *Store) Latest(name string) (*model.Dataset, error) {
	return s.Get(name, 0)
}

// LatestVersion returns the newest version number of name, or 0.
func (s *Store) LatestVersion(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions[name])
}

// VersionLookup adapts the store to model.VersionLookup for reference state.
func (s *Store) VersionLookup(name string) (int, bool) {
	v := s.LatestVersion(name)
	return v, v > 0
}

// Has reports whether any version of name exists.
func (s *Store) Has(name string) bool {
	return s.LatestVersion(name) > 0
}

// List returns every version of every dataset ordered by name then version.
func (s *Store) List() []model.DatasetInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DatasetInfo
	for _, name := range s.namesLocked() {
		for _, d := range s.versions[name] {
			out = append(out, d.Info())
		}
	}
	return out
}

func (s *Store) namesLocked() []string {
	names := make([]string, 0, len(s.versions))
	for n := range s.versions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// acquire takes the per-name ingest slot, giving up when ctx is done.
func (s *Store) acquire(ctx context.Context, name string) (func(), error) {
	s.locksMu.Lock()
	ch, ok := s.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[name] = ch
	}
	s.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var se *model.SchemaError
	if errors.As(err, &se) {
		return "schema_error"
	}
	return "error"
}
