// Package engine wires every core component from one Config and exposes the
// closed set of operations callers use: ingest, lookup, define, evaluate,
// run benchmark, bind and refresh.
package engine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lineage-cli/internal/benchmark"
	"github.com/sells-group/lineage-cli/internal/binder"
	"github.com/sells-group/lineage-cli/internal/config"
	"github.com/sells-group/lineage-cli/internal/dataset"
	"github.com/sells-group/lineage-cli/internal/formula"
	"github.com/sells-group/lineage-cli/internal/index"
	"github.com/sells-group/lineage-cli/internal/metrics"
	"github.com/sells-group/lineage-cli/internal/model"
	"github.com/sells-group/lineage-cli/internal/source"
	"github.com/sells-group/lineage-cli/internal/store"
)

// Engine is the facade over the dataset store, index, provenance graph,
// benchmark engine and document binder.
type Engine struct {
	cfg      *config.Config
	repo     store.Repository
	registry *prometheus.Registry
	metrics  *metrics.Recorder

	datasets *dataset.Store
	index    *index.Index
	graph    *formula.Graph
	bench    *benchmark.Engine
	binder   *binder.Binder
	log      *zap.Logger
}

type options struct {
	repo     store.Repository
	registry *prometheus.Registry
	now      func() time.Time
}

// Option configures New.
type Option func(*options)

// WithRepository uses r instead of opening cfg.Store.
func WithRepository(r store.Repository) Option {
	return func(o *options) { o.repo = r }
}

// WithRegistry registers metrics with reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithClock overrides every component's timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds an Engine and restores persisted datasets, provenance nodes
// and references.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	repo := o.repo
	if repo == nil {
		var err error
		repo, err = store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, eris.Wrap(err, "engine: open store")
		}
	}

	m := metrics.New(o.registry)

	dsOpts := []dataset.Option{dataset.WithRepository(repo), dataset.WithMetrics(m)}
	graphOpts := []formula.Option{
		formula.WithPrecision(cfg.Formula.DivisionPrecision),
		formula.WithLog(repo),
		formula.WithMetrics(m),
	}
	binderOpts := []binder.Option{
		binder.WithRepository(repo),
		binder.WithMarker(cfg.Binder.UnresolvedMarker),
		binder.WithMaxConcurrency(cfg.Binder.MaxConcurrency),
		binder.WithMetrics(m),
	}
	if o.now != nil {
		dsOpts = append(dsOpts, dataset.WithClock(o.now))
		graphOpts = append(graphOpts, formula.WithClock(o.now))
		binderOpts = append(binderOpts, binder.WithClock(o.now))
	}

	e := &Engine{
		cfg:      cfg,
		repo:     repo,
		registry: o.registry,
		metrics:  m,
		datasets: dataset.New(dsOpts...),
		graph:    formula.NewGraph(graphOpts...),
		log:      zap.L().With(zap.String("component", "engine")),
	}
	e.index = index.New(e.datasets, index.FuzzyPolicy{
		Enabled:  cfg.Index.Fuzzy.Enabled,
		MinScore: cfg.Index.Fuzzy.MinScore,
		Margin:   cfg.Index.Fuzzy.Margin,
	}, m)
	e.bench = benchmark.New(e.graph, m)
	e.binder = binder.New(e.datasets, e.index, e.graph, e.bench, binderOpts...)

	if err := e.restore(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) restore(ctx context.Context) error {
	datasets, err := e.repo.LoadDatasets(ctx)
	if err != nil {
		return eris.Wrap(err, "engine: load datasets")
	}
	if err := e.datasets.Restore(datasets); err != nil {
		return err
	}

	nodes, err := e.repo.LoadNodes(ctx)
	if err != nil {
		return eris.Wrap(err, "engine: load nodes")
	}
	if err := e.graph.Restore(nodes); err != nil {
		return eris.Wrap(err, "engine: restore graph")
	}

	refs, err := e.repo.LoadReferences(ctx)
	if err != nil {
		return eris.Wrap(err, "engine: load references")
	}
	e.binder.Restore(refs)

	e.log.Info("state restored",
		zap.Int("datasets", len(datasets)),
		zap.Int("nodes", len(nodes)),
		zap.Int("references", len(refs)),
	)
	return nil
}

// Close releases the repository.
func (e *Engine) Close() error {
	return e.repo.Close()
}

// Registry returns the prometheus registry the engine's collectors use.
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Ingest publishes table as the next version of name.
func (e *Engine) Ingest(ctx context.Context, name string, table *model.Table) (*model.Dataset, error) {
	return e.datasets.Ingest(ctx, name, table)
}

// IngestFrom fetches src with the configured source timeout and publishes
// the result as the next version of name.
func (e *Engine) IngestFrom(ctx context.Context, name string, src source.TabularSource) (*model.Dataset, error) {
	return e.datasets.IngestFrom(ctx, name, src, e.cfg.Source.Timeout())
}

// Datasets lists every stored version.
func (e *Engine) Datasets() []model.DatasetInfo {
	return e.datasets.List()
}

// Dataset returns version of name; 0 means latest.
func (e *Engine) Dataset(name string, version int) (*model.Dataset, error) {
	return e.datasets.Get(name, version)
}

// Lookup resolves one datapoint; version 0 means latest.
func (e *Engine) Lookup(datasetName, field, period string, version int) (model.Datapoint, error) {
	return e.index.Lookup(datasetName, field, period, index.WithVersion(version))
}
