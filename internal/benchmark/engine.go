// Package benchmark runs one formula across many entities, ranks the
// results and keeps every cell traceable through the provenance graph.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lineage-cli/internal/formula"
	"github.com/sells-group/lineage-cli/internal/metrics"
	"github.com/sells-group/lineage-cli/internal/model"
)

// Engine runs benchmarks over a shared provenance graph and keeps the
// registry of named metric definitions.
type Engine struct {
	graph   *formula.Graph
	metrics *metrics.Recorder
	now     func() time.Time
	log     *zap.Logger

	mu   sync.RWMutex
	defs map[string]Definition
}

// New creates an Engine on graph.
func New(graph *formula.Graph, m *metrics.Recorder) *Engine {
	return &Engine{
		graph:   graph,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		log:     zap.L().With(zap.String("component", "benchmark")),
		defs:    make(map[string]Definition),
	}
}

type runOptions struct {
	direction model.Direction
	failures  map[string]error
}

// RunOption adjusts a single Run.
type RunOption func(*runOptions)

// WithDirection sets the ranking direction. The default is Descending.
func WithDirection(d model.Direction) RunOption {
	return func(o *runOptions) {
		if d != "" {
			o.direction = d
		}
	}
}

// WithFailures records entities whose inputs could not be resolved. Their
// cells are Missing and carry the error text.
func WithFailures(failures map[string]error) RunOption {
	return func(o *runOptions) { o.failures = failures }
}

// Run defines one node per entity over that entity's inputs, evaluates it
// and ranks the results. Missing cells rank last in either direction, ties
// break by entity name. It fails with *model.InsufficientDataError only
// when every entity resolved to Missing; the all-Missing result is
// returned alongside that error.
func (e *Engine) Run(ctx context.Context, metric, expr string, entities []string, inputs map[string][]formula.Input, opts ...RunOption) (*model.BenchmarkResult, error) {
	o := runOptions{direction: model.Descending}
	for _, fn := range opts {
		fn(&o)
	}
	if o.direction != model.Descending && o.direction != model.Ascending {
		return nil, eris.Errorf("benchmark: unknown direction %q", o.direction)
	}

	parsed, err := formula.Parse(expr)
	if err != nil {
		e.metrics.Benchmark("error")
		return nil, err
	}

	seen := make(map[string]bool, len(entities))
	for _, ent := range entities {
		if seen[ent] {
			return nil, eris.Errorf("benchmark: entity %q listed twice", ent)
		}
		seen[ent] = true
	}

	res := &model.BenchmarkResult{
		MetricName:     metric,
		Formula:        parsed.String(),
		Direction:      o.direction,
		Entities:       append([]string(nil), entities...),
		PerEntityValue: make(map[string]model.BenchmarkCell, len(entities)),
		Versions:       model.DatasetVersions{},
		ComputedAt:     e.now(),
	}

	usable := 0
	for _, ent := range entities {
		cell := e.cell(ctx, parsed.String(), ent, inputs[ent], o.failures[ent])
		for name, v := range cell.Versions {
			res.Versions.Merge(name, v)
		}
		if !cell.Value.IsMissing() {
			usable++
		}
		res.PerEntityValue[ent] = cell
	}

	res.Ranking = rank(entities, res.PerEntityValue, o.direction)
	for i, ent := range res.Ranking {
		c := res.PerEntityValue[ent]
		c.Rank = i + 1
		res.PerEntityValue[ent] = c
	}

	e.log.Info("benchmark run",
		zap.String("metric", metric),
		zap.Int("entities", len(entities)),
		zap.Int("usable", usable),
	)
	if usable == 0 {
		e.metrics.Benchmark("insufficient_data")
		return res, &model.InsufficientDataError{Metric: metric, Entities: res.Entities}
	}
	e.metrics.Benchmark("ok")
	return res, nil
}

func (e *Engine) cell(ctx context.Context, expr, entity string, inputs []formula.Input, failure error) model.BenchmarkCell {
	cell := model.BenchmarkCell{Entity: entity, Value: model.Missing()}
	if failure != nil {
		cell.Error = failure.Error()
		return cell
	}
	if len(inputs) == 0 {
		cell.Error = "no inputs bound"
		return cell
	}

	node, err := e.graph.Define(ctx, expr, inputs)
	if err != nil {
		cell.Error = err.Error()
		return cell
	}
	cell.NodeID = node.ID

	v, err := e.graph.Evaluate(ctx, node.ID)
	if err != nil {
		cell.Error = err.Error()
	} else {
		cell.Value = v
	}

	lineage, err := e.graph.Lineage(node.ID)
	if err == nil {
		cell.Versions = model.DatasetVersions{}
		for _, n := range lineage {
			if n.Source == nil {
				continue
			}
			cell.Versions.Merge(n.Source.DatasetName, n.Source.DatasetVersion)
			if cell.Dataset == "" {
				cell.Dataset = n.Source.DatasetName
			}
		}
	}
	return cell
}

// rank orders entities: numeric values by direction, then text, then
// Missing. Ties break by entity name ascending.
func rank(entities []string, cells map[string]model.BenchmarkCell, dir model.Direction) []string {
	out := append([]string(nil), entities...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := cells[out[i]].Value, cells[out[j]].Value
		if ta, tb := rankTier(a), rankTier(b); ta != tb {
			return ta < tb
		}
		if a.IsNumeric() {
			if c := a.Amount.Cmp(b.Amount); c != 0 {
				if dir == model.Ascending {
					return c < 0
				}
				return c > 0
			}
		}
		return strings.Compare(out[i], out[j]) < 0
	})
	return out
}

func rankTier(v model.Value) int {
	switch {
	case v.IsNumeric():
		return 0
	case v.IsMissing():
		return 2
	}
	return 1
}

// Register stores def under its name so references can re-run it later.
func (e *Engine) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defs[def.Name] = def
	return nil
}

// Definition returns the registered definition called name.
func (e *Engine) Definition(name string) (Definition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.defs[name]
	return d, ok
}

// Definitions lists registered definitions by name.
func (e *Engine) Definitions() []Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Definition, 0, len(e.defs))
	for _, d := range e.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NotRegisteredError reports a benchmark name with no definition.
type NotRegisteredError struct {
	Name string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("benchmark %q is not registered", e.Name)
}

// RunRegistered resolves and runs the definition registered as name
// against the latest dataset versions.
func (e *Engine) RunRegistered(ctx context.Context, name string, cat Catalog) (*model.BenchmarkResult, error) {
	def, ok := e.Definition(name)
	if !ok {
		return nil, &NotRegisteredError{Name: name}
	}
	return e.RunDefinition(ctx, def, cat)
}

// RunDefinition binds def's inputs through cat and runs it. Entities whose
// inputs fail to resolve become Missing cells carrying the lookup error.
func (e *Engine) RunDefinition(ctx context.Context, def Definition, cat Catalog) (*model.BenchmarkResult, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	inputs, failures := def.Bind(cat)
	for ent, err := range failures {
		e.log.Warn("benchmark input unresolved",
			zap.String("metric", def.Name),
			zap.String("entity", ent),
			zap.Error(err),
		)
	}
	return e.Run(ctx, def.Name, def.Formula, def.EntityNames(), inputs,
		WithDirection(def.Direction),
		WithFailures(failures),
	)
}

// IsInsufficient reports whether err is an InsufficientDataError.
func IsInsufficient(err error) bool {
	var ie *model.InsufficientDataError
	return errors.As(err, &ie)
}
