package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lineage-cli/internal/benchmark"
	"github.com/sells-group/lineage-cli/internal/binder"
	"github.com/sells-group/lineage-cli/internal/formula"
	"github.com/sells-group/lineage-cli/internal/model"
)

// Binding names one formula input: a datapoint (optionally pinned to a
// dataset version) or an existing node.
type Binding struct {
	Name      string              `json:"name"`
	Datapoint *model.DatapointKey `json:"datapoint,omitempty"`
	Version   int                 `json:"version,omitempty"`
	NodeID    string              `json:"node_id,omitempty"`
}

// ParseBinding parses "name=dataset.field.period", "name=dataset.field.period@3"
// or "name=node:<id>".
func ParseBinding(s string) (Binding, error) {
	name, ref, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	ref = strings.TrimSpace(ref)
	if !ok || name == "" || ref == "" {
		return Binding{}, eris.Errorf("engine: binding %q must be name=target", s)
	}
	if id, isNode := strings.CutPrefix(ref, "node:"); isNode {
		return Binding{Name: name, NodeID: strings.TrimSpace(id)}, nil
	}

	b := Binding{Name: name}
	if at := strings.LastIndex(ref, "@"); at > 0 {
		v, err := strconv.Atoi(ref[at+1:])
		if err != nil || v < 1 {
			return Binding{}, eris.Errorf("engine: binding %q has a bad version", s)
		}
		b.Version = v
		ref = ref[:at]
	}
	t, err := model.ParseTarget(ref)
	if err != nil {
		return Binding{}, err
	}
	if t.Kind != model.TargetDatapoint {
		return Binding{}, eris.Errorf("engine: binding %q must address dataset.field.period", s)
	}
	key := t.Datapoint
	b.Datapoint = &key
	return b, nil
}

// Define resolves bindings and adds a derived node for expr. id names the
// node; empty means content addressed.
func (e *Engine) Define(ctx context.Context, expr string, bindings []Binding, id string) (*model.ProvenanceNode, error) {
	inputs := make([]formula.Input, 0, len(bindings))
	for _, b := range bindings {
		switch {
		case b.NodeID != "":
			inputs = append(inputs, formula.NodeInput(b.Name, b.NodeID))
		case b.Datapoint != nil:
			dp, err := e.Lookup(b.Datapoint.Dataset, b.Datapoint.Field, b.Datapoint.Period, b.Version)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, formula.DatapointInput(b.Name, dp))
		default:
			return nil, eris.Errorf("engine: binding %q has no target", b.Name)
		}
	}

	var opts []formula.DefineOption
	if id != "" {
		opts = append(opts, formula.WithID(id))
	}
	return e.graph.Define(ctx, expr, inputs, opts...)
}

// Evaluate computes the node and every uncomputed input.
func (e *Engine) Evaluate(ctx context.Context, id string) (model.Value, error) {
	return e.graph.Evaluate(ctx, id)
}

// Node returns one provenance node.
func (e *Engine) Node(id string) (*model.ProvenanceNode, error) {
	return e.graph.Node(id)
}

// Lineage returns the node and everything it depends on, inputs first.
func (e *Engine) Lineage(id string) ([]model.ProvenanceNode, error) {
	return e.graph.Lineage(id)
}

// RegisterBenchmark stores def so references can target its cells.
func (e *Engine) RegisterBenchmark(def benchmark.Definition) error {
	return e.bench.Register(def)
}

// Benchmarks lists registered definitions.
func (e *Engine) Benchmarks() []benchmark.Definition {
	return e.bench.Definitions()
}

// RunBenchmark registers def and runs it at the latest dataset versions.
// The result accompanies an InsufficientDataError.
func (e *Engine) RunBenchmark(ctx context.Context, def benchmark.Definition) (*model.BenchmarkResult, error) {
	if err := e.bench.Register(def); err != nil {
		return nil, err
	}
	return e.bench.RunDefinition(ctx, def, e.index)
}

// RunRegistered re-runs the registered benchmark called name.
func (e *Engine) RunRegistered(ctx context.Context, name string) (*model.BenchmarkResult, error) {
	return e.bench.RunRegistered(ctx, name, e.index)
}

// Movements returns the period-over-period change series of one field.
func (e *Engine) Movements(ctx context.Context, datasetName, field string) (*benchmark.MovementSeries, error) {
	return e.bench.Movements(ctx, e.index, datasetName, field)
}

// Bind creates a reference owned by documentID.
func (e *Engine) Bind(ctx context.Context, documentID string, target model.Target) (model.Reference, error) {
	return e.binder.Bind(ctx, documentID, target)
}

// Attach binds every token in text not yet bound in documentID.
func (e *Engine) Attach(ctx context.Context, documentID, text string) ([]model.Reference, error) {
	return e.binder.Attach(ctx, documentID, text)
}

// Refresh re-resolves one reference at the latest dataset versions.
func (e *Engine) Refresh(ctx context.Context, tokenID string) (model.Reference, error) {
	return e.binder.Refresh(ctx, tokenID)
}

// RefreshAll refreshes every reference of documentID.
func (e *Engine) RefreshAll(ctx context.Context, documentID string) ([]binder.Outcome, error) {
	return e.binder.RefreshAll(ctx, documentID)
}

// Unbind removes a reference.
func (e *Engine) Unbind(ctx context.Context, tokenID string) error {
	return e.binder.Unbind(ctx, tokenID)
}

// Render substitutes resolved references into text.
func (e *Engine) Render(documentID, text string) string {
	return e.binder.Render(documentID, text)
}

// RenderDocument attaches text's tokens to documentID, refreshes them all
// and renders the result.
func (e *Engine) RenderDocument(ctx context.Context, documentID, text string) (string, []binder.Outcome, error) {
	if _, err := e.binder.Attach(ctx, documentID, text); err != nil {
		return "", nil, err
	}
	outcomes, err := e.binder.RefreshAll(ctx, documentID)
	if err != nil {
		return "", outcomes, err
	}
	return e.binder.Render(documentID, text), outcomes, nil
}

// ReferenceView pairs a reference with its derived state.
type ReferenceView struct {
	model.Reference
	State model.ReferenceState `json:"state"`
}

// Reference returns one reference and its current state.
func (e *Engine) Reference(tokenID string) (ReferenceView, error) {
	ref, err := e.binder.Get(tokenID)
	if err != nil {
		return ReferenceView{}, err
	}
	return ReferenceView{Reference: ref, State: e.binder.State(ref)}, nil
}

// References lists the references of documentID with their states.
func (e *Engine) References(documentID string) []ReferenceView {
	refs := e.binder.References(documentID)
	out := make([]ReferenceView, len(refs))
	for i, r := range refs {
		out[i] = ReferenceView{Reference: r, State: e.binder.State(r)}
	}
	return out
}

// Documents lists ids of documents that own references.
func (e *Engine) Documents() []string {
	return e.binder.Documents()
}
