// Package formula builds and evaluates the provenance DAG: raw nodes taken
// from datapoints and derived nodes computed by formulas over other nodes.
package formula

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lineage-cli/internal/metrics"
	"github.com/sells-group/lineage-cli/internal/model"
)

// Log receives each node once, after it has a value. It is append-only.
type Log interface {
	AppendNode(ctx context.Context, n *model.ProvenanceNode) error
}

// Input binds a formula name to either a datapoint or an existing node.
type Input struct {
	Name      string
	Datapoint *model.Datapoint
	NodeID    string
}

// DatapointInput binds name to a raw node for dp.
func DatapointInput(name string, dp model.Datapoint) Input {
	return Input{Name: name, Datapoint: &dp}
}

// NodeInput binds name to an existing node.
func NodeInput(name, id string) Input {
	return Input{Name: name, NodeID: id}
}

// Option configures a Graph.
type Option func(*Graph)

// WithPrecision sets the decimal places kept by division.
func WithPrecision(p int32) Option {
	return func(g *Graph) {
		if p > 0 {
			g.precision = p
		}
	}
}

// WithLog appends evaluated nodes to l.
func WithLog(l Log) Option {
	return func(g *Graph) { g.plog = l }
}

// WithClock overrides the computed_at timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

// WithMetrics counts nodes as they are added.
func WithMetrics(m *metrics.Recorder) Option {
	return func(g *Graph) { g.metrics = m }
}

// Graph is the provenance DAG. Ids are content addressed unless the caller
// names a node, so defining the same formula over the same inputs twice
// yields the same node.
type Graph struct {
	mu     sync.Mutex
	nodes  map[string]*model.ProvenanceNode
	exprs  map[string]*Expr
	logged map[string]bool

	precision int32
	plog      Log
	now       func() time.Time
	metrics   *metrics.Recorder
	log       *zap.Logger
}

// NewGraph creates an empty graph.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		nodes:     make(map[string]*model.ProvenanceNode),
		exprs:     make(map[string]*Expr),
		logged:    make(map[string]bool),
		precision: DefaultDivisionPrecision,
		now:       func() time.Time { return time.Now().UTC() },
		log:       zap.L().With(zap.String("component", "formula")),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Restore loads nodes read back from the provenance log. Restored nodes are
// not re-appended. Nodes must be ordered so inputs precede their dependents.
func (g *Graph) Restore(nodes []*model.ProvenanceNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range nodes {
		for _, in := range n.Inputs {
			if _, ok := g.nodes[in]; !ok {
				return &NodeNotFoundError{NodeID: in}
			}
		}
		if n.Kind == model.NodeDerived {
			e, err := Parse(n.Formula)
			if err != nil {
				return eris.Wrapf(err, "formula: restore node %s", n.ID)
			}
			g.exprs[n.ID] = e
		}
		cp := *n
		g.nodes[n.ID] = &cp
		g.logged[n.ID] = true
	}
	return nil
}

// RawID returns the id of the raw node for dp.
func RawID(dp model.Datapoint) string {
	return hashID("raw",
		dp.DatasetName,
		strconv.Itoa(dp.DatasetVersion),
		model.NormalizeField(dp.Field),
		model.NormalizePeriod(dp.Period),
	)
}

func derivedID(formula string, names, inputs []string) string {
	parts := []string{formula}
	for i := range inputs {
		parts = append(parts, names[i]+"="+inputs[i])
	}
	return hashID("drv", parts...)
}

func hashID(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return prefix + "_" + hex.EncodeToString(h.Sum(nil))[:20]
}

// Raw returns the raw node for dp, adding it on first use. A datapoint whose
// key and dataset version already hold a different value yields
// *NodeConflictError.
func (g *Graph) Raw(ctx context.Context, dp model.Datapoint) (*model.ProvenanceNode, error) {
	g.mu.Lock()
	if err := g.checkRawLocked(dp); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	n, added := g.rawLocked(dp)
	out := *n
	g.mu.Unlock()

	if added {
		if err := g.appendLog(ctx, &out); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// checkRawLocked rejects dp when its raw node exists with another value.
// Dataset versions are immutable, so one key and version has one value.
func (g *Graph) checkRawLocked(dp model.Datapoint) error {
	id := RawID(dp)
	if n, ok := g.nodes[id]; ok && !n.Value.Equal(dp.Value) {
		return &NodeConflictError{NodeID: id}
	}
	return nil
}

func (g *Graph) rawLocked(dp model.Datapoint) (*model.ProvenanceNode, bool) {
	id := RawID(dp)
	if n, ok := g.nodes[id]; ok {
		return n, false
	}
	src := dp
	n := &model.ProvenanceNode{
		ID:         id,
		Kind:       model.NodeRaw,
		Source:     &src,
		Value:      dp.Value,
		Evaluated:  true,
		ComputedAt: g.now(),
	}
	g.nodes[id] = n
	g.metrics.Node(string(model.NodeRaw))
	return n, true
}

type defineOptions struct {
	id string
}

// DefineOption adjusts a single Define.
type DefineOption func(*defineOptions)

// WithID names the node instead of deriving its id from its content.
func WithID(id string) DefineOption {
	return func(o *defineOptions) { o.id = id }
}

// Define adds a derived node computing expr over inputs. Every name the
// formula uses must be bound by exactly one input. The graph is unchanged
// when Define fails: a cycle yields *model.CycleError, an unknown input
// node *NodeNotFoundError, a caller-named id already bound to a different
// definition or a datapoint contradicting its existing raw node
// *NodeConflictError.
func (g *Graph) Define(ctx context.Context, expr string, inputs []Input, opts ...DefineOption) (*model.ProvenanceNode, error) {
	var o defineOptions
	for _, fn := range opts {
		fn(&o)
	}

	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if err := checkBindings(e, inputs); err != nil {
		return nil, err
	}

	g.mu.Lock()

	names := make([]string, len(inputs))
	ids := make([]string, len(inputs))
	for i, in := range inputs {
		names[i] = in.Name
		if in.Datapoint != nil {
			ids[i] = RawID(*in.Datapoint)
		} else {
			ids[i] = in.NodeID
		}
	}

	id := o.id
	if id == "" {
		id = derivedID(e.String(), names, ids)
	}

	if path := g.pathFrom(ids, id); path != nil {
		g.mu.Unlock()
		return nil, &model.CycleError{NodeID: id, Path: path}
	}
	for i, in := range inputs {
		if in.Datapoint != nil {
			if err := g.checkRawLocked(*in.Datapoint); err != nil {
				g.mu.Unlock()
				return nil, err
			}
			continue
		}
		if _, ok := g.nodes[ids[i]]; !ok {
			g.mu.Unlock()
			return nil, &NodeNotFoundError{NodeID: ids[i]}
		}
	}
	if existing, ok := g.nodes[id]; ok {
		out := *existing
		g.mu.Unlock()
		if !sameDefinition(existing, e.String(), names, ids) {
			return nil, &NodeConflictError{NodeID: id}
		}
		return &out, nil
	}

	var added []model.ProvenanceNode
	for _, in := range inputs {
		if in.Datapoint != nil {
			if n, isNew := g.rawLocked(*in.Datapoint); isNew {
				added = append(added, *n)
			}
		}
	}
	n := &model.ProvenanceNode{
		ID:         id,
		Kind:       model.NodeDerived,
		Formula:    e.String(),
		Inputs:     ids,
		InputNames: names,
	}
	g.nodes[id] = n
	g.exprs[id] = e
	g.metrics.Node(string(model.NodeDerived))
	out := *n
	g.mu.Unlock()

	for i := range added {
		if err := g.appendLog(ctx, &added[i]); err != nil {
			return nil, err
		}
	}
	g.log.Debug("node defined",
		zap.String("node_id", id),
		zap.String("formula", e.String()),
		zap.Strings("inputs", ids),
	)
	return &out, nil
}

func checkBindings(e *Expr, inputs []Input) error {
	bound := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if in.Name == "" {
			return &ParseError{Expr: e.String(), Msg: "input with empty name"}
		}
		if bound[in.Name] {
			return &ParseError{Expr: e.String(), Msg: fmt.Sprintf("input %q bound twice", in.Name)}
		}
		if in.Datapoint == nil && in.NodeID == "" {
			return &ParseError{Expr: e.String(), Msg: fmt.Sprintf("input %q has no datapoint or node", in.Name)}
		}
		bound[in.Name] = true
	}
	for _, name := range e.Names() {
		if !bound[name] {
			return &ParseError{Expr: e.String(), Msg: fmt.Sprintf("name %q is not bound to an input", name)}
		}
	}
	return nil
}

func sameDefinition(n *model.ProvenanceNode, formula string, names, ids []string) bool {
	if n.Kind != model.NodeDerived || n.Formula != formula || len(n.Inputs) != len(ids) {
		return false
	}
	for i := range ids {
		if n.Inputs[i] != ids[i] || n.InputNames[i] != names[i] {
			return false
		}
	}
	return true
}

// pathFrom returns a path target -> ... -> target when target is one of
// starts or reachable from them, else nil.
func (g *Graph) pathFrom(starts []string, target string) []string {
	visited := make(map[string]bool)
	var walk func(id string) []string
	walk = func(id string) []string {
		if id == target {
			return []string{id}
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		n, ok := g.nodes[id]
		if !ok {
			return nil
		}
		for _, in := range n.Inputs {
			if p := walk(in); p != nil {
				return append([]string{id}, p...)
			}
		}
		return nil
	}
	for _, s := range starts {
		if p := walk(s); p != nil {
			return append([]string{target}, p...)
		}
	}
	return nil
}

// Evaluate computes the node's value depth first, memoizing every node it
// visits. Missing inputs produce Missing, not an error. Evaluated nodes in
// the lineage that have not reached the log yet are appended afterwards.
func (g *Graph) Evaluate(ctx context.Context, id string) (model.Value, error) {
	g.mu.Lock()
	if _, ok := g.nodes[id]; !ok {
		g.mu.Unlock()
		return model.Value{}, &NodeNotFoundError{NodeID: id}
	}
	v, evalErr := g.evalLocked(id)
	var pending []model.ProvenanceNode
	if g.plog != nil {
		pending = g.unloggedLocked(id)
	}
	g.mu.Unlock()

	for i := range pending {
		if err := g.appendLog(ctx, &pending[i]); err != nil {
			return model.Value{}, err
		}
	}
	return v, evalErr
}

func (g *Graph) evalLocked(id string) (model.Value, error) {
	n := g.nodes[id]
	if n.Evaluated {
		if n.Error != "" {
			return model.Value{}, &EvalError{NodeID: id, Expr: n.Formula, Msg: n.Error}
		}
		return n.Value, nil
	}

	env := make(map[string]model.Value, len(n.Inputs))
	for i, in := range n.Inputs {
		v, err := g.evalLocked(in)
		if err != nil {
			g.settle(n, model.Missing(), fmt.Sprintf("input %s: %v", n.InputNames[i], err))
			return model.Value{}, &EvalError{NodeID: id, Expr: n.Formula, Msg: n.Error}
		}
		env[n.InputNames[i]] = v
	}

	expr, ok := g.exprs[id]
	if !ok {
		var err error
		if expr, err = Parse(n.Formula); err != nil {
			return model.Value{}, eris.Wrapf(err, "formula: node %s", id)
		}
		g.exprs[id] = expr
	}

	v, err := expr.Eval(env, g.precision)
	if err != nil {
		msg := err.Error()
		var ee *EvalError
		if errors.As(err, &ee) {
			msg = ee.Msg
		}
		g.settle(n, model.Missing(), msg)
		return model.Value{}, &EvalError{NodeID: id, Expr: n.Formula, Msg: msg}
	}
	g.settle(n, v, "")
	return v, nil
}

// settle fixes a node's value. Nodes are immutable once settled.
func (g *Graph) settle(n *model.ProvenanceNode, v model.Value, errMsg string) {
	n.Value = v
	n.Error = errMsg
	n.Evaluated = true
	n.ComputedAt = g.now()
}

// unloggedLocked returns evaluated, not yet logged nodes in the lineage of
// id, inputs first.
func (g *Graph) unloggedLocked(id string) []model.ProvenanceNode {
	var out []model.ProvenanceNode
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		if seen[cur] || g.logged[cur] {
			return
		}
		seen[cur] = true
		n := g.nodes[cur]
		for _, in := range n.Inputs {
			walk(in)
		}
		if n.Evaluated {
			out = append(out, *n)
		}
	}
	walk(id)
	return out
}

func (g *Graph) appendLog(ctx context.Context, n *model.ProvenanceNode) error {
	if g.plog == nil {
		return nil
	}
	g.mu.Lock()
	done := g.logged[n.ID]
	g.mu.Unlock()
	if done {
		return nil
	}
	if err := g.plog.AppendNode(ctx, n); err != nil {
		return eris.Wrapf(err, "formula: append node %s", n.ID)
	}
	g.mu.Lock()
	g.logged[n.ID] = true
	g.mu.Unlock()
	return nil
}

// Node returns a copy of the node.
func (g *Graph) Node(id string) (*model.ProvenanceNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, &NodeNotFoundError{NodeID: id}
	}
	out := *n
	return &out, nil
}

// Lineage returns the node and everything it depends on, inputs before
// dependents, each node once.
func (g *Graph) Lineage(id string) ([]model.ProvenanceNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return nil, &NodeNotFoundError{NodeID: id}
	}
	var out []model.ProvenanceNode
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		n := g.nodes[cur]
		for _, in := range n.Inputs {
			walk(in)
		}
		out = append(out, *n)
	}
	walk(id)
	return out, nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}
