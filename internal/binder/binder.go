// Package binder tracks references embedded in documents and resolves them
// against the latest dataset versions on explicit refresh.
package binder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lineage-cli/internal/benchmark"
	"github.com/sells-group/lineage-cli/internal/metrics"
	"github.com/sells-group/lineage-cli/internal/model"
)

// DefaultMarker follows a token that could not be resolved.
const DefaultMarker = "[unresolved]"

// Datasets reports the latest version of each dataset name.
type Datasets interface {
	VersionLookup(name string) (int, bool)
}

// Graph creates raw provenance nodes for datapoints.
type Graph interface {
	Raw(ctx context.Context, dp model.Datapoint) (*model.ProvenanceNode, error)
}

// Benchmarks runs registered benchmark definitions.
type Benchmarks interface {
	RunRegistered(ctx context.Context, name string, cat benchmark.Catalog) (*model.BenchmarkResult, error)
}

// Repository persists references. A nil repository keeps them in memory only.
type Repository interface {
	SaveReference(ctx context.Context, ref model.Reference) error
	DeleteReference(ctx context.Context, tokenID string) error
}

// ReferenceNotFoundError reports an unknown token id.
type ReferenceNotFoundError struct {
	TokenID string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("reference %q not found", e.TokenID)
}

// Option configures a Binder.
type Option func(*Binder)

// WithRepository persists every reference change to r.
func WithRepository(r Repository) Option {
	return func(b *Binder) { b.repo = r }
}

// WithMarker sets the text placed after unresolved tokens on render.
func WithMarker(marker string) Option {
	return func(b *Binder) {
		if marker != "" {
			b.marker = marker
		}
	}
}

// WithMaxConcurrency bounds RefreshAll fan-out.
func WithMaxConcurrency(n int) Option {
	return func(b *Binder) {
		if n > 0 {
			b.maxConcurrency = n
		}
	}
}

// WithClock overrides the resolution timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Binder) { b.now = now }
}

// WithMetrics records refresh outcomes.
func WithMetrics(m *metrics.Recorder) Option {
	return func(b *Binder) { b.metrics = m }
}

type entry struct {
	mu  sync.Mutex
	ref model.Reference
}

// Binder owns every reference. Each reference carries its own lock so
// refreshes of different references run concurrently.
type Binder struct {
	datasets   Datasets
	catalog    benchmark.Catalog
	graph      Graph
	benchmarks Benchmarks
	repo       Repository
	metrics    *metrics.Recorder

	marker         string
	maxConcurrency int
	now            func() time.Time
	newID          func() string
	log            *zap.Logger

	mu    sync.RWMutex
	refs  map[string]*entry
	byDoc map[string][]string
}

// New creates a Binder. cat resolves datapoint targets and benchmark inputs.
func New(datasets Datasets, cat benchmark.Catalog, graph Graph, benchmarks Benchmarks, opts ...Option) *Binder {
	b := &Binder{
		datasets:       datasets,
		catalog:        cat,
		graph:          graph,
		benchmarks:     benchmarks,
		marker:         DefaultMarker,
		maxConcurrency: 8,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		log:            zap.L().With(zap.String("component", "binder")),
		refs:           make(map[string]*entry),
		byDoc:          make(map[string][]string),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Restore loads previously persisted references.
func (b *Binder) Restore(refs []model.Reference) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sorted := append([]model.Reference(nil), refs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	for _, r := range sorted {
		if _, ok := b.refs[r.TokenID]; ok {
			continue
		}
		b.refs[r.TokenID] = &entry{ref: r}
		b.byDoc[r.DocumentID] = append(b.byDoc[r.DocumentID], r.TokenID)
	}
}

// Bind creates a Pending reference to target owned by documentID. The target
// need not exist yet; a refresh before it does records the error and the
// reference stays Pending.
func (b *Binder) Bind(ctx context.Context, documentID string, target model.Target) (model.Reference, error) {
	if documentID == "" {
		return model.Reference{}, eris.New("binder: document id is required")
	}
	ref := model.Reference{
		TokenID:    b.newID(),
		DocumentID: documentID,
		Target:     target,
		Bound:      true,
		CreatedAt:  b.now(),
	}
	if err := b.save(ctx, ref); err != nil {
		return model.Reference{}, err
	}

	b.mu.Lock()
	b.refs[ref.TokenID] = &entry{ref: ref}
	b.byDoc[documentID] = append(b.byDoc[documentID], ref.TokenID)
	b.mu.Unlock()

	b.log.Debug("reference bound",
		zap.String("token_id", ref.TokenID),
		zap.String("document_id", documentID),
		zap.String("target", target.String()),
	)
	return ref, nil
}

// Attach scans text and binds every well-formed token not already bound in
// documentID. It returns the document's references for the tokens in text,
// in order of first appearance.
func (b *Binder) Attach(ctx context.Context, documentID, text string) ([]model.Reference, error) {
	existing := make(map[string]model.Reference)
	for _, r := range b.References(documentID) {
		if _, ok := existing[r.Target.String()]; !ok {
			existing[r.Target.String()] = r
		}
	}

	var out []model.Reference
	seen := make(map[string]bool)
	for _, tok := range Scan(text) {
		if tok.Err != nil {
			continue
		}
		key := tok.Target.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		if r, ok := existing[key]; ok {
			out = append(out, r)
			continue
		}
		r, err := b.Bind(ctx, documentID, tok.Target)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Get returns the reference with tokenID.
func (b *Binder) Get(tokenID string) (model.Reference, error) {
	e, err := b.entry(tokenID)
	if err != nil {
		return model.Reference{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ref, nil
}

// State derives the current state of ref.
func (b *Binder) State(ref model.Reference) model.ReferenceState {
	return ref.State(b.datasets.VersionLookup)
}

// References lists the references owned by documentID in bind order.
func (b *Binder) References(documentID string) []model.Reference {
	b.mu.RLock()
	ids := append([]string(nil), b.byDoc[documentID]...)
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, b.refs[id])
	}
	b.mu.RUnlock()

	out := make([]model.Reference, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.ref)
		e.mu.Unlock()
	}
	return out
}

// Documents lists the ids of documents owning at least one reference.
func (b *Binder) Documents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.byDoc))
	for d := range b.byDoc {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Unbind removes a reference. This is the only way a reference is destroyed.
func (b *Binder) Unbind(ctx context.Context, tokenID string) error {
	e, err := b.entry(tokenID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b.repo != nil {
		if err := b.repo.DeleteReference(ctx, tokenID); err != nil {
			return eris.Wrapf(err, "binder: delete reference %s", tokenID)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.refs, tokenID)
	doc := e.ref.DocumentID
	ids := b.byDoc[doc]
	for i, id := range ids {
		if id == tokenID {
			b.byDoc[doc] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(b.byDoc[doc]) == 0 {
		delete(b.byDoc, doc)
	}
	return nil
}

// Refresh re-resolves the reference at the latest dataset versions. A
// failed refresh records the error and leaves the last resolved value in
// place. Refreshing twice with no dataset change yields the same node.
func (b *Binder) Refresh(ctx context.Context, tokenID string) (model.Reference, error) {
	e, err := b.entry(tokenID)
	if err != nil {
		return model.Reference{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.ref
	value, nodeID, versions, rerr := b.resolve(ctx, next.Target)
	if rerr != nil {
		next.LastError = rerr.Error()
	} else {
		next.Bound = true
		next.LastResolvedValue = value
		next.LastResolvedAt = b.now()
		next.ResolvedVersions = versions
		next.NodeID = nodeID
		next.LastError = ""
	}

	if err := b.save(ctx, next); err != nil {
		return e.ref, err
	}
	e.ref = next

	state := b.State(next)
	if rerr != nil {
		b.metrics.Refresh("error")
		b.log.Warn("reference refresh failed",
			zap.String("token_id", tokenID),
			zap.String("target", next.Target.String()),
			zap.Error(rerr),
		)
		return next, rerr
	}
	b.metrics.Refresh(string(state))
	b.log.Debug("reference refreshed",
		zap.String("token_id", tokenID),
		zap.String("node_id", next.NodeID),
		zap.String("value", next.LastResolvedValue.String()),
	)
	return next, nil
}

func (b *Binder) resolve(ctx context.Context, t model.Target) (model.Value, string, model.DatasetVersions, error) {
	switch t.Kind {
	case model.TargetDatapoint:
		k := t.Datapoint
		dp, err := b.catalog.Lookup(k.Dataset, k.Field, k.Period)
		if err != nil {
			return model.Value{}, "", nil, err
		}
		n, err := b.graph.Raw(ctx, dp)
		if err != nil {
			return model.Value{}, "", nil, err
		}
		return dp.Value, n.ID, model.DatasetVersions{dp.DatasetName: dp.DatasetVersion}, nil

	case model.TargetBenchmark:
		res, err := b.benchmarks.RunRegistered(ctx, t.Benchmark, b.catalog)
		if err != nil && !benchmark.IsInsufficient(err) {
			return model.Value{}, "", nil, err
		}
		cell, ok := res.PerEntityValue[t.Entity]
		if !ok {
			return model.Value{}, "", nil, eris.Errorf("binder: benchmark %q has no entity %q", t.Benchmark, t.Entity)
		}
		versions := model.DatasetVersions{}
		for name, v := range cell.Versions {
			versions[name] = v
		}
		return cell.Value, cell.NodeID, versions, nil
	}
	return model.Value{}, "", nil, eris.Errorf("binder: unknown target kind %q", t.Kind)
}

// Outcome is the result of refreshing one reference during RefreshAll.
type Outcome struct {
	TokenID string               `json:"token_id"`
	Target  string               `json:"target"`
	State   model.ReferenceState `json:"state"`
	Value   model.Value          `json:"value"`
	NodeID  string               `json:"node_id,omitempty"`
	Error   string               `json:"error,omitempty"`
	Err     error                `json:"-"`
}

// RefreshAll refreshes every reference owned by documentID. One failure
// never stops the others; each reference reports its own outcome in bind
// order. Only context cancellation is returned as an error.
func (b *Binder) RefreshAll(ctx context.Context, documentID string) ([]Outcome, error) {
	refs := b.References(documentID)
	out := make([]Outcome, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxConcurrency)
	for i, r := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ref, err := b.Refresh(gctx, r.TokenID)
			o := Outcome{
				TokenID: r.TokenID,
				Target:  r.Target.String(),
				State:   b.State(ref),
				Value:   ref.LastResolvedValue,
				NodeID:  ref.NodeID,
			}
			if err != nil {
				o.Err = err
				o.Error = err.Error()
			}
			out[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	failed := 0
	for _, o := range out {
		if o.Err != nil {
			failed++
		}
	}
	b.log.Info("document refreshed",
		zap.String("document_id", documentID),
		zap.Int("references", len(out)),
		zap.Int("failed", failed),
	)
	return out, nil
}

// Render replaces every token in text with its reference's last resolved
// value. Tokens without a resolved reference in documentID stay verbatim,
// followed by the unresolved marker.
func (b *Binder) Render(documentID, text string) string {
	resolved := make(map[string]model.Value)
	for _, r := range b.References(documentID) {
		if r.LastResolvedAt.IsZero() {
			continue
		}
		key := r.Target.String()
		if _, ok := resolved[key]; !ok {
			resolved[key] = r.LastResolvedValue
		}
	}

	var sb strings.Builder
	last := 0
	for _, tok := range Scan(text) {
		sb.WriteString(text[last:tok.Start])
		last = tok.End
		if tok.Err == nil {
			if v, ok := resolved[tok.Target.String()]; ok {
				sb.WriteString(v.String())
				continue
			}
		}
		sb.WriteString(tok.Raw)
		sb.WriteString(" ")
		sb.WriteString(b.marker)
	}
	sb.WriteString(text[last:])
	return sb.String()
}

func (b *Binder) entry(tokenID string) (*entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.refs[tokenID]
	if !ok {
		return nil, &ReferenceNotFoundError{TokenID: tokenID}
	}
	return e, nil
}

func (b *Binder) save(ctx context.Context, ref model.Reference) error {
	if b.repo == nil {
		return nil
	}
	if err := b.repo.SaveReference(ctx, ref); err != nil {
		return eris.Wrapf(err, "binder: save reference %s", ref.TokenID)
	}
	return nil
}

// IsNotFound reports whether err is a ReferenceNotFoundError.
func IsNotFound(err error) bool {
	var nf *ReferenceNotFoundError
	return errors.As(err, &nf)
}
