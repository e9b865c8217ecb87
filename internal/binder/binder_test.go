package binder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lineage-cli/internal/benchmark"
	"github.com/sells-group/lineage-cli/internal/dataset"
	"github.com/sells-group/lineage-cli/internal/formula"
	"github.com/sells-group/lineage-cli/internal/index"
	"github.com/sells-group/lineage-cli/internal/model"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) SaveReference(ctx context.Context, ref model.Reference) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *mockRepository) DeleteReference(ctx context.Context, tokenID string) error {
	return m.Called(ctx, tokenID).Error(0)
}

func usd(s string) model.Value {
	return model.Numeric(decimal.RequireFromString(s), "USD")
}

type fixture struct {
	store *dataset.Store
	graph *formula.Graph
	bench *benchmark.Engine
	b     *Binder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := dataset.New()
	ix := index.New(store, index.DefaultFuzzyPolicy(), nil)
	graph := formula.NewGraph()
	bench := benchmark.New(graph, nil)
	return &fixture{store: store, graph: graph, bench: bench, b: New(store, ix, graph, bench, opts...)}
}

func (f *fixture) ingest(t *testing.T, revenue string) {
	t.Helper()
	f.ingestAs(t, "AAPL_2024", revenue)
}

func (f *fixture) ingestAs(t *testing.T, name, revenue string) {
	t.Helper()
	_, err := f.store.Ingest(context.Background(), name, &model.Table{
		Fields:  []string{"Total Revenue", "Gross Profit"},
		Periods: []string{"2024"},
		Rows:    [][]model.Value{{usd(revenue)}, {usd("45")}},
	})
	require.NoError(t, err)
}

func mustTarget(t *testing.T, s string) model.Target {
	t.Helper()
	tgt, err := model.ParseTarget(s)
	require.NoError(t, err)
	return tgt
}

func TestScan(t *testing.T) {
	toks := Scan("a {{ AAPL.Total Revenue.2024 }} b {{margin.AAPL}} c {{bad}} {{}}")
	require.Len(t, toks, 3)

	assert.Equal(t, model.DatapointTarget("AAPL", "Total Revenue", "2024"), toks[0].Target)
	assert.Equal(t, "{{ AAPL.Total Revenue.2024 }}", toks[0].Raw)
	assert.Equal(t, model.BenchmarkTarget("margin", "AAPL"), toks[1].Target)
	assert.Error(t, toks[2].Err)
}

func TestRefresh_StaleAfterReingest(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "100")
	ctx := context.Background()

	ref, err := f.b.Bind(ctx, "doc", mustTarget(t, "AAPL_2024.Total Revenue.2024"))
	require.NoError(t, err)
	assert.Equal(t, model.RefPending, f.b.State(ref))

	ref, err = f.b.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "100 USD", ref.LastResolvedValue.String())
	assert.Equal(t, model.RefResolved, f.b.State(ref))
	assert.Equal(t, model.DatasetVersions{"AAPL_2024": 1}, ref.ResolvedVersions)
	first := ref.NodeID

	f.ingest(t, "120")
	ref, err = f.b.Get(ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, model.RefStale, f.b.State(ref))
	assert.Equal(t, "100 USD", ref.LastResolvedValue.String())

	ref, err = f.b.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "120 USD", ref.LastResolvedValue.String())
	assert.Equal(t, model.RefResolved, f.b.State(ref))
	assert.NotEqual(t, first, ref.NodeID)
}

func TestRefresh_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "100")
	ctx := context.Background()

	ref, err := f.b.Bind(ctx, "doc", mustTarget(t, "AAPL_2024.Total Revenue.2024"))
	require.NoError(t, err)
	first, err := f.b.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)
	nodes := f.graph.Len()

	second, err := f.b.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, first.NodeID, second.NodeID)
	assert.True(t, first.LastResolvedValue.Equal(second.LastResolvedValue))
	assert.Equal(t, nodes, f.graph.Len())
}

func TestRefresh_PendingUntilDatasetExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref, err := f.b.Bind(ctx, "doc", mustTarget(t, "AAPL_2024.Total Revenue.2024"))
	require.NoError(t, err)
	assert.True(t, ref.Bound)
	assert.Equal(t, model.RefPending, f.b.State(ref))

	ref, err = f.b.Refresh(ctx, ref.TokenID)
	var nf *model.DatasetNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, model.RefPending, f.b.State(ref))
	assert.NotEmpty(t, ref.LastError)

	f.ingest(t, "100")
	ref, err = f.b.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, model.RefResolved, f.b.State(ref))
	assert.Empty(t, ref.LastError)
}

func TestRefresh_FailureKeepsLastValue(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "100")
	ctx := context.Background()

	ref, err := f.b.Bind(ctx, "doc", mustTarget(t, "AAPL_2024.Total Revenue.2024"))
	require.NoError(t, err)
	_, err = f.b.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)

	_, err = f.store.Ingest(ctx, "AAPL_2024", &model.Table{
		Fields:  []string{"Headcount"},
		Periods: []string{"2024"},
		Rows:    [][]model.Value{{usd("7")}},
	})
	require.NoError(t, err)

	ref, err = f.b.Refresh(ctx, ref.TokenID)
	var fe *model.FieldNotFoundError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "100 USD", ref.LastResolvedValue.String())
	assert.Equal(t, model.RefStale, f.b.State(ref))
}

func TestRefresh_BenchmarkTarget(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "100")
	ctx := context.Background()

	def, err := benchmark.Preset("gross_margin", "2024", []benchmark.Entity{{Name: "AAPL", Dataset: "AAPL_2024"}})
	require.NoError(t, err)
	require.NoError(t, f.bench.Register(def))

	ref, err := f.b.Bind(ctx, "doc", mustTarget(t, "gross_margin.AAPL"))
	require.NoError(t, err)
	assert.Equal(t, model.RefPending, f.b.State(ref))

	ref, err = f.b.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "0.45", ref.LastResolvedValue.String())
	assert.NotEmpty(t, ref.NodeID)
	assert.Equal(t, model.DatasetVersions{"AAPL_2024": 1}, ref.ResolvedVersions)

	f.ingest(t, "90")
	assert.Equal(t, model.RefStale, f.b.State(ref))

	ref, err = f.b.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "0.5", ref.LastResolvedValue.String())
}

func TestRefresh_BenchmarkCellStaleOnlyForOwnDatasets(t *testing.T) {
	f := newFixture(t)
	f.ingestAs(t, "AAPL_2024", "100")
	f.ingestAs(t, "MSFT_2024", "200")
	ctx := context.Background()

	def, err := benchmark.Preset("gross_margin", "2024", []benchmark.Entity{
		{Name: "AAPL", Dataset: "AAPL_2024"},
		{Name: "MSFT", Dataset: "MSFT_2024"},
	})
	require.NoError(t, err)
	require.NoError(t, f.bench.Register(def))

	ref, err := f.b.Bind(ctx, "doc", mustTarget(t, "gross_margin.AAPL"))
	require.NoError(t, err)
	ref, err = f.b.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, model.DatasetVersions{"AAPL_2024": 1}, ref.ResolvedVersions)

	f.ingestAs(t, "MSFT_2024", "300")
	assert.Equal(t, model.RefResolved, f.b.State(ref))

	f.ingestAs(t, "AAPL_2024", "90")
	assert.Equal(t, model.RefStale, f.b.State(ref))
}

func TestRefresh_UnknownBenchmarkEntity(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "100")
	def, err := benchmark.Preset("gross_margin", "2024", []benchmark.Entity{{Name: "AAPL", Dataset: "AAPL_2024"}})
	require.NoError(t, err)
	require.NoError(t, f.bench.Register(def))

	ref, err := f.b.Bind(context.Background(), "doc", model.BenchmarkTarget("gross_margin", "MSFT"))
	require.NoError(t, err)
	_, err = f.b.Refresh(context.Background(), ref.TokenID)
	assert.Error(t, err)
}

func TestRefreshAll_ReportsEachOutcome(t *testing.T) {
	f := newFixture(t, WithMaxConcurrency(2))
	f.ingest(t, "100")
	ctx := context.Background()

	refs, err := f.b.Attach(ctx, "doc", "{{AAPL_2024.Total Revenue.2024}} {{AAPL_2024.Headcount.2024}} {{AAPL_2024.Gross Profit.2024}}")
	require.NoError(t, err)
	require.Len(t, refs, 3)

	out, err := f.b.RefreshAll(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.NoError(t, out[0].Err)
	assert.Equal(t, model.RefResolved, out[0].State)
	assert.Equal(t, "100 USD", out[0].Value.String())

	var fe *model.FieldNotFoundError
	assert.ErrorAs(t, out[1].Err, &fe)
	assert.Equal(t, model.RefPending, out[1].State)
	assert.NotEmpty(t, out[1].Error)

	assert.NoError(t, out[2].Err)
	assert.Equal(t, "45 USD", out[2].Value.String())
}

func TestRefreshAll_ConcurrentSameTarget(t *testing.T) {
	f := newFixture(t, WithMaxConcurrency(4))
	f.ingest(t, "100")
	ctx := context.Background()

	tgt := mustTarget(t, "AAPL_2024.Total Revenue.2024")
	for i := 0; i < 12; i++ {
		_, err := f.b.Bind(ctx, "doc", tgt)
		require.NoError(t, err)
	}

	out, err := f.b.RefreshAll(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, out, 12)
	for _, o := range out {
		assert.NoError(t, o.Err)
		assert.Equal(t, out[0].NodeID, o.NodeID)
	}
}

func TestRefreshAll_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "100")
	_, err := f.b.Bind(context.Background(), "doc", mustTarget(t, "AAPL_2024.Total Revenue.2024"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.b.RefreshAll(ctx, "doc")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRender(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "100")
	ctx := context.Background()
	text := "Revenue was {{AAPL_2024.Total Revenue.2024}}, staff {{AAPL_2024.Headcount.2024}}, {{bad}}."

	refs, err := f.b.Attach(ctx, "doc", text)
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	assert.Equal(t,
		"Revenue was {{AAPL_2024.Total Revenue.2024}} [unresolved], staff {{AAPL_2024.Headcount.2024}} [unresolved], {{bad}} [unresolved].",
		f.b.Render("doc", text))

	_, err = f.b.RefreshAll(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t,
		"Revenue was 100 USD, staff {{AAPL_2024.Headcount.2024}} [unresolved], {{bad}} [unresolved].",
		f.b.Render("doc", text))

	again, err := f.b.Attach(ctx, "doc", text)
	require.NoError(t, err)
	assert.Equal(t, refs[0].TokenID, again[0].TokenID)
	assert.Len(t, f.b.References("doc"), 2)
}

func TestRender_CustomMarker(t *testing.T) {
	f := newFixture(t, WithMarker("(?)"))
	assert.Equal(t, "x {{a.b}} (?)", f.b.Render("doc", "x {{a.b}}"))
}

func TestUnbind(t *testing.T) {
	repo := &mockRepository{}
	repo.On("SaveReference", mock.Anything, mock.Anything).Return(nil)
	repo.On("DeleteReference", mock.Anything, mock.Anything).Return(nil)
	f := newFixture(t, WithRepository(repo))
	ctx := context.Background()

	ref, err := f.b.Bind(ctx, "doc", mustTarget(t, "AAPL_2024.Total Revenue.2024"))
	require.NoError(t, err)
	require.NoError(t, f.b.Unbind(ctx, ref.TokenID))

	assert.Empty(t, f.b.References("doc"))
	assert.Empty(t, f.b.Documents())
	_, err = f.b.Get(ref.TokenID)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(f.b.Unbind(ctx, ref.TokenID)))
	repo.AssertCalled(t, "DeleteReference", mock.Anything, ref.TokenID)
}

func TestRefresh_PersistsReference(t *testing.T) {
	repo := &mockRepository{}
	repo.On("SaveReference", mock.Anything, mock.Anything).Return(nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithRepository(repo), WithClock(func() time.Time { return at }))
	f.ingest(t, "100")
	ctx := context.Background()

	ref, err := f.b.Bind(ctx, "doc", mustTarget(t, "AAPL_2024.Total Revenue.2024"))
	require.NoError(t, err)
	ref, err = f.b.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, at, ref.LastResolvedAt)

	repo.AssertNumberOfCalls(t, "SaveReference", 2)
	repo.AssertCalled(t, "SaveReference", mock.Anything, mock.MatchedBy(func(r model.Reference) bool {
		return r.TokenID == ref.TokenID && !r.LastResolvedAt.IsZero()
	}))
}

func TestRefresh_SaveFailureKeepsState(t *testing.T) {
	repo := &mockRepository{}
	repo.On("SaveReference", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("SaveReference", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	f := newFixture(t, WithRepository(repo))
	f.ingest(t, "100")
	ctx := context.Background()

	ref, err := f.b.Bind(ctx, "doc", mustTarget(t, "AAPL_2024.Total Revenue.2024"))
	require.NoError(t, err)
	_, err = f.b.Refresh(ctx, ref.TokenID)
	require.Error(t, err)

	got, err := f.b.Get(ref.TokenID)
	require.NoError(t, err)
	assert.True(t, got.LastResolvedAt.IsZero())
	assert.Equal(t, model.RefPending, f.b.State(got))
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "100")
	f.ingest(t, "120")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.b.Restore([]model.Reference{
		{TokenID: "b", DocumentID: "doc", Target: model.BenchmarkTarget("m", "X"), CreatedAt: t0.Add(time.Minute)},
		{
			TokenID:           "a",
			DocumentID:        "doc",
			Target:            model.DatapointTarget("AAPL_2024", "Total Revenue", "2024"),
			Bound:             true,
			LastResolvedValue: usd("100"),
			LastResolvedAt:    t0,
			ResolvedVersions:  model.DatasetVersions{"AAPL_2024": 1},
			CreatedAt:         t0,
		},
	})

	refs := f.b.References("doc")
	require.Len(t, refs, 2)
	assert.Equal(t, "a", refs[0].TokenID)
	assert.Equal(t, model.RefStale, f.b.State(refs[0]))
	assert.Equal(t, model.RefUnbound, f.b.State(refs[1]))
}
