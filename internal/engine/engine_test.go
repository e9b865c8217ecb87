package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lineage-cli/internal/benchmark"
	"github.com/sells-group/lineage-cli/internal/config"
	"github.com/sells-group/lineage-cli/internal/formula"
	"github.com/sells-group/lineage-cli/internal/model"
	"github.com/sells-group/lineage-cli/internal/source"
)

func testConfig(driver, dsn string) *config.Config {
	cfg := &config.Config{}
	cfg.Store.Driver = driver
	cfg.Store.DatabaseURL = dsn
	cfg.Index.Fuzzy = config.FuzzyConfig{Enabled: true, MinScore: 3}
	cfg.Formula.DivisionPrecision = 16
	cfg.Source.TimeoutSecs = 5
	cfg.Binder.UnresolvedMarker = "[unresolved]"
	cfg.Binder.MaxConcurrency = 4
	cfg.Retry.MaxAttempts = 1
	return cfg
}

func newMemoryEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(context.Background(), testConfig("memory", ""))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() }) //nolint:errcheck
	return e
}

func usd(s string) model.Value {
	return model.Numeric(decimal.RequireFromString(s), "USD")
}

func statement(revenue2024 string) *model.Table {
	return &model.Table{
		Fields:  []string{"Total Revenue", "Gross Profit"},
		Periods: []string{"2023", "2024"},
		Rows: [][]model.Value{
			{usd("80"), usd(revenue2024)},
			{usd("30"), usd("45")},
		},
	}
}

func mustBindings(t *testing.T, specs ...string) []Binding {
	t.Helper()
	out := make([]Binding, len(specs))
	for i, s := range specs {
		b, err := ParseBinding(s)
		require.NoError(t, err)
		out[i] = b
	}
	return out
}

func TestParseBinding(t *testing.T) {
	b, err := ParseBinding("rev = AAPL_2024.Total Revenue.2024")
	require.NoError(t, err)
	assert.Equal(t, "rev", b.Name)
	assert.Equal(t, &model.DatapointKey{Dataset: "AAPL_2024", Field: "Total Revenue", Period: "2024"}, b.Datapoint)
	assert.Zero(t, b.Version)

	b, err = ParseBinding("rev=AAPL_2024.Total Revenue.2024@2")
	require.NoError(t, err)
	assert.Equal(t, 2, b.Version)

	b, err = ParseBinding("m=node:drv_abc")
	require.NoError(t, err)
	assert.Equal(t, "drv_abc", b.NodeID)
	assert.Nil(t, b.Datapoint)

	for _, bad := range []string{"rev", "=AAPL.x.2024", "rev=margin.AAPL", "rev=AAPL.x.2024@zero"} {
		_, err := ParseBinding(bad)
		assert.Error(t, err, bad)
	}
}

func TestEngine_DefineEvaluateLineage(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()
	_, err := e.Ingest(ctx, "AAPL_2024", statement("100"))
	require.NoError(t, err)

	n, err := e.Define(ctx, "growth_rate(rev, prior)",
		mustBindings(t, "rev=AAPL_2024.Total Revenue.2024", "prior=AAPL_2024.Total Revenue.2023"), "")
	require.NoError(t, err)

	v, err := e.Evaluate(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.25", v.String())

	lineage, err := e.Lineage(n.ID)
	require.NoError(t, err)
	require.Len(t, lineage, 3)
	assert.Equal(t, n.ID, lineage[2].ID)
	assert.Equal(t, model.NodeRaw, lineage[0].Kind)

	again, err := e.Define(ctx, "growth_rate(rev, prior)",
		mustBindings(t, "rev=AAPL_2024.Total Revenue.2024", "prior=AAPL_2024.Total Revenue.2023"), "")
	require.NoError(t, err)
	assert.Equal(t, n.ID, again.ID)

	chained, err := e.Define(ctx, "g * 100", []Binding{{Name: "g", NodeID: n.ID}}, "growth_pct")
	require.NoError(t, err)
	assert.Equal(t, "growth_pct", chained.ID)
	v, err = e.Evaluate(ctx, "growth_pct")
	require.NoError(t, err)
	assert.Equal(t, "25", v.String())
}

func TestEngine_DefineLookupFailure(t *testing.T) {
	e := newMemoryEngine(t)
	_, err := e.Define(context.Background(), "a", mustBindings(t, "a=NOPE.Revenue.2024"), "")
	var nf *model.DatasetNotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestEngine_IngestFromStaticSource(t *testing.T) {
	e := newMemoryEngine(t)
	table := statement("100")
	table.SourceIdentity = "static:test"
	ds, err := e.IngestFrom(context.Background(), "AAPL_2024", source.StaticSource{Table: *table})
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Version)
	assert.Equal(t, "static:test", ds.SourceIdentity)
	require.Len(t, e.Datasets(), 1)
}

func TestEngine_RenderDocumentScenario(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()
	_, err := e.Ingest(ctx, "AAPL_2024", statement("100"))
	require.NoError(t, err)

	def, err := benchmark.Preset("gross_margin", "2024", []benchmark.Entity{{Name: "AAPL", Dataset: "AAPL_2024"}})
	require.NoError(t, err)
	require.NoError(t, e.RegisterBenchmark(def))

	text := "Revenue {{AAPL_2024.Total Revenue.2024}}, margin {{gross_margin.AAPL}}, staff {{AAPL_2024.Headcount.2024}}."
	out, outcomes, err := e.RenderDocument(ctx, "q4-memo", text)
	require.NoError(t, err)
	assert.Equal(t, "Revenue 100 USD, margin 0.45, staff {{AAPL_2024.Headcount.2024}} [unresolved].", out)
	require.Len(t, outcomes, 3)
	assert.Error(t, outcomes[2].Err)

	views := e.References("q4-memo")
	require.Len(t, views, 3)
	assert.Equal(t, model.RefResolved, views[0].State)

	_, err = e.Ingest(ctx, "AAPL_2024", statement("120"))
	require.NoError(t, err)
	view, err := e.Reference(views[0].TokenID)
	require.NoError(t, err)
	assert.Equal(t, model.RefStale, view.State)

	out, _, err = e.RenderDocument(ctx, "q4-memo", text)
	require.NoError(t, err)
	assert.Equal(t, "Revenue 120 USD, margin 0.375, staff {{AAPL_2024.Headcount.2024}} [unresolved].", out)
	assert.Len(t, e.References("q4-memo"), 3)
	assert.Equal(t, []string{"q4-memo"}, e.Documents())
}

func TestEngine_RunBenchmarkRegisters(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()
	_, err := e.Ingest(ctx, "AAPL_2024", statement("100"))
	require.NoError(t, err)

	def, err := benchmark.Preset("gross_margin", "2024", []benchmark.Entity{{Name: "AAPL", Dataset: "AAPL_2024"}})
	require.NoError(t, err)
	res, err := e.RunBenchmark(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, res.Ranking)
	require.Len(t, e.Benchmarks(), 1)

	again, err := e.RunRegistered(ctx, "gross_margin")
	require.NoError(t, err)
	assert.Equal(t, res.PerEntityValue["AAPL"].NodeID, again.PerEntityValue["AAPL"].NodeID)

	series, err := e.Movements(ctx, "AAPL_2024", "Total Revenue")
	require.NoError(t, err)
	assert.Equal(t, benchmark.TrendIncreasing, series.Trend)
}

func TestEngine_RestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("sqlite", filepath.Join(t.TempDir(), "lineage.db"))

	e, err := New(ctx, cfg)
	require.NoError(t, err)
	_, err = e.Ingest(ctx, "AAPL_2024", statement("100"))
	require.NoError(t, err)
	n, err := e.Define(ctx, "ratio(gp, rev)",
		mustBindings(t, "gp=AAPL_2024.Gross Profit.2024", "rev=AAPL_2024.Total Revenue.2024"), "")
	require.NoError(t, err)
	_, err = e.Evaluate(ctx, n.ID)
	require.NoError(t, err)
	ref, err := e.Bind(ctx, "doc", model.DatapointTarget("AAPL_2024", "Total Revenue", "2024"))
	require.NoError(t, err)
	_, err = e.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e, err = New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() }) //nolint:errcheck

	require.Len(t, e.Datasets(), 1)
	node, err := e.Node(n.ID)
	require.NoError(t, err)
	assert.True(t, node.Evaluated)
	assert.Equal(t, "0.45", node.Value.String())

	view, err := e.Reference(ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, model.RefResolved, view.State)
	assert.Equal(t, "100 USD", view.LastResolvedValue.String())

	_, err = e.Ingest(ctx, "AAPL_2024", statement("120"))
	require.NoError(t, err)
	view, err = e.Reference(ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, model.RefStale, view.State)

	refreshed, err := e.Refresh(ctx, ref.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "120 USD", refreshed.LastResolvedValue.String())
	assert.Equal(t, formula.RawID(model.Datapoint{
		DatasetName:    "AAPL_2024",
		DatasetVersion: 2,
		Field:          "Total Revenue",
		Period:         "2024",
	}), refreshed.NodeID)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(context.Background(), testConfig("oracle", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
