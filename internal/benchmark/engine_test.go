package benchmark

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lineage-cli/internal/dataset"
	"github.com/sells-group/lineage-cli/internal/formula"
	"github.com/sells-group/lineage-cli/internal/index"
	"github.com/sells-group/lineage-cli/internal/model"
)

func num(s, unit string) model.Value {
	return model.Numeric(decimal.RequireFromString(s), unit)
}

func metricInput(entity string, v model.Value) []formula.Input {
	return metricInputAt(entity, 1, v)
}

func metricInputAt(entity string, version int, v model.Value) []formula.Input {
	return []formula.Input{formula.DatapointInput("m", model.Datapoint{
		DatasetName:    entity + "_2024",
		DatasetVersion: version,
		Field:          "Metric",
		Period:         "2024",
		Value:          v,
	})}
}

func TestRun_RankingIsStable(t *testing.T) {
	inputs := map[string][]formula.Input{
		"A": metricInput("A", num("10", "")),
		"B": metricInput("B", num("10", "")),
		"C": metricInput("C", num("5", "")),
	}
	e := New(formula.NewGraph(), nil)

	for i := 0; i < 5; i++ {
		res, err := e.Run(context.Background(), "metric", "m", []string{"C", "B", "A"}, inputs)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C"}, res.Ranking)
		assert.Equal(t, 1, res.PerEntityValue["A"].Rank)
		assert.Equal(t, 3, res.PerEntityValue["C"].Rank)
	}

	res, err := e.Run(context.Background(), "metric", "m", []string{"A", "B", "C"}, inputs, WithDirection(model.Ascending))
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, res.Ranking)
}

func TestRun_MissingRanksLast(t *testing.T) {
	inputs := map[string][]formula.Input{
		"A": metricInput("A", model.Missing()),
		"B": metricInput("B", num("1", "")),
		"C": metricInput("C", num("5", "")),
	}
	e := New(formula.NewGraph(), nil)

	res, err := e.Run(context.Background(), "metric", "m", []string{"A", "B", "C"}, inputs)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B", "A"}, res.Ranking)

	res, err = e.Run(context.Background(), "metric", "m", []string{"A", "B", "C"}, inputs, WithDirection(model.Ascending))
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "A"}, res.Ranking)
	assert.True(t, res.PerEntityValue["A"].Value.IsMissing())
}

func TestRun_InsufficientDataOnlyWhenAllMissing(t *testing.T) {
	inputs := map[string][]formula.Input{
		"A": metricInput("A", model.Missing()),
		"B": metricInput("B", num("0", "")),
	}
	e := New(formula.NewGraph(), nil)

	res, err := e.Run(context.Background(), "inverse", "1 / m", []string{"A", "B"}, inputs)
	var ie *model.InsufficientDataError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "inverse", ie.Metric)
	assert.True(t, IsInsufficient(err))
	require.NotNil(t, res)
	assert.Equal(t, []string{"A", "B"}, res.Ranking)

	inputs["B"] = metricInputAt("B", 2, num("4", ""))
	res, err = e.Run(context.Background(), "inverse", "1 / m", []string{"A", "B"}, inputs)
	require.NoError(t, err)
	assert.True(t, num("0.25", "").Equal(res.PerEntityValue["B"].Value))
	assert.Equal(t, model.DatasetVersions{"B_2024": 2}, res.PerEntityValue["B"].Versions)
}

func TestRun_ConflictingDatapointIsCellError(t *testing.T) {
	e := New(formula.NewGraph(), nil)
	_, err := e.Run(context.Background(), "m", "m", []string{"A"}, map[string][]formula.Input{"A": metricInput("A", num("1", ""))})
	require.NoError(t, err)

	res, err := e.Run(context.Background(), "m", "m", []string{"A"}, map[string][]formula.Input{"A": metricInput("A", num("2", ""))})
	require.Error(t, err)
	assert.Contains(t, res.PerEntityValue["A"].Error, "different definition")
}

func TestRun_TextCellIsUsable(t *testing.T) {
	inputs := map[string][]formula.Input{
		"A": metricInput("A", model.Text("restated")),
		"B": metricInput("B", model.Missing()),
		"C": metricInput("C", num("1", "")),
		"Z": metricInput("Z", model.Text("n/m")),
	}
	res, err := New(formula.NewGraph(), nil).Run(context.Background(), "note", "m", []string{"B", "Z", "A", "C"}, inputs)
	require.NoError(t, err)
	assert.Equal(t, "restated", res.PerEntityValue["A"].Value.String())
	assert.Equal(t, []string{"C", "A", "Z", "B"}, res.Ranking)
}

func TestRun_CellsAreTraceable(t *testing.T) {
	g := formula.NewGraph()
	e := New(g, nil)
	inputs := map[string][]formula.Input{
		"A": metricInput("A", num("10", "USD")),
		"B": metricInput("B", num("7", "USD")),
	}

	res, err := e.Run(context.Background(), "double", "m * 2", []string{"A", "B"}, inputs)
	require.NoError(t, err)
	assert.Equal(t, model.DatasetVersions{"A_2024": 1, "B_2024": 1}, res.Versions)
	assert.Equal(t, model.DatasetVersions{"A_2024": 1}, res.PerEntityValue["A"].Versions)
	assert.Equal(t, model.DatasetVersions{"B_2024": 1}, res.PerEntityValue["B"].Versions)

	for _, ent := range []string{"A", "B"} {
		cell := res.PerEntityValue[ent]
		require.NotEmpty(t, cell.NodeID)
		assert.Equal(t, ent+"_2024", cell.Dataset)
		lineage, err := g.Lineage(cell.NodeID)
		require.NoError(t, err)
		require.Len(t, lineage, 2)
		assert.Equal(t, model.NodeRaw, lineage[0].Kind)
		assert.Equal(t, ent+"_2024", lineage[0].Source.DatasetName)
	}

	report := res.Report()
	require.Len(t, report, 2)
	assert.Equal(t, "20 USD", reportRow(report, "A").Display)
	assert.Equal(t, 1, reportRow(report, "A").Position)
}

func reportRow(rows []model.ReportRow, entity string) model.ReportRow {
	for _, r := range rows {
		if r.Entity == entity {
			return r
		}
	}
	return model.ReportRow{}
}

func TestRun_NormalizesUnitScale(t *testing.T) {
	inputs := map[string][]formula.Input{
		"A": metricInput("A", num("1.5", "USD millions")),
		"B": metricInput("B", num("2000000", "USD")),
	}
	res, err := New(formula.NewGraph(), nil).Run(context.Background(), "revenue", "m", []string{"A", "B"}, inputs)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, res.Ranking)
	assert.True(t, num("1500000", "USD").Equal(res.PerEntityValue["A"].Value))
}

func TestRun_RerunReusesNodes(t *testing.T) {
	g := formula.NewGraph()
	e := New(g, nil)
	inputs := map[string][]formula.Input{"A": metricInput("A", num("3", ""))}

	first, err := e.Run(context.Background(), "x", "m + 1", []string{"A"}, inputs)
	require.NoError(t, err)
	n := g.Len()
	second, err := e.Run(context.Background(), "x", "m + 1", []string{"A"}, inputs)
	require.NoError(t, err)

	assert.Equal(t, n, g.Len())
	assert.Equal(t, first.PerEntityValue["A"].NodeID, second.PerEntityValue["A"].NodeID)
}

func TestRun_Errors(t *testing.T) {
	e := New(formula.NewGraph(), nil)

	_, err := e.Run(context.Background(), "bad", "ratio(a,", []string{"A"}, nil)
	var pe *formula.ParseError
	require.ErrorAs(t, err, &pe)

	_, err = e.Run(context.Background(), "dup", "m", []string{"A", "A"}, nil)
	assert.Error(t, err)

	_, err = e.Run(context.Background(), "dir", "m", []string{"A"}, nil, WithDirection("sideways"))
	assert.Error(t, err)

	res, err := e.Run(context.Background(), "none", "m", []string{"A"}, nil)
	require.Error(t, err)
	assert.Equal(t, "no inputs bound", res.PerEntityValue["A"].Error)
}

func newCatalog(t *testing.T) (*dataset.Store, *index.Index) {
	t.Helper()
	s := dataset.New()
	ctx := context.Background()
	_, err := s.Ingest(ctx, "AAPL_FY", &model.Table{
		Fields:  []string{"Total Revenue", "Gross Profit", "Net Income"},
		Periods: []string{"2023", "2024"},
		Rows: [][]model.Value{
			{num("80", "USD"), num("100", "USD")},
			{num("30", "USD"), num("45", "USD")},
			{num("8", "USD"), num("12", "USD")},
		},
	})
	require.NoError(t, err)
	_, err = s.Ingest(ctx, "MSFT_FY", &model.Table{
		Fields:  []string{"Revenue", "Gross Profit", "Net Income"},
		Periods: []string{"2023", "2024"},
		Rows: [][]model.Value{
			{num("200", "USD"), num("210", "USD")},
			{num("130", "USD"), num("147", "USD")},
			{model.Missing(), num("50", "USD")},
		},
	})
	require.NoError(t, err)
	return s, index.New(s, index.DefaultFuzzyPolicy(), nil)
}

func TestRunDefinition_Presets(t *testing.T) {
	_, ix := newCatalog(t)
	e := New(formula.NewGraph(), nil)
	entities := []Entity{
		{Name: "AAPL", Dataset: "AAPL_FY"},
		{Name: "MSFT", Dataset: "MSFT_FY"},
		{Name: "GOOG", Dataset: "GOOG_FY"},
	}

	def, err := Preset("gross_margin", "2024", entities)
	require.NoError(t, err)
	res, err := e.RunDefinition(context.Background(), def, ix)
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "AAPL", "GOOG"}, res.Ranking)
	assert.True(t, num("0.7", "").Equal(res.PerEntityValue["MSFT"].Value))
	assert.True(t, num("0.45", "").Equal(res.PerEntityValue["AAPL"].Value))
	assert.Contains(t, res.PerEntityValue["GOOG"].Error, "GOOG_FY")

	def, err = Preset("revenue_growth", "2024", entities[:2])
	require.NoError(t, err)
	res, err = e.RunDefinition(context.Background(), def, ix)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, res.Ranking)
	assert.True(t, num("0.25", "").Equal(res.PerEntityValue["AAPL"].Value))
	assert.True(t, num("0.05", "").Equal(res.PerEntityValue["MSFT"].Value))

	def, err = Preset("revenue_growth", "2023", entities[:2])
	require.NoError(t, err)
	_, err = e.RunDefinition(context.Background(), def, ix)
	assert.True(t, IsInsufficient(err), "no prior period for anyone")

	_, err = Preset("ebitda_margin", "2024", entities)
	assert.Error(t, err)
	assert.Equal(t, []string{"gross_margin", "net_margin", "operating_margin", "revenue_growth"}, PresetNames())
}

func TestRunDefinition_PresetWithCostOfRevenue(t *testing.T) {
	s := dataset.New()
	_, err := s.Ingest(context.Background(), "AAPL_IS", &model.Table{
		Fields:  []string{"Total Revenue", "Cost of Revenue", "Gross Profit"},
		Periods: []string{"2024"},
		Rows: [][]model.Value{
			{num("100", "USD")},
			{num("55", "USD")},
			{num("45", "USD")},
		},
	})
	require.NoError(t, err)
	ix := index.New(s, index.DefaultFuzzyPolicy(), nil)

	def, err := Preset("gross_margin", "2024", []Entity{{Name: "AAPL", Dataset: "AAPL_IS"}})
	require.NoError(t, err)
	assert.Equal(t, InputSpec{Field: "Total Revenue"}, def.Inputs["revenue"])

	res, err := New(formula.NewGraph(), nil).RunDefinition(context.Background(), def, ix)
	require.NoError(t, err)
	cell := res.PerEntityValue["AAPL"]
	assert.Empty(t, cell.Error)
	assert.True(t, num("0.45", "").Equal(cell.Value))
}

func TestRegisterAndRunRegistered(t *testing.T) {
	s, ix := newCatalog(t)
	e := New(formula.NewGraph(), nil)

	def, err := Preset("net_margin", "2024", []Entity{{Name: "AAPL", Dataset: "AAPL_FY"}})
	require.NoError(t, err)
	require.NoError(t, e.Register(def))

	res, err := e.RunRegistered(context.Background(), "net_margin", ix)
	require.NoError(t, err)
	assert.True(t, num("0.12", "").Equal(res.PerEntityValue["AAPL"].Value))
	assert.Equal(t, model.DatasetVersions{"AAPL_FY": 1}, res.Versions)

	_, err = s.Ingest(context.Background(), "AAPL_FY", &model.Table{
		Fields:  []string{"Revenue", "Net Income"},
		Periods: []string{"2024"},
		Rows:    [][]model.Value{{num("100", "USD")}, {num("20", "USD")}},
	})
	require.NoError(t, err)
	res, err = e.RunRegistered(context.Background(), "net_margin", ix)
	require.NoError(t, err)
	assert.True(t, num("0.2", "").Equal(res.PerEntityValue["AAPL"].Value))
	assert.Equal(t, model.DatasetVersions{"AAPL_FY": 2}, res.Versions)

	_, err = e.RunRegistered(context.Background(), "unknown", ix)
	var nr *NotRegisteredError
	assert.ErrorAs(t, err, &nr)
	assert.Len(t, e.Definitions(), 1)
}

func TestParseDefinitions(t *testing.T) {
	yml := `
- name: gross_margin
  formula: ratio(gp, rev)
  period: "2024"
  inputs:
    gp: Gross Profit
    rev:
      field: Revenue
  entities:
    - name: AAPL
      dataset: AAPL_FY
- name: growth
  formula: growth_rate(rev, prior)
  direction: asc
  period: "2024"
  inputs:
    rev: Revenue
    prior: {field: Revenue, offset: -1}
  entities:
    - {name: MSFT, dataset: MSFT_FY}
`
	defs, err := ParseDefinitions([]byte(yml))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, InputSpec{Field: "Gross Profit"}, defs[0].Inputs["gp"])
	assert.Equal(t, InputSpec{Field: "Revenue"}, defs[0].Inputs["rev"])
	assert.Equal(t, InputSpec{Field: "Revenue", Offset: -1}, defs[1].Inputs["prior"])
	assert.Equal(t, model.Ascending, defs[1].Direction)

	single, err := ParseDefinitions([]byte("name: one\nformula: a\nperiod: '2024'\ninputs: {a: Revenue}\n"))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "one", single[0].Name)

	_, err = ParseDefinitions([]byte("name: bad\nformula: a + b\ninputs: {a: Revenue}\n"))
	assert.ErrorContains(t, err, `"b"`)
}

func TestMovements(t *testing.T) {
	s := dataset.New()
	_, err := s.Ingest(context.Background(), "AAPL_Q", &model.Table{
		Fields:  []string{"Revenue"},
		Periods: []string{"Q1 2024", "Q2 2024", "Q3 2024"},
		Rows:    [][]model.Value{{num("100", "USD"), model.Missing(), num("150", "USD")}},
	})
	require.NoError(t, err)
	ix := index.New(s, index.DefaultFuzzyPolicy(), nil)
	g := formula.NewGraph()

	series, err := New(g, nil).Movements(context.Background(), ix, "AAPL_Q", "revenue")
	require.NoError(t, err)
	assert.Equal(t, "Revenue", series.Field)
	assert.Equal(t, TrendIncreasing, series.Trend)
	require.Len(t, series.Points, 2)

	assert.Equal(t, "Q1 2024", series.Points[0].From)
	assert.True(t, series.Points[0].Change.IsMissing())
	assert.True(t, series.Points[1].Growth.IsMissing())

	growth, err := g.Node(series.Points[0].GrowthNodeID)
	require.NoError(t, err)
	assert.Equal(t, "growth_rate(current, prior)", growth.Formula)
}

func TestTrend(t *testing.T) {
	dp := func(v model.Value) model.Datapoint { return model.Datapoint{Value: v} }
	assert.Equal(t, TrendDecreasing, trend([]model.Datapoint{dp(num("5", "")), dp(num("3", ""))}))
	assert.Equal(t, TrendStable, trend([]model.Datapoint{dp(num("5", "")), dp(num("5", ""))}))
	assert.Equal(t, TrendStable, trend([]model.Datapoint{dp(num("5", "")), dp(model.Missing())}))
	assert.Equal(t, TrendStable, trend(nil))
}
