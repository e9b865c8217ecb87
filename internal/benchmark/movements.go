package benchmark

import (
	"context"
	"errors"

	"github.com/sells-group/lineage-cli/internal/formula"
	"github.com/sells-group/lineage-cli/internal/index"
	"github.com/sells-group/lineage-cli/internal/model"
)

// Trend classifies a movement series.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Movement is the change of one field between two consecutive periods.
type Movement struct {
	From         string      `json:"from"`
	To           string      `json:"to"`
	FromValue    model.Value `json:"from_value"`
	ToValue      model.Value `json:"to_value"`
	Change       model.Value `json:"change"`
	ChangeNodeID string      `json:"change_node_id"`
	Growth       model.Value `json:"growth"`
	GrowthNodeID string      `json:"growth_node_id"`
}

// MovementSeries is the period-over-period history of one field.
type MovementSeries struct {
	Dataset string     `json:"dataset"`
	Version int        `json:"version"`
	Field   string     `json:"field"`
	Points  []Movement `json:"points"`
	Trend   Trend      `json:"trend"`
}

// Movements computes absolute and relative change of field across every
// consecutive pair of periods of the latest dataset version. Each change
// is a provenance node.
func (e *Engine) Movements(ctx context.Context, cat Catalog, dataset, field string) (*MovementSeries, error) {
	periods, version, err := cat.Periods(dataset, 0)
	if err != nil {
		return nil, err
	}

	dps := make([]model.Datapoint, len(periods))
	for i, p := range periods {
		dp, err := cat.Lookup(dataset, field, p, index.WithVersion(version))
		if err != nil {
			return nil, err
		}
		dps[i] = dp
	}

	series := &MovementSeries{Dataset: dataset, Version: version, Trend: TrendStable}
	if len(dps) > 0 {
		series.Field = dps[0].Field
	}
	for i := 1; i < len(dps); i++ {
		prev, cur := dps[i-1], dps[i]
		inputs := []formula.Input{
			formula.DatapointInput("current", cur),
			formula.DatapointInput("prior", prev),
		}
		m := Movement{From: prev.Period, To: cur.Period, FromValue: prev.Value, ToValue: cur.Value}

		if m.Change, m.ChangeNodeID, err = e.defineAndEval(ctx, "current - prior", inputs); err != nil {
			return nil, err
		}
		if m.Growth, m.GrowthNodeID, err = e.defineAndEval(ctx, "growth_rate(current, prior)", inputs); err != nil {
			return nil, err
		}
		series.Points = append(series.Points, m)
	}
	series.Trend = trend(dps)
	return series, nil
}

func (e *Engine) defineAndEval(ctx context.Context, expr string, inputs []formula.Input) (model.Value, string, error) {
	n, err := e.graph.Define(ctx, expr, inputs)
	if err != nil {
		return model.Value{}, "", err
	}
	v, err := e.graph.Evaluate(ctx, n.ID)
	var ee *formula.EvalError
	if errors.As(err, &ee) {
		return model.Missing(), n.ID, nil
	}
	if err != nil {
		return model.Value{}, n.ID, err
	}
	return v, n.ID, nil
}

// trend compares the first and last numeric values of the series.
func trend(dps []model.Datapoint) Trend {
	var first, last *model.Value
	for i := range dps {
		v := model.NormalizeUnit(dps[i].Value)
		if !v.IsNumeric() {
			continue
		}
		if first == nil {
			first = &v
		}
		last = &v
	}
	if first == nil || last == first {
		return TrendStable
	}
	switch last.Amount.Cmp(first.Amount) {
	case 1:
		return TrendIncreasing
	case -1:
		return TrendDecreasing
	}
	return TrendStable
}
