package model

import "time"

// Direction is the comparison order used to rank benchmark results.
type Direction string

const (
	Descending Direction = "desc"
	Ascending  Direction = "asc"
)

// BenchmarkCell is one entity's computed metric.
type BenchmarkCell struct {
	Entity   string          `json:"entity"`
	Value    Value           `json:"value"`
	NodeID   string          `json:"node_id"`
	Rank     int             `json:"rank"`
	Error    string          `json:"error,omitempty"`
	Dataset  string          `json:"dataset,omitempty"`
	Versions DatasetVersions `json:"versions,omitempty"` // datasets in this cell's lineage
}

// BenchmarkResult is the ranked, provenance-backed output of one benchmark run.
type BenchmarkResult struct {
	MetricName     string                   `json:"metric_name"`
	Formula        string                   `json:"formula"`
	Direction      Direction                `json:"direction"`
	Entities       []string                 `json:"entities"`
	PerEntityValue map[string]BenchmarkCell `json:"per_entity_value"`
	Ranking        []string                 `json:"ranking"`
	Versions       DatasetVersions          `json:"versions,omitempty"`
	ComputedAt     time.Time                `json:"computed_at"`
}

// Cell returns the cell for entity.
func (r *BenchmarkResult) Cell(entity string) (BenchmarkCell, bool) {
	c, ok := r.PerEntityValue[entity]
	return c, ok
}

// ReportRow is one line of the benchmark report shape.
type ReportRow struct {
	Position int    `json:"position"`
	Entity   string `json:"entity"`
	Value    Value  `json:"value"`
	Display  string `json:"display"`
	NodeID   string `json:"node_id"`
}

// Report lists entities in ranking order with their position and provenance pointer.
func (r *BenchmarkResult) Report() []ReportRow {
	rows := make([]ReportRow, 0, len(r.Ranking))
	for _, e := range r.Ranking {
		c := r.PerEntityValue[e]
		rows = append(rows, ReportRow{
			Position: c.Rank,
			Entity:   e,
			Value:    c.Value,
			Display:  c.Value.String(),
			NodeID:   c.NodeID,
		})
	}
	return rows
}
