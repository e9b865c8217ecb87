package model

import "time"

// NodeKind distinguishes source values from computed ones.
type NodeKind string

const (
	NodeRaw     NodeKind = "raw"
	NodeDerived NodeKind = "derived"
)

// ProvenanceNode is one immutable node of the lineage DAG. Raw nodes carry
// the datapoint they were taken from; derived nodes carry the formula and
// the ordered ids of their inputs (InputNames[i] is the formula name bound
// to Inputs[i]).
type ProvenanceNode struct {
	ID         string     `json:"id"`
	Kind       NodeKind   `json:"kind"`
	Formula    string     `json:"formula,omitempty"`
	Inputs     []string   `json:"inputs,omitempty"`
	InputNames []string   `json:"input_names,omitempty"`
	Source     *Datapoint `json:"source,omitempty"`
	Value      Value      `json:"computed_value"`
	Evaluated  bool       `json:"evaluated"`
	Error      string     `json:"error,omitempty"`
	ComputedAt time.Time  `json:"computed_at"`
}

// DatasetVersions collects every dataset version a node depends on,
// keyed by dataset name.
type DatasetVersions map[string]int

// Merge records v for name, keeping the highest version seen.
func (dv DatasetVersions) Merge(name string, v int) {
	if cur, ok := dv[name]; !ok || v > cur {
		dv[name] = v
	}
}
