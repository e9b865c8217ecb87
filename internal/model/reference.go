package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ReferenceState is derived on read; see Reference.State.
type ReferenceState string

const (
	RefUnbound  ReferenceState = "unbound"
	RefPending  ReferenceState = "pending"
	RefResolved ReferenceState = "resolved"
	RefStale    ReferenceState = "stale"
)

// TargetKind selects how a reference target is resolved.
type TargetKind string

const (
	TargetDatapoint TargetKind = "datapoint"
	TargetBenchmark TargetKind = "benchmark"
)

// Target is what a reference points at: a datapoint key or a benchmark cell.
type Target struct {
	Kind      TargetKind   `json:"kind"`
	Datapoint DatapointKey `json:"datapoint,omitempty"`
	Benchmark string       `json:"benchmark,omitempty"`
	Entity    string       `json:"entity,omitempty"`
}

// DatapointTarget targets dataset.field.period.
func DatapointTarget(dataset, field, period string) Target {
	return Target{Kind: TargetDatapoint, Datapoint: DatapointKey{Dataset: dataset, Field: field, Period: period}}
}

// BenchmarkTarget targets one entity's cell of a named benchmark.
func BenchmarkTarget(benchmark, entity string) Target {
	return Target{Kind: TargetBenchmark, Benchmark: benchmark, Entity: entity}
}

// Token renders the target in document token form.
func (t Target) Token() string {
	return "{{" + t.String() + "}}"
}

// String renders the target without braces.
func (t Target) String() string {
	if t.Kind == TargetBenchmark {
		return t.Benchmark + "." + t.Entity
	}
	return t.Datapoint.String()
}

// ParseTarget parses the inside of a token. Two segments address a benchmark
// cell; three or more address a datapoint, where the first segment is the
// dataset, the last is the period, and everything between is the field (so
// field labels may contain dots).
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	first := strings.Index(s, ".")
	last := strings.LastIndex(s, ".")
	if first <= 0 || last == len(s)-1 {
		return Target{}, eris.Errorf("reference: malformed target %q", s)
	}
	if first == last {
		return BenchmarkTarget(strings.TrimSpace(s[:first]), strings.TrimSpace(s[first+1:])), nil
	}
	field := strings.TrimSpace(s[first+1 : last])
	if field == "" {
		return Target{}, eris.Errorf("reference: empty field in target %q", s)
	}
	return DatapointTarget(strings.TrimSpace(s[:first]), field, strings.TrimSpace(s[last+1:])), nil
}

// Reference is a placeholder bound into a document. Its state is never
// stored: it is computed from LastResolvedAt and the dataset versions the
// last resolution used.
type Reference struct {
	TokenID           string          `json:"token_id"`
	DocumentID        string          `json:"document_id"`
	Target            Target          `json:"target"`
	Bound             bool            `json:"bound"`
	LastResolvedValue Value           `json:"last_resolved_value"`
	LastResolvedAt    time.Time       `json:"last_resolved_at"`
	ResolvedVersions  DatasetVersions `json:"resolved_versions,omitempty"`
	NodeID            string          `json:"node_id,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// VersionLookup returns the latest version of a dataset name.
type VersionLookup func(name string) (int, bool)

// State derives the reference state against the current latest versions.
func (r Reference) State(latest VersionLookup) ReferenceState {
	if r.LastResolvedAt.IsZero() {
		if r.Bound {
			return RefPending
		}
		return RefUnbound
	}
	for name, v := range r.ResolvedVersions {
		if cur, ok := latest(name); ok && cur > v {
			return RefStale
		}
	}
	return RefResolved
}
