package model

import (
	"fmt"
	"strings"
)

// SchemaError reports ingestion input that is not a valid rectangular table.
type SchemaError struct {
	Dataset string
	Field   string
	Period  string
	Reason  string
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema error in dataset %q", e.Dataset)
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if e.Period != "" {
		fmt.Fprintf(&b, " period %q", e.Period)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// DatasetNotFoundError reports an unknown dataset name or version.
type DatasetNotFoundError struct {
	Dataset   string
	Version   int
	Available []string
}

func (e *DatasetNotFoundError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("dataset %q version %d not found", e.Dataset, e.Version)
	}
	return fmt.Sprintf("dataset %q not found", e.Dataset)
}

// PeriodNotFoundError reports a period label absent from a dataset version.
type PeriodNotFoundError struct {
	Dataset   string
	Version   int
	Period    string
	Available []string
}

func (e *PeriodNotFoundError) Error() string {
	return fmt.Sprintf("period %q not found in dataset %q version %d", e.Period, e.Dataset, e.Version)
}

// FieldNotFoundError reports a field with no exact or fuzzy match.
type FieldNotFoundError struct {
	Dataset     string
	Version     int
	Field       string
	Suggestions []string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("field %q not found in dataset %q version %d", e.Field, e.Dataset, e.Version)
}

// FieldCandidate is one fuzzy match considered during lookup.
type FieldCandidate struct {
	Field string `json:"field"`
	Score int    `json:"score"`
}

// AmbiguousFieldError reports a fuzzy lookup whose best score was not
// strictly better than the runner-up.
type AmbiguousFieldError struct {
	Dataset    string
	Version    int
	Field      string
	Candidates []FieldCandidate
}

func (e *AmbiguousFieldError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.Field
	}
	return fmt.Sprintf("field %q is ambiguous in dataset %q version %d: %s",
		e.Field, e.Dataset, e.Version, strings.Join(names, ", "))
}

// CycleError reports a define that would make the provenance graph cyclic.
type CycleError struct {
	NodeID string
	Path   []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("node %q would introduce a cycle: %s", e.NodeID, strings.Join(e.Path, " -> "))
}

// InsufficientDataError reports a benchmark where no entity produced a value.
type InsufficientDataError struct {
	Metric   string
	Entities []string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("benchmark %q has no usable value for any of %d entities", e.Metric, len(e.Entities))
}

// SourceUnavailableError reports a TabularSource that failed or timed out.
// It is retryable; the core never retries on its own.
type SourceUnavailableError struct {
	Dataset string
	Source  string
	Err     error
}

func (e *SourceUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("source %q unavailable for dataset %q", e.Source, e.Dataset)
	}
	return fmt.Sprintf("source %q unavailable for dataset %q: %v", e.Source, e.Dataset, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// Transient marks the error as safe to retry.
func (e *SourceUnavailableError) Transient() bool {
	return true
}
