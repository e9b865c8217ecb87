package model

import "time"

// Table is the rectangular shape a TabularSource adapter hands to the core.
// Rows[i][j] is the value of Fields[i] at Periods[j].
type Table struct {
	SourceIdentity string    `json:"source_identity"`
	Fields         []string  `json:"fields"`
	Periods        []string  `json:"periods"`
	Rows           [][]Value `json:"rows"`
}

// CellKey addresses one value inside a dataset snapshot. Both parts are normalized.
type CellKey struct {
	Field  string
	Period string
}

// Dataset is one immutable, versioned field x period snapshot. Callers must
// not modify the slices it exposes; re-ingestion produces a new Dataset.
type Dataset struct {
	Name           string    `json:"name"`
	Version        int       `json:"version"`
	SourceIdentity string    `json:"source_identity"`
	Fields         []string  `json:"fields"`
	Periods        []string  `json:"periods"`
	IngestedAt     time.Time `json:"ingested_at"`

	cells        map[CellKey]Value
	fieldByNorm  map[string]int
	periodByNorm map[string]int
}

// NewDataset builds a snapshot from labels and a rows matrix that has already
// been validated as rectangular with unique normalized labels.
func NewDataset(name string, version int, source string, fields, periods []string, rows [][]Value, at time.Time) *Dataset {
	d := &Dataset{
		Name:           name,
		Version:        version,
		SourceIdentity: source,
		Fields:         fields,
		Periods:        periods,
		IngestedAt:     at,
		cells:          make(map[CellKey]Value, len(fields)*len(periods)),
		fieldByNorm:    make(map[string]int, len(fields)),
		periodByNorm:   make(map[string]int, len(periods)),
	}
	for i, f := range fields {
		d.fieldByNorm[NormalizeField(f)] = i
	}
	for j, p := range periods {
		d.periodByNorm[NormalizePeriod(p)] = j
	}
	for i, f := range fields {
		nf := NormalizeField(f)
		for j, p := range periods {
			d.cells[CellKey{Field: nf, Period: NormalizePeriod(p)}] = rows[i][j]
		}
	}
	return d
}

// Cell returns the value at (field, period) using the dataset's own labels.
// Absent keys and holes both yield Missing.
func (d *Dataset) Cell(field, period string) Value {
	return d.cells[CellKey{Field: NormalizeField(field), Period: NormalizePeriod(period)}]
}

// FieldLabel returns the stored label for a normalized field name.
func (d *Dataset) FieldLabel(normalized string) (string, bool) {
	i, ok := d.fieldByNorm[normalized]
	if !ok {
		return "", false
	}
	return d.Fields[i], true
}

// PeriodLabel returns the stored label matching period after normalization.
func (d *Dataset) PeriodLabel(period string) (string, bool) {
	j, ok := d.periodByNorm[NormalizePeriod(period)]
	if !ok {
		return "", false
	}
	return d.Periods[j], true
}

// Rows returns the value matrix in field-major order.
func (d *Dataset) Rows() [][]Value {
	rows := make([][]Value, len(d.Fields))
	for i, f := range d.Fields {
		rows[i] = make([]Value, len(d.Periods))
		for j, p := range d.Periods {
			rows[i][j] = d.Cell(f, p)
		}
	}
	return rows
}

// Datapoints counts cells that are not Missing.
func (d *Dataset) Datapoints() int {
	var n int
	for _, v := range d.cells {
		if !v.IsMissing() {
			n++
		}
	}
	return n
}

// Info summarizes the dataset for listing.
func (d *Dataset) Info() DatasetInfo {
	return DatasetInfo{
		Name:           d.Name,
		Version:        d.Version,
		SourceIdentity: d.SourceIdentity,
		IngestedAt:     d.IngestedAt,
		FieldCount:     len(d.Fields),
		PeriodCount:    len(d.Periods),
		Datapoints:     d.Datapoints(),
	}
}

// DatasetInfo is one entry of DatasetStore.List.
type DatasetInfo struct {
	Name           string    `json:"name"`
	Version        int       `json:"version"`
	SourceIdentity string    `json:"source_identity"`
	IngestedAt     time.Time `json:"ingested_at"`
	FieldCount     int       `json:"field_count"`
	PeriodCount    int       `json:"period_count"`
	Datapoints     int       `json:"datapoints"`
}

// DatapointKey names a datapoint independent of dataset version.
type DatapointKey struct {
	Dataset string `json:"dataset"`
	Field   string `json:"field"`
	Period  string `json:"period"`
}

// String renders the key in token form, "dataset.field.period".
func (k DatapointKey) String() string {
	return k.Dataset + "." + k.Field + "." + k.Period
}

// MatchKind records how the requested field resolved to a stored field.
type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchFuzzy MatchKind = "fuzzy"
)

// DatapointProvenance records where a datapoint came from.
type DatapointProvenance struct {
	SourceIdentity string    `json:"source_identity"`
	IngestedAt     time.Time `json:"ingested_at"`
	RequestedField string    `json:"requested_field"`
	Match          MatchKind `json:"match"`
	MatchScore     int       `json:"match_score,omitempty"`
}

// Datapoint is a resolved view of one dataset cell at a specific version.
type Datapoint struct {
	DatasetName    string              `json:"dataset_name"`
	DatasetVersion int                 `json:"dataset_version"`
	Field          string              `json:"field"`
	Period         string              `json:"period"`
	Value          Value               `json:"value"`
	Provenance     DatapointProvenance `json:"provenance"`
}

// Key returns the version-independent key using the stored labels.
func (d Datapoint) Key() DatapointKey {
	return DatapointKey{Dataset: d.DatasetName, Field: d.Field, Period: d.Period}
}
