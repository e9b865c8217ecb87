package source

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/lineage-cli/internal/model"
)

// ValueOptions sets the unit and currency applied to parsed numeric cells
// that carry no marker of their own.
type ValueOptions struct {
	Unit     string
	Currency string
}

// missingMarkers are cell texts that mean "no data".
var missingMarkers = map[string]bool{
	"":        true,
	"-":       true,
	"--":      true,
	"—":       true,
	"–":       true,
	"n/a":     true,
	"na":      true,
	"n.a.":    true,
	"null":    true,
	"none":    true,
	"nan":     true,
	"#n/a":    true,
	"#div/0!": true,
	"#value!": true,
	"#ref!":   true,
}

var numericRe = regexp.MustCompile(`^[-+]?(\d+(\.\d*)?|\.\d+)([eE][-+]?\d+)?$`)

// ParseValue converts a spreadsheet cell into a Value.
//
//	""  "-"  "N/A"  "#DIV/0!"  -> Missing
//	"(21.0)"                   -> -21.0
//	"$1,234"                   -> 1234 with currency USD
//	"4.5%"                     -> 4.5 with unit "%"
//	"see note 4"               -> Text
func ParseValue(raw string, opts ValueOptions) model.Value {
	s := strings.TrimSpace(raw)
	if missingMarkers[strings.ToLower(s)] {
		return model.Missing()
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	unit := opts.Unit
	currency := opts.Currency
	if strings.HasSuffix(s, "%") {
		unit = "%"
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	if strings.Contains(s, "$") {
		if currency == "" {
			currency = "USD"
		}
		if unit == "" {
			unit = currency
		}
		s = strings.ReplaceAll(s, "$", "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") && negative {
		return model.Text(strings.TrimSpace(raw))
	}

	if !numericRe.MatchString(s) {
		return model.Text(strings.TrimSpace(raw))
	}
	amt, err := decimal.NewFromString(s)
	if err != nil {
		return model.Text(strings.TrimSpace(raw))
	}
	if negative {
		amt = amt.Neg()
	}
	if currency != "" {
		return model.NumericWithCurrency(amt, unit, currency)
	}
	return model.Numeric(amt, unit)
}

// TableOptions controls how a raw string matrix becomes a Table.
type TableOptions struct {
	// FieldColumn is the header label of the column holding field names.
	// Empty means the first column.
	FieldColumn string

	// PeriodColumns restricts periods to these header labels, in order.
	// Empty means every header column except the field column.
	PeriodColumns []string

	// SkipRows drops leading rows before the header.
	SkipRows int

	// AutoHeader finds the header with DetectHeaderRow instead of using
	// the first row after SkipRows.
	AutoHeader bool

	// SkipBlankFields drops rows whose field label is empty.
	SkipBlankFields bool

	Values ValueOptions
}

// TableFromRows builds a Table from a header row followed by one row per
// field. Short rows are padded with Missing so the result is rectangular;
// label validation is left to the DatasetStore.
func TableFromRows(identity string, rows [][]string, opts TableOptions) (*model.Table, error) {
	if opts.SkipRows > 0 {
		if opts.SkipRows >= len(rows) {
			return nil, &model.SchemaError{Dataset: identity, Reason: "no header row after skipped rows"}
		}
		rows = rows[opts.SkipRows:]
	}
	if opts.AutoHeader {
		idx := DetectHeaderRow(rows)
		if idx < 0 {
			return nil, &model.SchemaError{Dataset: identity, Reason: "no period header row detected"}
		}
		rows = rows[idx:]
	}
	if len(rows) == 0 {
		return nil, &model.SchemaError{Dataset: identity, Reason: "empty table"}
	}

	header := rows[0]
	fieldCol := 0
	if opts.FieldColumn != "" {
		fieldCol = indexOf(header, opts.FieldColumn)
		if fieldCol < 0 {
			return nil, &model.SchemaError{Dataset: identity, Reason: "field column " + opts.FieldColumn + " not in header"}
		}
	}

	var periodCols []int
	if len(opts.PeriodColumns) > 0 {
		for _, p := range opts.PeriodColumns {
			i := indexOf(header, p)
			if i < 0 {
				return nil, &model.SchemaError{Dataset: identity, Period: p, Reason: "period column not in header"}
			}
			periodCols = append(periodCols, i)
		}
	} else {
		for i, h := range header {
			if i == fieldCol || strings.TrimSpace(h) == "" {
				continue
			}
			periodCols = append(periodCols, i)
		}
	}

	t := &model.Table{SourceIdentity: identity}
	for _, i := range periodCols {
		t.Periods = append(t.Periods, strings.TrimSpace(header[i]))
	}

	for _, row := range rows[1:] {
		label := ""
		if fieldCol < len(row) {
			label = row[fieldCol]
		}
		if strings.TrimSpace(label) == "" {
			if opts.SkipBlankFields || isBlankRow(row) {
				continue
			}
		}
		values := make([]model.Value, len(periodCols))
		for j, col := range periodCols {
			if col < len(row) {
				values[j] = ParseValue(row[col], opts.Values)
			} else {
				values[j] = model.Missing()
			}
		}
		t.Fields = append(t.Fields, label)
		t.Rows = append(t.Rows, values)
	}
	return t, nil
}

func indexOf(header []string, label string) int {
	want := model.NormalizePeriod(label)
	for i, h := range header {
		if model.NormalizePeriod(h) == want {
			return i
		}
	}
	return -1
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
