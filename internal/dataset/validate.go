package dataset

import (
	"fmt"

	"github.com/sells-group/lineage-cli/internal/model"
)

// Validate checks that table is a rectangular field x period matrix with
// non-empty, unique labels after normalization. It returns the cleaned
// display labels to store.
func Validate(name string, table *model.Table) (fields, periods []string, err error) {
	if name == "" {
		return nil, nil, &model.SchemaError{Reason: "dataset name is empty"}
	}
	if len(table.Fields) == 0 {
		return nil, nil, &model.SchemaError{Dataset: name, Reason: "no fields declared"}
	}
	if len(table.Periods) == 0 {
		return nil, nil, &model.SchemaError{Dataset: name, Reason: "no periods declared"}
	}
	if len(table.Rows) != len(table.Fields) {
		return nil, nil, &model.SchemaError{
			Dataset: name,
			Reason:  fmt.Sprintf("%d fields declared but %d rows supplied", len(table.Fields), len(table.Rows)),
		}
	}

	periods = make([]string, len(table.Periods))
	seenPeriod := make(map[string]string, len(table.Periods))
	for j, p := range table.Periods {
		label := model.CleanLabel(p)
		norm := model.NormalizePeriod(label)
		if norm == "" {
			return nil, nil, &model.SchemaError{Dataset: name, Period: p, Reason: "empty period label"}
		}
		if prev, dup := seenPeriod[norm]; dup {
			return nil, nil, &model.SchemaError{
				Dataset: name,
				Period:  p,
				Reason:  fmt.Sprintf("period collides with %q after normalization", prev),
			}
		}
		seenPeriod[norm] = p
		periods[j] = label
	}

	fields = make([]string, len(table.Fields))
	seenField := make(map[string]string, len(table.Fields))
	for i, f := range table.Fields {
		label := model.CleanLabel(f)
		norm := model.NormalizeField(label)
		if norm == "" {
			return nil, nil, &model.SchemaError{Dataset: name, Field: f, Reason: "empty field label"}
		}
		if prev, dup := seenField[norm]; dup {
			return nil, nil, &model.SchemaError{
				Dataset: name,
				Field:   f,
				Reason:  fmt.Sprintf("field collides with %q after normalization", prev),
			}
		}
		seenField[norm] = f
		fields[i] = label

		row := table.Rows[i]
		if len(row) != len(table.Periods) {
			return nil, nil, &model.SchemaError{
				Dataset: name,
				Field:   f,
				Reason:  fmt.Sprintf("row has %d values for %d periods", len(row), len(table.Periods)),
			}
		}
		for j, v := range row {
			switch v.Kind {
			case "", model.ValueMissing, model.ValueNumeric, model.ValueText:
			default:
				return nil, nil, &model.SchemaError{
					Dataset: name,
					Field:   f,
					Period:  table.Periods[j],
					Reason:  fmt.Sprintf("unknown value kind %q", v.Kind),
				}
			}
		}
	}
	return fields, periods, nil
}
