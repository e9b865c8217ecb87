package source

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lineage-cli/internal/model"
)

// CSVOptions configures the CSV adapter.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	Table      TableOptions
}

// CSVSource reads a statement laid out as a header row of periods and one
// row per field.
type CSVSource struct {
	Path string
	Opts CSVOptions
}

// NewCSVSource creates a CSVSource for a file path.
func NewCSVSource(path string, opts CSVOptions) *CSVSource {
	return &CSVSource{Path: path, Opts: opts}
}

// Identity returns "csv:<path>".
func (s *CSVSource) Identity() string {
	return "csv:" + s.Path
}

// FetchTabular opens the file and parses it.
func (s *CSVSource) FetchTabular(ctx context.Context) (*model.Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck

	return ReadCSVTable(ctx, f, s.Identity(), s.Opts)
}

// ReadCSVTable parses CSV content from r into a Table.
func ReadCSVTable(ctx context.Context, r io.Reader, identity string, opts CSVOptions) (*model.Table, error) {
	rows, err := ReadCSV(ctx, r, opts)
	if err != nil {
		return nil, err
	}
	return TableFromRows(identity, rows, opts.Table)
}

// ReadCSV reads every record, trimming cells and allowing ragged rows.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([][]string, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields

	var rows [][]string
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		rows = append(rows, record)
	}
}
