package source

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lineage-cli/internal/model"
)

// XLSXOptions configures the XLSX adapter.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	Table      TableOptions
}

// XLSXSource reads one worksheet of a workbook.
type XLSXSource struct {
	Path string
	Opts XLSXOptions
}

// NewXLSXSource creates an XLSXSource for a workbook path.
func NewXLSXSource(path string, opts XLSXOptions) *XLSXSource {
	return &XLSXSource{Path: path, Opts: opts}
}

// Identity returns "xlsx:<path>#<sheet>".
func (s *XLSXSource) Identity() string {
	if s.Opts.SheetName != "" {
		return "xlsx:" + s.Path + "#" + s.Opts.SheetName
	}
	return fmt.Sprintf("xlsx:%s#%d", s.Path, s.Opts.SheetIndex)
}

// FetchTabular opens the workbook and converts the selected sheet.
func (s *XLSXSource) FetchTabular(ctx context.Context) (*model.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "xlsx: context cancelled")
	}
	f, err := xlsx.OpenFile(s.Path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	return tableFromWorkbook(ctx, f, s.Identity(), s.Opts)
}

// ReadXLSXBytes parses a workbook held in memory, as delivered by HTTPSource.
func ReadXLSXBytes(ctx context.Context, data []byte, identity string, opts XLSXOptions) (*model.Table, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open binary")
	}
	return tableFromWorkbook(ctx, f, identity, opts)
}

func tableFromWorkbook(ctx context.Context, f *xlsx.File, identity string, opts XLSXOptions) (*model.Table, error) {
	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
		rows = append(rows, rowToStrings(row))
	}
	return TableFromRows(identity, rows, opts.Table)
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
