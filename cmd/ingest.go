package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lineage-cli/internal/config"
	"github.com/sells-group/lineage-cli/internal/model"
	"github.com/sells-group/lineage-cli/internal/resilience"
	"github.com/sells-group/lineage-cli/internal/source"
)

type ingestFlags struct {
	name        string
	format      string
	sheet       string
	sheetIndex  int
	unit        string
	currency    string
	fieldColumn string
	periods     []string
	skipRows    int
	autoHeader  bool
	delimiter   string
}

var ingestOpts ingestFlags

var ingestCmd = &cobra.Command{
	Use:   "ingest <path|url>",
	Short: "Ingest a CSV, XLSX or HTTP-hosted statement as a new dataset version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		src, err := buildSource(args[0], ingestOpts, cfg.Source)
		if err != nil {
			return err
		}

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close() //nolint:errcheck

		rc := resilience.NewRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs)
		rc.OnRetry = resilience.RetryLogger("ingest", zap.String("source", src.Identity()))
		ds, err := resilience.Do(ctx, rc, func(ctx context.Context) (*model.Dataset, error) {
			return e.IngestFrom(ctx, ingestOpts.name, src)
		})
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		formatDatasetInfo(os.Stdout, ds.Info())
		return nil
	},
}

// buildSource picks the adapter for target: http(s) URLs use the HTTP
// adapter, .xlsx paths the workbook adapter, anything else CSV.
func buildSource(target string, f ingestFlags, sc config.SourceConfig) (source.TabularSource, error) {
	table := source.TableOptions{
		FieldColumn:     f.fieldColumn,
		PeriodColumns:   f.periods,
		SkipRows:        f.skipRows,
		AutoHeader:      f.autoHeader,
		SkipBlankFields: true,
		Values:          source.ValueOptions{Unit: f.unit, Currency: f.currency},
	}
	csvOpts := source.CSVOptions{LazyQuotes: true, Table: table}
	if f.delimiter != "" {
		r := []rune(f.delimiter)
		if len(r) != 1 {
			return nil, eris.Errorf("ingest: delimiter %q must be one character", f.delimiter)
		}
		csvOpts.Delimiter = r[0]
	}
	xlsxOpts := source.XLSXOptions{SheetIndex: f.sheetIndex, SheetName: f.sheet, Table: table}

	format := strings.ToLower(f.format)
	switch format {
	case "", "csv", "xlsx":
	default:
		return nil, eris.Errorf("ingest: unknown format %q", f.format)
	}

	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		var limiter *rate.Limiter
		if sc.RateLimitPerSec > 0 {
			limiter = rate.NewLimiter(rate.Limit(sc.RateLimitPerSec), 1)
		}
		return source.NewHTTPSource(target, source.HTTPOptions{
			UserAgent: sc.UserAgent,
			Timeout:   sc.Timeout(),
			Limiter:   limiter,
			Format:    source.Format(format),
			CSV:       csvOpts,
			XLSX:      xlsxOpts,
		}), nil
	}

	if format == "xlsx" || (format == "" && strings.EqualFold(filepath.Ext(target), ".xlsx")) {
		return source.NewXLSXSource(target, xlsxOpts), nil
	}
	return source.NewCSVSource(target, csvOpts), nil
}

func formatDatasetInfo(w io.Writer, info model.DatasetInfo) {
	fmt.Fprintf(w, "Ingested %s version %d from %s\n", info.Name, info.Version, info.SourceIdentity)
	fmt.Fprintf(w, "  fields: %d  periods: %d  datapoints: %d\n", info.FieldCount, info.PeriodCount, info.Datapoints)
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestOpts.name, "name", "", "dataset name (required)")
	f.StringVar(&ingestOpts.format, "format", "", "csv or xlsx (default from extension)")
	f.StringVar(&ingestOpts.sheet, "sheet", "", "worksheet name for xlsx sources")
	f.IntVar(&ingestOpts.sheetIndex, "sheet-index", 0, "worksheet index for xlsx sources")
	f.StringVar(&ingestOpts.unit, "unit", "", "unit applied to numeric cells, e.g. \"USD millions\"")
	f.StringVar(&ingestOpts.currency, "currency", "", "currency applied to numeric cells")
	f.StringVar(&ingestOpts.fieldColumn, "field-column", "", "header label of the field-name column (default first column)")
	f.StringSliceVar(&ingestOpts.periods, "periods", nil, "restrict to these period columns")
	f.IntVar(&ingestOpts.skipRows, "skip-rows", 0, "leading rows to drop before the header")
	f.BoolVar(&ingestOpts.autoHeader, "auto-header", false, "detect the header row from period-like labels")
	f.StringVar(&ingestOpts.delimiter, "delimiter", "", "CSV delimiter (default ',')")
	_ = ingestCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(ingestCmd)
}
