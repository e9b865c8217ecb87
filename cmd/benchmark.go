package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lineage-cli/internal/benchmark"
	"github.com/sells-group/lineage-cli/internal/model"
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Compare a metric across entities",
}

// -- benchmark run --

var benchmarkRunName string

var benchmarkRunCmd = &cobra.Command{
	Use:   "run <definitions.yaml>",
	Short: "Run metric definitions from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		defs, err := benchmark.LoadDefinitions(args[0])
		if err != nil {
			return err
		}
		if benchmarkRunName != "" {
			defs = filterDefinitions(defs, benchmarkRunName)
			if len(defs) == 0 {
				return eris.Errorf("benchmark: %q not defined in %s", benchmarkRunName, args[0])
			}
		}

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close() //nolint:errcheck

		for i, def := range defs {
			if i > 0 {
				fmt.Fprintln(os.Stdout)
			}
			res, err := e.RunBenchmark(ctx, def)
			if res != nil {
				formatReport(os.Stdout, res)
			}
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func filterDefinitions(defs []benchmark.Definition, name string) []benchmark.Definition {
	for _, d := range defs {
		if d.Name == name {
			return []benchmark.Definition{d}
		}
	}
	return nil
}

// -- benchmark preset --

var (
	presetPeriod   string
	presetEntities []string
)

var benchmarkPresetCmd = &cobra.Command{
	Use:   "preset <name>",
	Short: "Run a built-in ratio (" + strings.Join(benchmark.PresetNames(), ", ") + ")",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		entities, err := parseEntities(presetEntities)
		if err != nil {
			return err
		}
		def, err := benchmark.Preset(args[0], presetPeriod, entities)
		if err != nil {
			return err
		}

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close() //nolint:errcheck

		res, err := e.RunBenchmark(ctx, def)
		if res != nil {
			formatReport(os.Stdout, res)
		}
		return err
	},
}

// parseEntities reads "NAME=dataset" pairs.
func parseEntities(specs []string) ([]benchmark.Entity, error) {
	out := make([]benchmark.Entity, 0, len(specs))
	for _, s := range specs {
		name, ds, ok := strings.Cut(s, "=")
		name, ds = strings.TrimSpace(name), strings.TrimSpace(ds)
		if !ok || name == "" || ds == "" {
			return nil, eris.Errorf("benchmark: entity %q must be NAME=dataset", s)
		}
		out = append(out, benchmark.Entity{Name: name, Dataset: ds})
	}
	return out, nil
}

// -- benchmark movements --

var benchmarkMovementsCmd = &cobra.Command{
	Use:   "movements <dataset> <field>",
	Short: "Show period-over-period changes of one field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close() //nolint:errcheck

		series, err := e.Movements(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		formatMovements(os.Stdout, series)
		return nil
	},
}

func formatReport(w io.Writer, res *model.BenchmarkResult) {
	fmt.Fprintf(w, "%s = %s (%s)\n", res.MetricName, res.Formula, res.Direction)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tENTITY\tVALUE\tNODE\tERROR")
	for _, row := range res.Report() {
		rank := "-"
		if row.Position > 0 {
			rank = fmt.Sprintf("%d", row.Position)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rank, row.Entity, row.Display, row.NodeID, res.PerEntityValue[row.Entity].Error)
	}
	tw.Flush() //nolint:errcheck

	zap.L().Debug("benchmark reported",
		zap.String("metric", res.MetricName),
		zap.Int("entities", len(res.Entities)),
	)
}

func formatMovements(w io.Writer, s *benchmark.MovementSeries) {
	fmt.Fprintf(w, "%s.%s (v%d): %s\n", s.Dataset, s.Field, s.Version, s.Trend)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tTO\tCHANGE\tGROWTH")
	for _, m := range s.Points {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.From, m.To, m.Change, m.Growth)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	benchmarkRunCmd.Flags().StringVar(&benchmarkRunName, "name", "", "run only the definition with this name")
	benchmarkPresetCmd.Flags().StringVar(&presetPeriod, "period", "", "period to compare (required)")
	benchmarkPresetCmd.Flags().StringArrayVar(&presetEntities, "entity", nil, "entity as NAME=dataset (repeatable)")
	_ = benchmarkPresetCmd.MarkFlagRequired("period")

	benchmarkCmd.AddCommand(benchmarkRunCmd, benchmarkPresetCmd, benchmarkMovementsCmd)
	rootCmd.AddCommand(benchmarkCmd)
}
