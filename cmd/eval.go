package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/lineage-cli/internal/engine"
	"github.com/sells-group/lineage-cli/internal/model"
)

var (
	evalBindings []string
	evalNodeID   string
)

var evalCmd = &cobra.Command{
	Use:   "eval <formula>",
	Short: "Define and evaluate a formula over named datapoints",
	Long: `Binds each formula name with --bind and prints the value with its lineage.

  lineage eval "growth_rate(rev, prior)" \
    --bind "rev=AAPL_2024.Total Revenue.2024" \
    --bind "prior=AAPL_2024.Total Revenue.2023"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		bindings := make([]engine.Binding, 0, len(evalBindings))
		for _, s := range evalBindings {
			b, err := engine.ParseBinding(s)
			if err != nil {
				return err
			}
			bindings = append(bindings, b)
		}

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close() //nolint:errcheck

		n, err := e.Define(ctx, args[0], bindings, evalNodeID)
		if err != nil {
			return err
		}
		v, err := e.Evaluate(ctx, n.ID)
		if err != nil {
			return err
		}
		lineage, err := e.Lineage(n.ID)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "%s = %s  (node %s)\n\n", n.Formula, v, n.ID)
		formatLineage(os.Stdout, lineage)
		return nil
	},
}

func formatLineage(w io.Writer, nodes []model.ProvenanceNode) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tKIND\tVALUE\tDEFINITION")
	for _, n := range nodes {
		value := n.Value.String()
		if n.Error != "" {
			value = "error: " + n.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.Kind, value, definition(n))
	}
	tw.Flush() //nolint:errcheck
}

func definition(n model.ProvenanceNode) string {
	if n.Kind == model.NodeRaw && n.Source != nil {
		return fmt.Sprintf("%s@v%d (%s)", n.Source.Key(), n.Source.DatasetVersion, n.Source.Provenance.SourceIdentity)
	}
	args := make([]string, len(n.Inputs))
	for i := range n.Inputs {
		args[i] = n.InputNames[i] + "=" + n.Inputs[i]
	}
	return n.Formula + " [" + strings.Join(args, ", ") + "]"
}

func init() {
	evalCmd.Flags().StringArrayVar(&evalBindings, "bind", nil, `input binding "name=dataset.field.period[@version]" or "name=node:<id>"`)
	evalCmd.Flags().StringVar(&evalNodeID, "id", "", "name the node instead of content addressing it")
	rootCmd.AddCommand(evalCmd)
}
