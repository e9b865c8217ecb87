package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/lineage-cli/internal/model"
)

var lookupVersion int

var lookupCmd = &cobra.Command{
	Use:   "lookup <dataset> <field> <period>",
	Short: "Resolve one datapoint",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close() //nolint:errcheck

		dp, err := e.Lookup(args[0], args[1], args[2], lookupVersion)
		if err != nil {
			return err
		}
		formatDatapoint(os.Stdout, dp)
		return nil
	},
}

func formatDatapoint(w io.Writer, dp model.Datapoint) {
	fmt.Fprintf(w, "%s = %s\n", dp.Key(), dp.Value)
	fmt.Fprintf(w, "  dataset: %s v%d\n", dp.DatasetName, dp.DatasetVersion)
	fmt.Fprintf(w, "  source:  %s\n", dp.Provenance.SourceIdentity)
	if dp.Provenance.Match == model.MatchFuzzy {
		fmt.Fprintf(w, "  match:   fuzzy %q -> %q (score %d)\n",
			dp.Provenance.RequestedField, dp.Field, dp.Provenance.MatchScore)
	}
}

func init() {
	lookupCmd.Flags().IntVar(&lookupVersion, "version", 0, "dataset version (default latest)")
	rootCmd.AddCommand(lookupCmd)
}
