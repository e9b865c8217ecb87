package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/lineage-cli/internal/model"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List stored dataset versions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close() //nolint:errcheck

		infos := e.Datasets()
		if len(infos) == 0 {
			fmt.Fprintln(os.Stderr, "No datasets found.")
			return nil
		}
		formatDatasetList(os.Stdout, infos)
		return nil
	},
}

func formatDatasetList(w io.Writer, infos []model.DatasetInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tFIELDS\tPERIODS\tDATAPOINTS\tINGESTED\tSOURCE")
	for _, d := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			d.Name,
			d.Version,
			d.FieldCount,
			d.PeriodCount,
			d.Datapoints,
			d.IngestedAt.Format("2006-01-02 15:04"),
			d.SourceIdentity,
		)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
}
