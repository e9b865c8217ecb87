package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lineage-cli/internal/benchmark"
	"github.com/sells-group/lineage-cli/internal/binder"
	"github.com/sells-group/lineage-cli/internal/engine"
)

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Bind, refresh and render document references",
}

// -- doc render --

var (
	docID         string
	docBenchmarks string
	docOut        string
)

var docRenderCmd = &cobra.Command{
	Use:   "render <file>",
	Short: "Resolve every {{...}} token in a text file and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		text, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "doc: read file")
		}
		id := docID
		if id == "" {
			id = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close() //nolint:errcheck

		if err := registerBenchmarks(e, docBenchmarks); err != nil {
			return err
		}

		out, outcomes, err := e.RenderDocument(ctx, id, string(text))
		if err != nil {
			return err
		}

		if docOut != "" {
			if err := os.WriteFile(docOut, []byte(out), 0o644); err != nil {
				return eris.Wrap(err, "doc: write output")
			}
		} else {
			fmt.Fprint(os.Stdout, out)
			if !strings.HasSuffix(out, "\n") {
				fmt.Fprintln(os.Stdout)
			}
		}
		formatOutcomes(os.Stderr, outcomes)
		return nil
	},
}

// registerBenchmarks makes benchmark targets resolvable. Definitions are
// not persisted, so each invocation registers them again.
func registerBenchmarks(e *engine.Engine, path string) error {
	if path == "" {
		return nil
	}
	defs, err := benchmark.LoadDefinitions(path)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if err := e.RegisterBenchmark(d); err != nil {
			return err
		}
	}
	return nil
}

// -- doc refs --

var docRefsCmd = &cobra.Command{
	Use:   "refs <document-id>",
	Short: "List the references of a document and their states",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close() //nolint:errcheck

		views := e.References(args[0])
		if len(views) == 0 {
			fmt.Fprintln(os.Stderr, "No references found.")
			return nil
		}
		formatReferences(os.Stdout, views)
		return nil
	},
}

// -- doc refresh --

var docRefreshCmd = &cobra.Command{
	Use:   "refresh <document-id>",
	Short: "Re-resolve every reference of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close() //nolint:errcheck

		if err := registerBenchmarks(e, docBenchmarks); err != nil {
			return err
		}
		outcomes, err := e.RefreshAll(ctx, args[0])
		if err != nil {
			return err
		}
		formatOutcomes(os.Stdout, outcomes)
		return nil
	},
}

// -- doc unbind --

var docUnbindCmd = &cobra.Command{
	Use:   "unbind <token-id>",
	Short: "Remove a reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(e *engine.Engine) error {
			if err := e.Unbind(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Removed reference %s\n", args[0])
			return nil
		})
	},
}

func withEngine(ctx context.Context, fn func(*engine.Engine) error) error {
	e, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck
	return fn(e)
}

func formatOutcomes(w io.Writer, outcomes []binder.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tTARGET\tSTATE\tVALUE\tERROR")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", shortID(o.TokenID), o.Target, o.State, o.Value, o.Error)
	}
	tw.Flush() //nolint:errcheck
}

func formatReferences(w io.Writer, views []engine.ReferenceView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tTARGET\tSTATE\tVALUE\tRESOLVED\tNODE")
	for _, v := range views {
		resolved := "-"
		if !v.LastResolvedAt.IsZero() {
			resolved = v.LastResolvedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.TokenID, v.Target, v.State, v.LastResolvedValue, resolved, v.NodeID)
	}
	tw.Flush() //nolint:errcheck
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	docRenderCmd.Flags().StringVar(&docID, "id", "", "document id (default file name without extension)")
	docRenderCmd.Flags().StringVar(&docOut, "out", "", "write rendered text to this file instead of stdout")
	docCmd.PersistentFlags().StringVar(&docBenchmarks, "benchmarks", "", "YAML metric definitions to register for benchmark tokens")

	docCmd.AddCommand(docRenderCmd, docRefsCmd, docRefreshCmd, docUnbindCmd)
	rootCmd.AddCommand(docCmd)
}
