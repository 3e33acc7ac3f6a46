package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spektr-org/prism"
)

// ============================================================================
// PRISM CLI: query a YAML-declared schema from the shell
// ============================================================================

func main() {
	root := newRoot()
	if err := root.Execute(); err != nil {
		fatalf("%v", err)
	}
}

func newRoot() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "prism",
		Short: "in-memory OLAP over CSV, JSON and sqlite facts",
		Long: `
Prism answers multi-cube queries over a schema file. Each cube reads its
facts from a CSV file, a JSON document or a sqlite table; dimensions
declare level hierarchies shared by the cubes.

  prism discover sales.csv --out schema.yaml
  prism query --schema schema.yaml --select units_sold --granulate customers.country
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")

	root.AddCommand(newQuery(), newDiscover(), &cobra.Command{
		Use:   "version",
		Short: "print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "prism %s\n", prism.Version)
		},
	})
	return root
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
