package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/spektr-org/prism/schema"
)

type discoverT struct {
	name    string
	outFile string
	sample  int
}

func newDiscover() *cobra.Command {
	d := &discoverT{}
	cmd := &cobra.Command{
		Use:   "discover <file.csv>",
		Short: "draft a schema from a CSV file",
		Long: `
Inspect a CSV file and print a draft schema: hierarchies found through
functional dependencies become dimensions, numeric columns become sum
metrics. Skipped columns are reported on stderr.
`,
		Args: cobra.ExactArgs(1),
		RunE: d.run,
	}
	cmd.Flags().StringVar(&d.name, "name", "facts", "cube name")
	cmd.Flags().StringVar(&d.outFile, "out", "", "write the schema to file instead of stdout")
	cmd.Flags().IntVar(&d.sample, "sample", 1000, "rows to inspect (0 = all)")
	return cmd
}

func (d *discoverT) run(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "read CSV")
	}

	path := args[0]
	if d.outFile != "" {
		if rel, err := filepath.Rel(filepath.Dir(d.outFile), args[0]); err == nil {
			path = rel
		}
	}
	disc, err := schema.DiscoverFromCSV(data, schema.DiscoverOptions{
		SampleSize: d.sample,
		Name:       d.name,
		Path:       path,
	})
	if err != nil {
		return err
	}
	out, err := disc.Config.Marshal()
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "%d rows, %d dimensions, %d skipped\n",
		disc.Rows, len(disc.Config.Dimensions), len(disc.Skipped))
	for _, s := range disc.Skipped {
		fmt.Fprintf(stderr, "  skipped %s: %s\n", s.Column, s.Reason)
	}

	if d.outFile == "" {
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	return errors.Wrap(os.WriteFile(d.outFile, out, 0o644), "write schema")
}
