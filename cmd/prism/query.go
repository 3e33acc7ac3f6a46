package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/spektr-org/prism/engine"
	"github.com/spektr-org/prism/helpers"
	"github.com/spektr-org/prism/schema"
)

type queryT struct {
	schemaPath string
	from       []string
	selects    []string
	granulate  []string
	slices     []string
	format     string
	title      string
	outFile    string
}

func newQuery() *cobra.Command {
	q := &queryT{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "run a query against a schema file",
		Long: `
Run a query and render it. Slices take the forms
  id=a,b     keep the listed members
  id!=a,b    drop the listed members
  id>3       compare a metric (>, >=, <, <=)
Ids are "dimension.level" or "cube.metric"; unambiguous bare names work too.
`,
		Args: cobra.NoArgs,
		RunE: q.run,
	}
	cmd.Flags().StringVar(&q.schemaPath, "schema", "", "schema YAML file (required)")
	cmd.Flags().StringSliceVar(&q.from, "from", nil, "limit the query to these cubes")
	cmd.Flags().StringSliceVar(&q.selects, "select", nil, "metrics to select")
	cmd.Flags().StringSliceVar(&q.granulate, "granulate", nil, "levels of the grain")
	cmd.Flags().StringArrayVar(&q.slices, "slice", nil, "slice expression, repeatable")
	cmd.Flags().StringVar(&q.format, "format", "table", "output format: table, csv, json, pretty, chart, text")
	cmd.Flags().StringVar(&q.title, "title", "", "title for json and chart output")
	cmd.Flags().StringVar(&q.outFile, "out", "", "write output to file instead of stdout")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func (q *queryT) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := schema.LoadConfig(q.schemaPath)
	if err != nil {
		return err
	}
	resolver := helpers.NewResolver(filepath.Dir(q.schemaPath))
	defer resolver.Close()
	s, err := cfg.Build(resolver.Resolve)
	if err != nil {
		return err
	}

	b := engine.NewQuery(s, engine.WithLogger(slog.Default())).
		From(q.from...).
		Select(q.selects...).
		Granulate(q.granulate...)
	for _, raw := range q.slices {
		id, p, err := parseSlice(raw)
		if err != nil {
			return err
		}
		b = b.Slice(id, p)
	}
	qc, err := b.Build(ctx)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if q.outFile != "" {
		f, err := os.Create(q.outFile)
		if err != nil {
			return errors.Wrap(err, "create output file")
		}
		defer f.Close()
		w = f
	}

	switch q.format {
	case "table", "csv", "json", "pretty":
		table, err := engine.BuildTable(ctx, qc, engine.TableOptions{Title: q.title})
		if err != nil {
			return err
		}
		switch q.format {
		case "table":
			writeTable(w, table)
			return nil
		case "csv":
			return writeTableCSV(w, table)
		default:
			return writeJSON(w, table, q.format)
		}
	case "chart":
		chart, err := engine.BuildChart(ctx, qc, engine.ChartOptions{Title: q.title})
		if err != nil {
			return err
		}
		if chart == nil {
			return errors.New("chart output needs at least one grain level")
		}
		return writeJSON(w, chart, "pretty")
	case "text":
		metrics := qc.Metrics()
		if len(metrics) != 1 {
			return errors.Newf("text output needs exactly one selected metric, got %d", len(metrics))
		}
		text, err := engine.BuildText(ctx, qc, metrics[0].ID())
		if err != nil {
			return err
		}
		writeText(w, text)
		return nil
	default:
		return errors.Newf("unknown format %q", q.format)
	}
}
