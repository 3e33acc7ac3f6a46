package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"

	"github.com/spektr-org/prism/engine"
)

// ============================================================================
// TABLE OUTPUT
// ============================================================================

func writeTable(w io.Writer, table *engine.TableData) {
	if table.Title != "" {
		fmt.Fprintln(w, table.Title)
	}
	tbl := tablewriter.NewWriter(w)
	headers := make([]string, len(table.Columns))
	aligns := make([]int, len(table.Columns))
	for i, c := range table.Columns {
		headers[i] = c.Label
		aligns[i] = tablewriter.ALIGN_LEFT
		if c.Align == "right" {
			aligns[i] = tablewriter.ALIGN_RIGHT
		}
	}
	tbl.SetHeader(headers)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetColumnAlignment(aligns)
	tbl.AppendBulk(table.Rows)
	if footer := summaryRow(table); footer != nil {
		tbl.SetFooter(footer)
	}
	tbl.Render()
}

func summaryRow(table *engine.TableData) []string {
	if table.Summary == nil || len(table.Rows) < 2 {
		return nil
	}
	row := make([]string, len(table.Columns))
	row[0] = table.Summary.Label
	for i, c := range table.Columns {
		if v, ok := table.Summary.Values[c.Key]; ok {
			row[i] = v
		}
	}
	return row
}

// ============================================================================
// CSV OUTPUT: Sheets-ready
// ============================================================================

func writeTableCSV(w io.Writer, table *engine.TableData) error {
	cw := csv.NewWriter(w)
	headers := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		headers[i] = c.Label
	}
	if err := cw.Write(headers); err != nil {
		return errors.Wrap(err, "write CSV")
	}
	if err := cw.WriteAll(table.Rows); err != nil {
		return errors.Wrap(err, "write CSV")
	}
	return nil
}

// ============================================================================
// JSON AND TEXT OUTPUT
// ============================================================================

func writeJSON(w io.Writer, v interface{}, format string) error {
	var out []byte
	var err error
	if format == "pretty" {
		out, err = json.MarshalIndent(v, "", "  ")
	} else {
		out, err = json.Marshal(v)
	}
	if err != nil {
		return errors.Wrap(err, "marshal output")
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func writeText(w io.Writer, text *engine.TextData) {
	fmt.Fprintf(w, "%s: %s\n", text.Label, text.Value)
	if text.Count > 1 {
		fmt.Fprintf(w, "across %s rows\n", engine.FormatInt(int64(text.Count)))
	}
}
