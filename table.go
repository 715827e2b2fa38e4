package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one column of CLI output.
type column struct {
	title    string
	numeric  bool // Right-aligned
	maxWidth int  // Zero means unlimited
}

// Column sets printed by the check, subs and catalog commands.
var (
	releaseColumns = []column{
		{title: "Uploaded (UTC)"},
		{title: "Title", maxWidth: 48},
		{title: "Chapter"},
		{title: "Status"},
		{title: "Audience", maxWidth: 40},
	}
	subscriptionColumns = []column{
		{title: "Audience"},
		{title: "Target"},
		{title: "Series", maxWidth: 60},
	}
	catalogColumns = []column{
		{title: "#", numeric: true},
		{title: "Series"},
	}
)

// renderTable lays rows out under cols. Missing cells render empty and extra
// cells are dropped.
func renderTable(cols []column, rows [][]string) string {
	if len(cols) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(cols))
	configs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		header[i] = c.title
		configs[i] = table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft, WidthMax: c.maxWidth}
		if c.numeric {
			configs[i].Align = text.AlignRight
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(cols))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}
