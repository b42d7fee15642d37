package report

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"statusbot/internal/notify"
)

const labelWidth = 8

// RenderTable draws rows as a two-column box table. Labels wider than
// labelWidth wrap on word boundaries.
func RenderTable(rows []notify.ReportRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Options.SeparateRows = true
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMax: labelWidth, WidthMaxEnforcer: text.WrapSoft},
		{Number: 2, Align: text.AlignRight},
	})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Label, r.Value})
	}
	return t.Render()
}

// Section renders one titled block: a bold header and a fenced table.
func Section(title string, rows []notify.ReportRow) string {
	var b strings.Builder
	b.WriteString("\n\n*")
	b.WriteString(title)
	b.WriteString("*\n```\n")
	b.WriteString(RenderTable(rows))
	b.WriteString("\n```")
	return b.String()
}
