package coverage

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// RenderTable writes coverage rows as a text table.
func RenderTable(w io.Writer, rows []Row) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Function", "Statements", "Branches", "Coverage"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})

	for _, row := range rows {
		t := row.Totals
		table.Append([]string{
			row.Name,
			fmt.Sprintf("%d/%d", t.StatementHits, t.Statements),
			fmt.Sprintf("%d/%d", t.TrueHits+t.FalseHits, 2*t.Branches),
			fmt.Sprintf("%.1f%%", 100*t.Percentage()),
		})
	}
	table.Render()
}
