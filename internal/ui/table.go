package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// TableColumn defines a table column with name and width.
type TableColumn struct {
	Title string
	Width int
}

// NewTable creates a non-focused Bubbles table sized to its rows.
func NewTable(columns []TableColumn, rows []table.Row) table.Model {
	cols := make([]table.Column, len(columns))
	for i, c := range columns {
		cols[i] = table.Column{
			Title: c.Title,
			Width: c.Width,
		}
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1), // +1 for header
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	// Cells carry their own styling, so the unfocused table must not
	// highlight the first row.
	s.Selected = lipgloss.NewStyle()
	if colorsEnabled {
		s.Header = s.Header.
			BorderForeground(ColorMuted).
			Foreground(ColorPrimary)
	}

	t.SetStyles(s)
	return t
}

// RenderSimpleTable renders a table as a plain string for CLI output.
func RenderSimpleTable(columns []TableColumn, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}

	t := NewTable(columns, tableRows)
	return t.View()
}

// AutoColumns sizes each column to the widest of its title and cells. Cell
// width is measured in bytes: the table truncates by rune width without
// skipping ANSI sequences, so styled cells need the extra room.
func AutoColumns(titles []string, rows [][]string) []TableColumn {
	cols := make([]TableColumn, len(titles))
	for i, title := range titles {
		cols[i] = TableColumn{Title: title, Width: lipgloss.Width(title)}
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(cols); i++ {
			if w := len(row[i]); w > cols[i].Width {
				cols[i].Width = w
			}
		}
	}
	for i := range cols {
		cols[i].Width += 2
	}
	return cols
}

// RenderKeyValues renders aligned "key: value" lines.
func RenderKeyValues(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	muted := Style(ColorMuted)
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(muted.Render(padRight(p[0]+":", width+1)))
		b.WriteString(" ")
		b.WriteString(p[1])
		b.WriteString("\n")
	}
	return b.String()
}

func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
