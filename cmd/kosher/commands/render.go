package commands

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// StatusBox renders a titled list of label/value pairs. On a terminal the
// list is framed; piped output gets an underlined title instead.
func StatusBox(title string, fields [][2]string) string {
	lines := make([]string, 0, len(fields)+1)
	if isTTY() {
		lines = append(lines, StyleHeader.Render(title))
	} else {
		lines = append(lines, title, strings.Repeat("=", lipgloss.Width(title)))
	}
	for _, f := range fields {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			StyleLabel.Render(f[0]),
			StyleValue.Render(f[1]),
		))
	}

	body := lipgloss.JoinVertical(lipgloss.Left, lines...)
	if !isTTY() {
		return body
	}
	return StyleBox.Render(body)
}

// RenderTable lays out rows under headers. Terminals get borders and
// zebra striping; pipes get whitespace-aligned columns.
func RenderTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}
	tty := isTTY()

	t := table.New().
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case !tty:
				return plainCell
			case row == table.HeaderRow:
				return StyleTableHeader
			case row%2 == 0:
				return StyleTableRow
			default:
				return StyleTableRowAlt
			}
		})

	if tty {
		t = t.Border(lipgloss.NormalBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(ColorDim))
	} else {
		t = t.Border(lipgloss.HiddenBorder()).
			BorderTop(false).
			BorderBottom(false).
			BorderLeft(false).
			BorderRight(false).
			BorderHeader(false).
			BorderColumn(false)
	}
	return t.String()
}

var plainCell = lipgloss.NewStyle().PaddingRight(2)

// jsonOutput reports whether --output json was requested.
func jsonOutput() bool {
	return OutputFormat == "json"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WithSpinner runs fn behind a spinner when stdout is a terminal.
func WithSpinner(msg string, fn func() error) error {
	if !isTTY() || jsonOutput() {
		return fn()
	}

	var fnErr error
	err := spinner.New().
		Title(msg).
		Action(func() {
			fnErr = fn()
		}).
		Run()
	if err != nil {
		return err
	}
	return fnErr
}
