package cli

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	colorAccent = lipgloss.Color("#3AA99F")
	colorMuted  = lipgloss.Color("#6F6E69")
	colorGreen  = lipgloss.Color("#879A39")
	colorRed    = lipgloss.Color("#D14D41")
	colorOrange = lipgloss.Color("#DA702C")
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	warnStyle   = lipgloss.NewStyle().Foreground(colorOrange)
	creditStyle = lipgloss.NewStyle().Foreground(colorGreen)
	debitStyle  = lipgloss.NewStyle().Foreground(colorRed)
)

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

// signed colors a net balance: owed money is green, owing is red.
func signed(d decimal.Decimal) string {
	s := d.StringFixed(2)
	switch d.Sign() {
	case -1:
		return debitStyle.Render(s)
	case 1:
		return creditStyle.Render(s)
	default:
		return s
	}
}
