package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("76")).Bold(true)  // Green
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true) // Red
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))            // Orange
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))            // Gray
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

func ok(msg string) string   { return okStyle.Render("✓") + " " + msg }
func fail(msg string) string { return failStyle.Render("✗") + " " + msg }

// table writes tab separated rows with aligned columns. Cells stay unstyled
// so the alignment holds.
func table(w io.Writer, title string, header []string, rows [][]string) {
	fmt.Fprintln(w, titleStyle.Render(title))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
