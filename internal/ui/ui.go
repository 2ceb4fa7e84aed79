// Package ui renders the evolution tool's terminal output.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/pterm/pterm"
)

var (
	// Out receives normal output, Err receives errors.
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr
)

var (
	PrimaryColor   = lipgloss.Color("#00D9FF")
	SuccessColor   = lipgloss.Color("#00FF88")
	WarningColor   = lipgloss.Color("#FFB800")
	ErrorColor     = lipgloss.Color("#FF4444")
	SecondaryColor = lipgloss.Color("#6C757D")

	TitleStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)

	SecondaryStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor)
)

func terminalWidth() int {
	if w := pterm.GetTerminalWidth(); w > 0 {
		return w
	}
	return 80
}

// PrintSuccess prints a success message.
func PrintSuccess(format string, args ...any) {
	fmt.Fprintln(Out, SuccessStyle.Render("✓ "+fmt.Sprintf(format, args...)))
}

// PrintError prints an error message to Err.
func PrintError(format string, args ...any) {
	fmt.Fprintln(Err, ErrorStyle.Render("✗ "+fmt.Sprintf(format, args...)))
}

// PrintWarning prints a warning message.
func PrintWarning(format string, args ...any) {
	fmt.Fprintln(Out, WarningStyle.Render("⚠ "+fmt.Sprintf(format, args...)))
}

// PrintInfo prints an info message.
func PrintInfo(format string, args ...any) {
	fmt.Fprintln(Out, InfoStyle.Render("ℹ "+fmt.Sprintf(format, args...)))
}

// PrintSection prints a title underlined to the terminal width.
func PrintSection(title string) {
	section := lipgloss.NewStyle().
		Width(terminalWidth()).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(SecondaryColor).
		Render(TitleStyle.Render(title))
	fmt.Fprintln(Out, section)
}

// PrintTable prints rows under a header row.
func PrintTable(headers []string, rows [][]string) error {
	data := pterm.TableData{headers}
	data = append(data, rows...)
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(Out, out)
	return nil
}

// PrintList prints a bulleted list.
func PrintList(items []string) {
	for _, item := range items {
		fmt.Fprintf(Out, "  • %s\n", item)
	}
}

// PrintMarkdown renders markdown for the terminal.
func PrintMarkdown(content string) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(terminalWidth()),
	)
	if err != nil {
		return err
	}
	out, err := r.Render(content)
	if err != nil {
		return err
	}
	fmt.Fprint(Out, out)
	return nil
}

var (
	keywordColor = color.New(color.FgCyan, color.Bold)
	commentColor = color.New(color.FgHiBlack)
)

var sqlKeywords = map[string]bool{
	"ALTER": true, "ADD": true, "CREATE": true, "DROP": true, "TABLE": true,
	"INDEX": true, "UNIQUE": true, "COLUMN": true, "RENAME": true, "TO": true,
	"INSERT": true, "INTO": true, "SELECT": true, "FROM": true, "UPDATE": true,
	"SET": true, "DELETE": true, "WHERE": true, "ON": true, "NOT": true,
	"NULL": true, "DEFAULT": true, "PRIMARY": true, "KEY": true, "FOREIGN": true,
	"REFERENCES": true, "CONSTRAINT": true, "VALUES": true, "MODIFY": true,
}

// HighlightSQL colors SQL keywords and comment lines.
func HighlightSQL(stmt string) string {
	if strings.HasPrefix(strings.TrimSpace(stmt), "--") {
		return commentColor.Sprint(stmt)
	}
	words := strings.Split(stmt, " ")
	for i, w := range words {
		if sqlKeywords[strings.ToUpper(strings.TrimRight(w, "(;,"))] {
			words[i] = keywordColor.Sprint(w)
		}
	}
	return strings.Join(words, " ")
}

// PrintSQL prints statements, one per line.
func PrintSQL(statements []string) {
	for _, stmt := range statements {
		fmt.Fprintln(Out, HighlightSQL(stmt))
	}
}

// Confirm asks a yes/no question. With noInput set it answers yes without
// asking.
func Confirm(message string, noInput bool) (bool, error) {
	if noInput {
		return true, nil
	}
	ok := false
	if err := survey.AskOne(&survey.Confirm{Message: message, Default: false}, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Spinner starts a spinner with a message.
func Spinner(message string) (*pterm.SpinnerPrinter, error) {
	return pterm.DefaultSpinner.WithWriter(Out).Start(message)
}
