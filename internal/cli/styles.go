package cli

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"docsearch/internal/domain"
)

const (
	colorAccent = "39"
	colorGray   = "245"
	colorGreen  = "78"
	colorYellow = "220"
	colorRed    = "196"
)

// styles holds the terminal styles used by command output.
type styles struct {
	Header  lipgloss.Style
	Source  lipgloss.Style
	Label   lipgloss.Style
	Dim     lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Panel   lipgloss.Style
}

func colorStyles() styles {
	return styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		Source:  lipgloss.NewStyle().Bold(true),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)).Faint(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorGray)).
			Padding(0, 1),
	}
}

func plainStyles() styles {
	return styles{
		Header:  lipgloss.NewStyle(),
		Source:  lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Panel:   lipgloss.NewStyle(),
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// stylesFor picks colored output for terminals and plain text otherwise.
func stylesFor(w io.Writer) styles {
	if isTerminal(w) && os.Getenv("NO_COLOR") == "" {
		return colorStyles()
	}
	return plainStyles()
}

func (s styles) confidence(c domain.Confidence) string {
	switch c {
	case domain.ConfidenceHigh:
		return s.Success.Render(string(c))
	case domain.ConfidenceMedium:
		return s.Warning.Render(string(c))
	default:
		return s.Error.Render(string(c))
	}
}

// preview flattens whitespace and cuts text to at most n runes.
func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
