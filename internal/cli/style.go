package cli

import (
	"bytes"
	"io"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	headStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
)

// Highlight writes code to w with terminal syntax highlighting. It falls
// back to plain text when no lexer or formatter is available.
func Highlight(w io.Writer, code string) error {
	lexer := lexers.Get("react")
	if lexer == nil {
		lexer = lexers.Get("jsx")
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	formatter := formatters.Get("terminal16m")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}

	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		_, werr := io.WriteString(w, code)
		return werr
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, it); err != nil {
		_, werr := io.WriteString(w, code)
		return werr
	}
	_, err = buf.WriteTo(w)
	return err
}
