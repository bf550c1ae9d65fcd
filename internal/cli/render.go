// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/whisper/internal/logging"
	"github.com/jeranaias/whisper/internal/model"
	"github.com/jeranaias/whisper/internal/util"
)

// Renderer writes conversation messages to a terminal or a plain stream.
type Renderer struct {
	w        io.Writer
	color    bool
	markdown bool
	width    int

	md *glamour.TermRenderer // created on first use
}

// NewRenderer creates a renderer. Without color, output is plain text with
// fenced code blocks so it can be piped or pasted.
func NewRenderer(w io.Writer, color, markdown bool) *Renderer {
	width := 80
	if isTerminalWriter(w) {
		width = GetTerminalWidth()
	}
	return &Renderer{w: w, color: color, markdown: markdown, width: width}
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

// =============================================================================
// MESSAGES
// =============================================================================

// Messages renders msgs oldest first.
func (r *Renderer) Messages(msgs []model.ChatMessage) {
	for _, m := range msgs {
		r.Message(m)
	}
}

// Message renders one message with its heading.
func (r *Renderer) Message(m model.ChatMessage) {
	fmt.Fprintln(r.w, r.heading(m))
	if sc, ok := m.Content.Structured(); ok {
		fmt.Fprint(r.w, r.structured(sc))
	} else {
		text, _ := m.Content.PlainText()
		fmt.Fprintln(r.w, WrapText(text, r.width))
	}
	fmt.Fprintln(r.w)
}

func (r *Renderer) heading(m model.ChatMessage) string {
	name := m.Role.DisplayName()
	switch m.Role {
	case model.RoleUser:
		name = r.style(UserStyle, name)
	case model.RoleAssistant:
		name = r.style(AssistantStyle, name)
	}
	if m.Timestamp.IsZero() {
		return name
	}
	return name + "  " + r.style(DimStyle, m.Timestamp.Local().Format("Jan 2 15:04"))
}

func (r *Renderer) structured(sc model.StructuredContent) string {
	var b strings.Builder
	if fb := strings.TrimSpace(sc.Feedback); fb != "" {
		b.WriteString(r.feedback(fb))
		b.WriteString("\n")
	}
	if len(sc.Hints) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.style(HintStyle, "Hints:"))
		b.WriteString("\n")
		for i, h := range sc.Hints {
			b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, h))
		}
	}
	if sc.HasSnippet() {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		label := "Snippet:"
		if sc.ProgrammingLanguage != "" {
			label = fmt.Sprintf("Snippet (%s):", sc.ProgrammingLanguage)
		}
		b.WriteString(r.style(SnippetLabelStyle, label))
		b.WriteString("\n")
		b.WriteString(r.snippet(sc.Snippet, sc.ProgrammingLanguage))
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		b.WriteString(r.style(DimStyle, "(empty reply)"))
		b.WriteString("\n")
	}
	return b.String()
}

// feedback renders prose through glamour when markdown and color are on.
func (r *Renderer) feedback(text string) string {
	if !r.markdown || !r.color {
		return WrapText(text, r.width)
	}
	if r.md == nil {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(r.width),
		)
		if err != nil {
			logging.Debug("cli: markdown renderer unavailable: %v", err)
			r.markdown = false
			return WrapText(text, r.width)
		}
		r.md = md
	}
	out, err := r.md.Render(text)
	if err != nil {
		return WrapText(text, r.width)
	}
	return strings.Trim(out, "\n")
}

// snippet highlights code with chroma, or fences it when color is off.
func (r *Renderer) snippet(code, lang string) string {
	code = strings.TrimRight(code, "\n")
	if !r.color {
		return "```" + lang + "\n" + code + "\n```"
	}
	highlighted, err := highlightCode(code, lang)
	if err != nil {
		return code
	}
	return strings.TrimRight(highlighted, "\n")
}

// highlightCode applies terminal syntax highlighting. Unknown languages
// are guessed from the code itself.
func highlightCode(code, lang string) (string, error) {
	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// =============================================================================
// LISTS
// =============================================================================

// Separator draws a rule across the output width.
func (r *Renderer) Separator() {
	w := r.width
	if w > 60 {
		w = 60
	}
	fmt.Fprintln(r.w, r.style(SeparatorStyle, strings.Repeat("─", w)))
}

// Preview returns a one-line preview of m fitting width columns.
func Preview(m model.ChatMessage, width int) string {
	return util.TruncateWidth(util.SingleLine(m.Content.Summary()), width)
}

// Dim renders text in the dim style.
func (r *Renderer) Dim(text string) string {
	return r.style(DimStyle, text)
}

// Notice writes a dim informational line.
func (r *Renderer) Notice(format string, args ...interface{}) {
	fmt.Fprintln(r.w, r.Dim(fmt.Sprintf(format, args...)))
}
