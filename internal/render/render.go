// Package render projects a quiz view to plain text with pluggable math and
// icon rendering.
package render

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-quiz/internal/narration"
	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

// MathRenderer typesets the LaTeX spans of a string.
type MathRenderer interface {
	RenderMath(s string) string
}

// IconRenderer maps an icon name to its representation.
type IconRenderer interface {
	Icon(name string) string
}

// PlainMath leaves math spans untouched.
type PlainMath struct{}

func (PlainMath) RenderMath(s string) string { return s }

// GlyphIcons renders icons as single characters.
type GlyphIcons struct{}

var glyphs = map[string]string{
	"timer":      "⏱",
	"pending":    "○",
	"answered":   "●",
	"correct":    "✓",
	"incorrect":  "✗",
	"unanswered": "-",
	"selected":   "»",
	"speaker":    "♪",
	"notice":     "!",
}

func (GlyphIcons) Icon(name string) string {
	if g, ok := glyphs[name]; ok {
		return g
	}
	return ""
}

// Renderer holds the collaborators used by Text.
type Renderer struct {
	Math  MathRenderer
	Icons IconRenderer
}

// Default uses PlainMath and GlyphIcons.
func Default() Renderer { return Renderer{Math: PlainMath{}, Icons: GlyphIcons{}} }

// Text renders v and the narration affordance as a terminal-friendly page.
func (r Renderer) Text(v quiz.View, narr narration.Status) string {
	var b strings.Builder
	switch v.Mode {
	case quiz.ModeIdle:
		b.WriteString("No quiz in progress.\n")
	case quiz.ModeLoading:
		fmt.Fprintf(&b, "Generating a quiz on %s (%s)...\n", v.Topic, v.Difficulty)
	default:
		r.quiz(&b, v, narr)
	}
	if v.Notice != nil {
		fmt.Fprintf(&b, "%s %s\n", r.Icons.Icon("notice"), v.Notice.Message)
	}
	return b.String()
}

func (r Renderer) quiz(b *strings.Builder, v quiz.View, narr narration.Status) {
	fmt.Fprintf(b, "%s (%s) | %s", v.Topic, v.Difficulty, v.Label)
	if v.Mode == quiz.ModeAnswering {
		fmt.Fprintf(b, " | %s %s", r.Icons.Icon("timer"), v.Clock)
	}
	b.WriteString("\n\n")
	b.WriteString(r.Math.RenderMath(v.Question))
	b.WriteString("\n")
	for _, opt := range v.Options {
		marker := " "
		switch {
		case opt.Selected:
			marker = r.Icons.Icon("selected")
		case opt.Correct:
			marker = r.Icons.Icon("correct")
		case opt.WrongPick:
			marker = r.Icons.Icon("incorrect")
		}
		fmt.Fprintf(b, " %s %s. %s\n", marker, opt.Letter, r.Math.RenderMath(opt.Text))
	}
	if v.Solution != "" {
		fmt.Fprintf(b, "\nSolution: %s\n", r.Math.RenderMath(v.Solution))
	}

	b.WriteString("\n")
	for i, ind := range v.Status {
		if i > 0 {
			b.WriteString(" ")
		}
		if ind.Current {
			fmt.Fprintf(b, "[%d%s]", ind.Number, r.Icons.Icon(string(ind.State)))
		} else {
			fmt.Fprintf(b, "%d%s", ind.Number, r.Icons.Icon(string(ind.State)))
		}
	}
	b.WriteString("\n")
	b.WriteString(r.nav(v))
	fmt.Fprintf(b, "%s %s\n", r.Icons.Icon("speaker"), narr.Label)

	if v.Score != nil && v.Score.Visible {
		fmt.Fprintf(b, "\n%s Score: %s (%s)\n", v.Score.Title, v.Score.Text, v.Score.Styling)
	}
}

func (r Renderer) nav(v quiz.View) string {
	var parts []string
	if !v.Nav.PrevDisabled {
		parts = append(parts, "< Previous")
	}
	if !v.Nav.NextHidden {
		parts = append(parts, v.Nav.NextLabel+" >")
	}
	if v.Nav.SubmitVisible {
		parts = append(parts, "Submit")
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "  ") + "\n"
}
