package narration

import (
	"regexp"
	"strings"
)

var (
	displayMath = regexp.MustCompile(`\$\$(.*?)\$\$`)
	inlineMath  = regexp.MustCompile(`\$(.*?)\$`)
)

const promptPrefix = "Read the following quiz question: "

// SpeakableText replaces LaTeX spans with the word "equation". Display math
// is handled before inline math so $$..$$ is not split into two inline spans.
func SpeakableText(question string) string {
	text := displayMath.ReplaceAllString(question, " equation ")
	return inlineMath.ReplaceAllString(text, " equation ")
}

// Prompt builds the instruction sent to the speech model.
func Prompt(question string) string {
	return promptPrefix + strings.TrimSpace(SpeakableText(question))
}
