package synth

import (
	"regexp"
	"strings"
)

// Patterns for padding latin and digit runs so they are voiced separately
// from the surrounding Chinese text.
const (
	latinRunPattern      = `([a-zA-Z]+)`
	digitRunPattern      = `(\d+)`
	whitespaceRunPattern = `\s+`
)

// preprocessor normalizes Chinese text before it reaches the model provider.
// Compiled once per synthesizer.
type preprocessor struct {
	latinPattern      *regexp.Regexp
	digitPattern      *regexp.Regexp
	whitespacePattern *regexp.Regexp
	punctReplacer     *strings.Replacer
}

func newPreprocessor() *preprocessor {
	return &preprocessor{
		latinPattern:      regexp.MustCompile(latinRunPattern),
		digitPattern:      regexp.MustCompile(digitRunPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRunPattern),
		punctReplacer: strings.NewReplacer(
			"，", ", ",
			"。", ". ",
			"！", "! ",
			"？", "? ",
			"；", "; ",
			"：", ": ",
		),
	}
}

// normalize converts Chinese punctuation to its ASCII form and pads latin and
// digit runs with spaces, then collapses the whitespace. Sentence splitting
// in the provider behaves better on the normalized form.
func (p *preprocessor) normalize(text string) string {
	if text == "" {
		return text
	}

	normalized := p.punctReplacer.Replace(text)
	normalized = p.latinPattern.ReplaceAllString(normalized, " $1 ")
	normalized = p.digitPattern.ReplaceAllString(normalized, " $1 ")
	normalized = p.whitespacePattern.ReplaceAllString(normalized, " ")

	return strings.TrimSpace(normalized)
}
