package tts

import (
	"strings"
	"unicode"
)

var symbolReplacer = strings.NewReplacer(
	"&", " and ",
	"<", " ",
	">", " ",
	"*", " ",
	"#", " ",
	"_", " ",
	"~", " ",
	"|", " ",
	"`", "",
	"\u00a0", " ",
	"\u200b", "",
	"\ufeff", "",
)

// Sanitize removes characters a speech backend cannot vocalize or that
// would break a markup wrapper, and collapses runs of spaces. Line breaks
// are kept so sentence boundaries survive.
func Sanitize(text string) string {
	text = symbolReplacer.Replace(text)
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
