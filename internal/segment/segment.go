// Package segment splits text into sentence-aligned chunks bounded by a
// word budget.
package segment

import (
	"math"
	"strings"
	"unicode"
)

const (
	DefaultWordsPerMinute = 160
	MinWordsPerChunk      = 20
)

type Chunk struct {
	Index     int
	Text      string
	WordCount int
}

// WordsPerChunk converts a target spoken duration into a word budget.
func WordsPerChunk(targetSeconds, wordsPerMinute int) int {
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	words := int(math.Round(float64(wordsPerMinute) / 60 * float64(targetSeconds)))
	if words < MinWordsPerChunk {
		return MinWordsPerChunk
	}
	return words
}

func CountWords(text string) int {
	return len(strings.Fields(text))
}

// Segment packs whole sentences into chunks of at most maxWords words. A
// sentence longer than the budget becomes a chunk of its own.
func Segment(text string, maxWords int) []Chunk {
	if text == "" {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return []Chunk{{Index: 0, Text: text}}
	}
	if maxWords <= 0 {
		maxWords = MinWordsPerChunk
	}

	var (
		chunks  []Chunk
		current []string
		words   int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      strings.Join(current, " "),
			WordCount: words,
		})
		current = current[:0]
		words = 0
	}

	for _, sentence := range Sentences(text) {
		n := CountWords(sentence)
		if words > 0 && words+n > maxWords {
			flush()
		}
		current = append(current, sentence)
		words += n
	}
	flush()
	return chunks
}

// Sentences splits text after '.', '!' or '?' when followed by whitespace.
// The whitespace separating sentences is dropped.
func Sentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) || i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		out = append(out, string(runes[start:i+1]))
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
