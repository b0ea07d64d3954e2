package segment

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestWordsPerChunk(t *testing.T) {
	if got := WordsPerChunk(20, 160); got != 53 {
		t.Fatalf("expected 53 words for 20s, got %d", got)
	}
	if got := WordsPerChunk(45, 0); got != 120 {
		t.Fatalf("expected default rate to give 120 words, got %d", got)
	}
	if got := WordsPerChunk(1, 160); got != MinWordsPerChunk {
		t.Fatalf("expected floor of %d, got %d", MinWordsPerChunk, got)
	}
}

func TestSegmentEmpty(t *testing.T) {
	if chunks := Segment("", 50); len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %v", chunks)
	}
}

func TestSegmentWhitespaceOnly(t *testing.T) {
	chunks := Segment(" \n\t ", 50)
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}
	if chunks[0].Text != " \n\t " || chunks[0].WordCount != 0 {
		t.Fatalf("expected verbatim whitespace chunk, got %+v", chunks[0])
	}
}

func TestSentences(t *testing.T) {
	got := Sentences("  Hello there. How are you?\n\nFine!  3.14 is pi.")
	want := []string{"Hello there.", "How are you?", "Fine!", "3.14 is pi."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected sentences: %q", got)
	}
}

func TestSegmentPacksSentences(t *testing.T) {
	text := buildText(20, 17)
	maxWords := WordsPerChunk(20, 160)
	chunks := Segment(text, maxWords)
	if len(chunks) < 6 || len(chunks) > 8 {
		t.Fatalf("expected about 7 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("expected contiguous index %d, got %d", i, c.Index)
		}
		if c.WordCount > maxWords {
			t.Fatalf("chunk %d has %d words, budget %d", i, c.WordCount, maxWords)
		}
		if c.WordCount != CountWords(c.Text) {
			t.Fatalf("chunk %d word count mismatch", i)
		}
	}
}

func TestSegmentOversizeSentence(t *testing.T) {
	long := strings.TrimSuffix(strings.Repeat("word ", 200), " ") + "."
	text := "Short one. " + long + " Tail sentence."
	chunks := Segment(text, 50)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[1].WordCount != 200 {
		t.Fatalf("expected oversize sentence alone, got %d words", chunks[1].WordCount)
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	texts := []string{
		buildText(40, 9),
		"No terminal punctuation at all",
		"Line one.\nLine two!\tLine three?   Done.",
		"ერთი წინადადება. Второе предложение! Third sentence?",
	}
	for _, text := range texts {
		for _, budget := range []int{1, 20, 53, 1000} {
			var parts []string
			for _, c := range Segment(text, budget) {
				parts = append(parts, c.Text)
			}
			got := strings.Fields(strings.Join(parts, " "))
			want := strings.Fields(text)
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("round trip mismatch for budget %d: %q", budget, got)
			}
		}
	}
}

func buildText(sentences, wordsEach int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		for w := 0; w < wordsEach; w++ {
			if w > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "w%d_%d", i, w)
		}
		b.WriteString(". ")
	}
	return b.String()
}
