package tts

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/audio"
	"github.com/loqalabs/loqa-narrate/internal/segment"
)

const mockSampleRate = 16000

// mockSynth renders a WAV tone whose length is proportional to the word
// count of the request.
type mockSynth struct {
	perWord time.Duration
	latency time.Duration
}

func NewMockSynth(perWord, latency time.Duration) Synthesizer {
	if perWord <= 0 {
		perWord = 50 * time.Millisecond
	}
	return &mockSynth{perWord: perWord, latency: latency}
}

func (m *mockSynth) Name() string { return "mock" }

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if m.latency > 0 {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-time.After(m.latency):
			}
		}
		words := segment.CountWords(req.Text)
		if words == 0 {
			words = 1
		}
		data, err := audio.WAVBytes(audio.Tone(time.Duration(words)*m.perWord, mockSampleRate, 440))
		if err != nil {
			errs <- err
			return
		}
		chunks <- SynthChunk{JobID: req.JobID, ChunkIndex: req.ChunkIndex, Audio: data, Final: true}
	}()
	return chunks, errs
}
