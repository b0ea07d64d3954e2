package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/polly"
)

const defaultPollyVoice = "Emma"

type pollySynth struct {
	svc     *polly.Polly
	voiceID string
}

// NewPollySynth uses static credentials when both keys are set and the
// default AWS credential chain otherwise.
func NewPollySynth(region, accessKeyID, secretAccessKey, voiceID string) (Synthesizer, error) {
	if region == "" {
		return nil, errors.New("aws region required")
	}
	cfg := &aws.Config{Region: aws.String(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKeyID, secretAccessKey, "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	if voiceID == "" {
		voiceID = defaultPollyVoice
	}
	return &pollySynth{svc: polly.New(sess), voiceID: voiceID}, nil
}

func (p *pollySynth) Name() string { return "polly" }

func (p *pollySynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		resp, err := p.svc.SynthesizeSpeechWithContext(ctx, &polly.SynthesizeSpeechInput{
			OutputFormat: aws.String(polly.OutputFormatMp3),
			VoiceId:      aws.String(p.voiceID),
			Text:         aws.String(req.Text),
		})
		if err != nil {
			errs <- fmt.Errorf("polly synthesize: %w", err)
			return
		}
		defer resp.AudioStream.Close()

		buf := make([]byte, 32*1024)
		sequence := 0
		for {
			n, err := resp.AudioStream.Read(buf)
			if n > 0 {
				audio := append([]byte(nil), buf[:n]...)
				if !emit(ctx, chunks, SynthChunk{JobID: req.JobID, ChunkIndex: req.ChunkIndex, Sequence: sequence, Audio: audio}) {
					errs <- ctx.Err()
					return
				}
				sequence++
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("read polly stream: %w", err)
				return
			}
		}
	}()
	return chunks, errs
}
