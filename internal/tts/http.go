package tts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/voice"
)

const defaultHTTPOutputFormat = "audio-16khz-128kbitrate-mono-mp3"

// httpSynth posts SSML to a speech REST endpoint. Its client is created on
// first use, shared by all callers and released by Close.
type httpSynth struct {
	endpoint     string
	apiKey       string
	outputFormat string
	timeout      time.Duration

	once   sync.Once
	client *http.Client
}

func NewHTTPSynth(endpoint, apiKey, outputFormat string, timeout time.Duration) (Synthesizer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("http synthesizer endpoint empty")
	}
	if outputFormat == "" {
		outputFormat = defaultHTTPOutputFormat
	}
	return &httpSynth{endpoint: endpoint, apiKey: apiKey, outputFormat: outputFormat, timeout: timeout}, nil
}

func (h *httpSynth) Name() string { return "http" }

func (h *httpSynth) httpClient() *http.Client {
	h.once.Do(func() {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		h.client = &http.Client{Transport: transport, Timeout: h.timeout}
	})
	return h.client
}

// Close releases pooled connections.
func (h *httpSynth) Close() error {
	if h.client != nil {
		h.client.CloseIdleConnections()
	}
	return nil
}

func (h *httpSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := buildSSML(req.Voice, req.Text)
		if err != nil {
			errs <- err
			return
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("build request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/ssml+xml")
		httpReq.Header.Set("X-Microsoft-OutputFormat", h.outputFormat)
		httpReq.Header.Set("User-Agent", "loqa-narrate")
		if h.apiKey != "" {
			httpReq.Header.Set("Ocp-Apim-Subscription-Key", h.apiKey)
		}

		resp, err := h.httpClient().Do(httpReq)
		if err != nil {
			errs <- fmt.Errorf("post ssml: %w", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			errs <- fmt.Errorf("speech endpoint returned %s: %s", resp.Status, bytes.TrimSpace(msg))
			return
		}
		audio, err := io.ReadAll(resp.Body)
		if err != nil {
			errs <- fmt.Errorf("read audio: %w", err)
			return
		}
		emit(ctx, chunks, SynthChunk{JobID: req.JobID, ChunkIndex: req.ChunkIndex, Audio: audio, Final: true})
	}()
	return chunks, errs
}

func buildSSML(voiceName, text string) ([]byte, error) {
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(text)); err != nil {
		return nil, fmt.Errorf("escape ssml text: %w", err)
	}
	var name, locale bytes.Buffer
	if err := xml.EscapeText(&name, []byte(voiceName)); err != nil {
		return nil, fmt.Errorf("escape ssml voice: %w", err)
	}
	if err := xml.EscapeText(&locale, []byte(voice.LocaleOf(voiceName))); err != nil {
		return nil, fmt.Errorf("escape ssml locale: %w", err)
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'>", locale.Bytes())
	fmt.Fprintf(&b, "<voice name='%s'>", name.Bytes())
	b.Write(escaped.Bytes())
	b.WriteString("</voice></speak>")
	return b.Bytes(), nil
}
