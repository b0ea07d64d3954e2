package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsActionRun      = "run-task"
	wsActionContinue = "continue-task"
	wsActionFinish   = "finish-task"

	wsEventStarted  = "task-started"
	wsEventFinished = "task-finished"
	wsEventFailed   = "task-failed"
)

type wsHeader struct {
	Action       string `json:"action,omitempty"`
	Event        string `json:"event,omitempty"`
	TaskID       string `json:"task_id"`
	Streaming    string `json:"streaming,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type wsMessage struct {
	Header  wsHeader       `json:"header"`
	Payload map[string]any `json:"payload"`
}

// wsSynth speaks the duplex task protocol: run-task, continue-task with the
// text, finish-task, then binary audio frames until task-finished. Every
// request opens its own connection so workers never share a session, and
// the whole exchange is bounded by timeout.
type wsSynth struct {
	endpoint string
	apiKey   string
	format   string
	timeout  time.Duration
	dialer   *websocket.Dialer
}

func NewWebsocketSynth(endpoint, apiKey, format string, timeout time.Duration) (Synthesizer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("websocket synthesizer endpoint empty")
	}
	if format == "" {
		format = "mp3"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &wsSynth{
		endpoint: endpoint,
		apiKey:   apiKey,
		format:   format,
		timeout:  timeout,
		dialer:   &websocket.Dialer{HandshakeTimeout: timeout},
	}, nil
}

func (w *wsSynth) Name() string { return "websocket" }

func (w *wsSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := w.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (w *wsSynth) run(ctx context.Context, req SynthRequest, chunks chan<- SynthChunk) error {
	header := http.Header{}
	if w.apiKey != "" {
		header.Set("Authorization", "bearer "+w.apiKey)
	}
	conn, _, err := w.dialer.DialContext(ctx, w.endpoint, header)
	if err != nil {
		return fmt.Errorf("dial speech socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(w.timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	taskID := uuid.NewString()
	run := wsMessage{
		Header: wsHeader{Action: wsActionRun, TaskID: taskID, Streaming: "duplex"},
		Payload: map[string]any{
			"task_group": "audio",
			"task":       "tts",
			"function":   "SpeechSynthesizer",
			"parameters": map[string]any{
				"text_type": "PlainText",
				"voice":     req.Voice,
				"format":    w.format,
			},
			"input": map[string]any{},
		},
	}
	if err := conn.WriteJSON(run); err != nil {
		return fmt.Errorf("send run-task: %w", err)
	}

	started := false
	sequence := 0
	for {
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read speech socket: %w", err)
		}
		switch mt {
		case websocket.BinaryMessage:
			audio := append([]byte(nil), payload...)
			if !emit(ctx, chunks, SynthChunk{JobID: req.JobID, ChunkIndex: req.ChunkIndex, Sequence: sequence, Audio: audio}) {
				return ctx.Err()
			}
			sequence++
		case websocket.TextMessage:
			var msg wsMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				return fmt.Errorf("decode speech event: %w", err)
			}
			switch strings.ToLower(msg.Header.Event) {
			case wsEventStarted:
				if started {
					continue
				}
				started = true
				if err := w.sendText(conn, taskID, req.Text); err != nil {
					return err
				}
			case wsEventFinished:
				if sequence == 0 {
					return ErrEmptyAudio
				}
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			case wsEventFailed:
				return errors.New("speech task failed: " + strings.TrimSpace(msg.Header.ErrorCode+" "+msg.Header.ErrorMessage))
			}
		}
	}
}

func (w *wsSynth) sendText(conn *websocket.Conn, taskID, text string) error {
	cont := wsMessage{
		Header:  wsHeader{Action: wsActionContinue, TaskID: taskID, Streaming: "duplex"},
		Payload: map[string]any{"input": map[string]any{"text": text}},
	}
	if err := conn.WriteJSON(cont); err != nil {
		return fmt.Errorf("send continue-task: %w", err)
	}
	finish := wsMessage{
		Header:  wsHeader{Action: wsActionFinish, TaskID: taskID, Streaming: "duplex"},
		Payload: map[string]any{"input": map[string]any{}},
	}
	if err := conn.WriteJSON(finish); err != nil {
		return fmt.Errorf("send finish-task: %w", err)
	}
	return nil
}
