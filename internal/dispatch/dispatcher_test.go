package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sgazanfar/avatar-ai-serverless/internal/notify"
	"github.com/sgazanfar/avatar-ai-serverless/internal/pipeline"
	"github.com/sgazanfar/avatar-ai-serverless/internal/protocol"
	"github.com/sgazanfar/avatar-ai-serverless/internal/session"
)

func TestHandleFramePingAnswersPong(t *testing.T) {
	d, reg, conn := newTestDispatcher(t, &stubPipeline{})

	d.HandleFrame(context.Background(), "user-1", []byte(`{"type":"ping"}`))

	sent := conn.snapshot()
	if len(sent) != 1 {
		t.Fatalf("len(sent) = %d, want 1", len(sent))
	}
	if _, ok := sent[0].(protocol.Pong); !ok {
		t.Fatalf("sent[0] = %#v, want pong", sent[0])
	}

	s, err := reg.Get("user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.MessageCount != 0 {
		t.Fatalf("MessageCount = %d, want 0 after ping", s.MessageCount)
	}
}

func TestHandleFrameTextRunsPipeline(t *testing.T) {
	pipe := &stubPipeline{
		processText: func(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
			return pipeline.Result{
				UserInput:  req.Text,
				Text:       "reply to " + req.Text,
				VideoURL:   "https://videos.example.com/1.mp4",
				TokensUsed: 7,
				Elapsed:    120 * time.Millisecond,
			}, nil
		},
	}
	d, reg, conn := newTestDispatcher(t, pipe)

	d.HandleFrame(context.Background(), "user-1", []byte(`{"type":"text_input","text":"hello"}`))

	if pipe.textCalls != 1 {
		t.Fatalf("textCalls = %d, want 1", pipe.textCalls)
	}
	got := pipe.lastRequest
	if got.UserID != "user-1" || got.Text != "hello" {
		t.Fatalf("request = %+v, want user and text forwarded", got)
	}
	if got.Voice != protocol.DefaultVoice || got.AvatarType != protocol.DefaultAvatarType {
		t.Fatalf("request = %+v, want defaults applied", got)
	}

	sent := conn.snapshot()
	if len(sent) != 2 {
		t.Fatalf("len(sent) = %d, want processing + response", len(sent))
	}
	proc, ok := sent[0].(protocol.Processing)
	if !ok || proc.Message != processingTextMessage {
		t.Fatalf("sent[0] = %#v, want processing ack", sent[0])
	}
	resp, ok := sent[1].(protocol.TextResponse)
	if !ok {
		t.Fatalf("sent[1] = %#v, want text response", sent[1])
	}
	if resp.UserInput != "hello" || resp.Text != "reply to hello" {
		t.Fatalf("response = %+v, want echoed input and reply", resp)
	}
	if resp.AvatarVideoURL != "https://videos.example.com/1.mp4" || resp.TokensUsed != 7 {
		t.Fatalf("response = %+v, want video url and token count", resp)
	}
	if resp.ProcessingMS != 120 {
		t.Fatalf("ProcessingMS = %d, want 120", resp.ProcessingMS)
	}

	s, _ := reg.Get("user-1")
	if s.MessageCount != 1 {
		t.Fatalf("MessageCount = %d, want 1", s.MessageCount)
	}
}

func TestHandleFrameAudioDecodesAndResponds(t *testing.T) {
	clip := []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01, 0x02}
	pipe := &stubPipeline{
		processAudio: func(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
			return pipeline.Result{
				UserInput:       "what time is it",
				TranscribedText: "what time is it",
				Text:            "it is noon",
				TokensUsed:      5,
				Elapsed:         time.Second,
			}, nil
		},
	}
	d, _, conn := newTestDispatcher(t, pipe)

	frame, _ := json.Marshal(map[string]string{
		"type":       "audio_input",
		"audio_data": base64.StdEncoding.EncodeToString(clip),
		"voice":      "nova",
	})
	d.HandleFrame(context.Background(), "user-1", frame)

	if pipe.audioCalls != 1 {
		t.Fatalf("audioCalls = %d, want 1", pipe.audioCalls)
	}
	if string(pipe.lastRequest.Audio) != string(clip) {
		t.Fatal("decoded audio bytes not forwarded to pipeline")
	}
	if pipe.lastRequest.Voice != "nova" {
		t.Fatalf("Voice = %q, want explicit nova", pipe.lastRequest.Voice)
	}

	sent := conn.snapshot()
	if len(sent) != 2 {
		t.Fatalf("len(sent) = %d, want processing + response", len(sent))
	}
	proc, ok := sent[0].(protocol.Processing)
	if !ok || proc.Message != processingAudioMessage {
		t.Fatalf("sent[0] = %#v, want audio processing ack", sent[0])
	}
	resp, ok := sent[1].(protocol.AudioResponse)
	if !ok {
		t.Fatalf("sent[1] = %#v, want audio response", sent[1])
	}
	if resp.TranscribedText != "what time is it" || resp.LLMResponse != "it is noon" {
		t.Fatalf("response = %+v, want transcript and reply", resp)
	}
	if resp.ProcessingMS != 1000 {
		t.Fatalf("ProcessingMS = %d, want 1000", resp.ProcessingMS)
	}
}

func TestHandleFrameInvalidJSONKeepsSessionOpen(t *testing.T) {
	d, reg, conn := newTestDispatcher(t, &stubPipeline{})

	d.HandleFrame(context.Background(), "user-1", []byte(`{not json`))

	sent := conn.snapshot()
	if len(sent) != 1 {
		t.Fatalf("len(sent) = %d, want 1 error envelope", len(sent))
	}
	errEnv, ok := sent[0].(protocol.Error)
	if !ok {
		t.Fatalf("sent[0] = %#v, want error envelope", sent[0])
	}
	if errEnv.Message != "Invalid JSON format" {
		t.Fatalf("Message = %q, want friendly json error", errEnv.Message)
	}

	if _, err := reg.Lookup("user-1"); err != nil {
		t.Fatalf("session gone after malformed frame: %v", err)
	}
	s, _ := reg.Get("user-1")
	if s.MessageCount != 0 {
		t.Fatalf("MessageCount = %d, want 0 after rejected frame", s.MessageCount)
	}
}

func TestHandleFrameValidationErrorsSurfaceVerbatim(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		want  string
	}{
		{"empty text", `{"type":"text_input","text":""}`, protocol.ErrEmptyText.Error()},
		{"missing audio", `{"type":"audio_input"}`, protocol.ErrEmptyAudio.Error()},
		{"bad base64", `{"type":"audio_input","audio_data":"!!!"}`, protocol.ErrBadAudio.Error()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pipe := &stubPipeline{}
			d, _, conn := newTestDispatcher(t, pipe)

			d.HandleFrame(context.Background(), "user-1", []byte(tc.frame))

			sent := conn.snapshot()
			if len(sent) != 1 {
				t.Fatalf("len(sent) = %d, want 1", len(sent))
			}
			errEnv, ok := sent[0].(protocol.Error)
			if !ok {
				t.Fatalf("sent[0] = %#v, want error envelope", sent[0])
			}
			if errEnv.Message != tc.want {
				t.Fatalf("Message = %q, want %q", errEnv.Message, tc.want)
			}
			if pipe.textCalls+pipe.audioCalls != 0 {
				t.Fatal("pipeline ran for an invalid frame")
			}
		})
	}
}

func TestHandleFrameStageErrorNamesStage(t *testing.T) {
	pipe := &stubPipeline{
		processText: func(context.Context, pipeline.Request) (pipeline.Result, error) {
			return pipeline.Result{}, &pipeline.StageError{
				Stage: pipeline.StageGeneration,
				Err:   errors.New("llm down"),
			}
		},
	}
	d, _, conn := newTestDispatcher(t, pipe)

	d.HandleFrame(context.Background(), "user-1", []byte(`{"type":"text_input","text":"hi"}`))

	sent := conn.snapshot()
	if len(sent) != 2 {
		t.Fatalf("len(sent) = %d, want processing + error", len(sent))
	}
	errEnv, ok := sent[1].(protocol.Error)
	if !ok {
		t.Fatalf("sent[1] = %#v, want error envelope", sent[1])
	}
	if errEnv.Message != "Error processing your message" {
		t.Fatalf("Message = %q, want pipeline error text", errEnv.Message)
	}
	if errEnv.Stage != pipeline.StageGeneration || errEnv.Details != "llm down" {
		t.Fatalf("envelope = %+v, want stage and detail", errEnv)
	}
}

func TestHandleFrameForGoneUserStillRunsPipeline(t *testing.T) {
	reg := session.NewRegistry(0)
	pipe := &stubPipeline{}
	d := NewDispatcher(reg, pipe, notify.NewNotifier(reg, nil), nil, 0)

	// Session dropped between read and dispatch. Nothing to deliver to,
	// but the frame must not panic or wedge.
	d.HandleFrame(context.Background(), "ghost", []byte(`{"type":"text_input","text":"hi"}`))

	if pipe.textCalls != 1 {
		t.Fatalf("textCalls = %d, want 1", pipe.textCalls)
	}
}

func newTestDispatcher(t *testing.T, pipe *stubPipeline) (*Dispatcher, *session.Registry, *scriptConn) {
	t.Helper()
	reg := session.NewRegistry(0)
	conn := &scriptConn{}
	reg.Register("user-1", conn)
	d := NewDispatcher(reg, pipe, notify.NewNotifier(reg, nil), nil, 0)
	return d, reg, conn
}

type stubPipeline struct {
	mu           sync.Mutex
	textCalls    int
	audioCalls   int
	lastRequest  pipeline.Request
	processText  func(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	processAudio func(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

func (s *stubPipeline) ProcessText(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	s.mu.Lock()
	s.textCalls++
	s.lastRequest = req
	s.mu.Unlock()
	if s.processText == nil {
		return pipeline.Result{}, nil
	}
	return s.processText(ctx, req)
}

func (s *stubPipeline) ProcessAudio(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	s.mu.Lock()
	s.audioCalls++
	s.lastRequest = req
	s.mu.Unlock()
	if s.processAudio == nil {
		return pipeline.Result{}, nil
	}
	return s.processAudio(ctx, req)
}

type scriptConn struct {
	mu   sync.Mutex
	sent []any
}

func (c *scriptConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *scriptConn) Close() error { return nil }

func (c *scriptConn) snapshot() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.sent...)
}
