package pipeline

import (
	"context"
	"errors"

	"github.com/sgazanfar/avatar-ai-serverless/internal/memory"
)

// Stage names used in error envelopes, metrics labels, and the rolling
// latency window.
const (
	StageTranscription = "transcription"
	StageGeneration    = "generation"
	StageSynthesis     = "synthesis"
	StageAvatarVideo   = "avatar_video"
	StagePipelineTotal = "pipeline_total"
)

// ErrNotConfigured marks a provider with no external backend behind it.
var ErrNotConfigured = errors.New("pipeline: provider not configured")

// Reply is the generation stage output.
type Reply struct {
	Text       string
	TokensUsed int
}

// Video is the avatar render stage output.
type Video struct {
	URL    string
	TalkID string
	Mock   bool
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type Responder interface {
	Respond(ctx context.Context, userInput string, history []memory.Message) (Reply, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

type AvatarRenderer interface {
	Render(ctx context.Context, speech []byte, avatarType string) (Video, error)
}

// HealthChecker is implemented by providers that can probe their backend.
// Providers return ErrNotConfigured when there is no backend to reach.
type HealthChecker interface {
	Healthcheck(ctx context.Context) error
}

// StageError attributes a pipeline failure to the external stage that
// caused it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }
