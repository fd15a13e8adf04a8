package dispatch

import (
	"context"
	"errors"
	"log"

	"github.com/sgazanfar/avatar-ai-serverless/internal/notify"
	"github.com/sgazanfar/avatar-ai-serverless/internal/observability"
	"github.com/sgazanfar/avatar-ai-serverless/internal/pipeline"
	"github.com/sgazanfar/avatar-ai-serverless/internal/protocol"
	"github.com/sgazanfar/avatar-ai-serverless/internal/session"
)

const (
	processingTextMessage  = "AI is generating response..."
	processingAudioMessage = "Processing voice input..."
)

// Pipeline is the slice of the orchestrator the dispatcher drives.
type Pipeline interface {
	ProcessText(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	ProcessAudio(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Dispatcher routes one inbound websocket frame to the pipeline and pushes
// the acknowledgement, result, or error envelope back through the notifier.
// Malformed frames answer with an error envelope and leave the session
// untouched; only content-bearing frames count toward session activity.
type Dispatcher struct {
	registry     *session.Registry
	pipe         Pipeline
	notifier     *notify.Notifier
	metrics      *observability.Metrics
	maxTextChars int
}

func NewDispatcher(registry *session.Registry, pipe Pipeline, notifier *notify.Notifier, metrics *observability.Metrics, maxTextChars int) *Dispatcher {
	if maxTextChars <= 0 {
		maxTextChars = protocol.DefaultMaxTextChars
	}
	return &Dispatcher{
		registry:     registry,
		pipe:         pipe,
		notifier:     notifier,
		metrics:      metrics,
		maxTextChars: maxTextChars,
	}
}

// HandleFrame processes one raw frame read from userID's connection. It
// blocks for the duration of any pipeline run, so callers decide whether
// frames are handled serially or concurrently.
func (d *Dispatcher) HandleFrame(ctx context.Context, userID string, raw []byte) {
	msg, err := protocol.ParseClientMessage(raw, d.maxTextChars)
	if err != nil {
		d.metrics.IncWSMessage("in", "invalid")
		d.notifier.Notify(userID, protocol.NewError(clientErrorMessage(err)))
		return
	}

	switch m := msg.(type) {
	case protocol.Ping:
		d.metrics.IncWSMessage("in", string(protocol.TypePing))
		_ = d.registry.MarkActivity(userID)
		d.notifier.Notify(userID, protocol.NewPong())

	case protocol.TextInput:
		d.metrics.IncWSMessage("in", string(protocol.TypeTextInput))
		_ = d.registry.Touch(userID)
		d.notifier.Notify(userID, protocol.NewProcessing(processingTextMessage))

		res, err := d.pipe.ProcessText(ctx, pipeline.Request{
			UserID:     userID,
			Text:       m.Text,
			Voice:      m.Voice,
			AvatarType: m.AvatarType,
		})
		if err != nil {
			log.Printf("dispatch: text pipeline for user %s failed: %v", userID, err)
			d.notifier.Notify(userID, pipelineError("Error processing your message", err))
			return
		}
		d.notifier.Notify(userID, protocol.NewTextResponse(
			res.UserInput, res.Text, res.VideoURL, res.TokensUsed, res.Elapsed.Milliseconds()))

	case protocol.AudioInput:
		d.metrics.IncWSMessage("in", string(protocol.TypeAudioInput))
		_ = d.registry.Touch(userID)
		d.notifier.Notify(userID, protocol.NewProcessing(processingAudioMessage))

		res, err := d.pipe.ProcessAudio(ctx, pipeline.Request{
			UserID:     userID,
			Audio:      m.Audio,
			Voice:      m.Voice,
			AvatarType: m.AvatarType,
		})
		if err != nil {
			log.Printf("dispatch: audio pipeline for user %s failed: %v", userID, err)
			d.notifier.Notify(userID, pipelineError("Error processing your voice message", err))
			return
		}
		d.notifier.Notify(userID, protocol.NewAudioResponse(
			res.TranscribedText, res.Text, res.VideoURL, res.TokensUsed, res.Elapsed.Milliseconds()))

	default:
		// ParseClientMessage only returns the variants above.
		log.Printf("dispatch: unhandled message %T from user %s", msg, userID)
	}
}

func clientErrorMessage(err error) string {
	if errors.Is(err, protocol.ErrInvalidJSON) {
		return "Invalid JSON format"
	}
	return err.Error()
}

func pipelineError(message string, err error) protocol.Error {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		return protocol.NewStageError(message, se.Stage, se.Err.Error())
	}
	return protocol.NewStageError(message, "", err.Error())
}
