package pipeline

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/sgazanfar/avatar-ai-serverless/internal/artifact"
	"github.com/sgazanfar/avatar-ai-serverless/internal/memory"
	"github.com/sgazanfar/avatar-ai-serverless/internal/observability"
	"github.com/sgazanfar/avatar-ai-serverless/internal/privacy"
)

// Request carries one user turn into the pipeline.
type Request struct {
	UserID     string
	Text       string
	Audio      []byte
	Voice      string
	AvatarType string
}

// Result aggregates the stage outputs for one turn. Partial marks a turn
// whose reply succeeded but whose speech or video stage did not; the reply
// is still delivered without a video URL.
type Result struct {
	UserInput       string
	TranscribedText string
	Text            string
	TokensUsed      int
	VideoURL        string
	CacheHit        bool
	Partial         bool
	Elapsed         time.Duration
}

// Options bound each external stage call. A zero timeout leaves the stage
// bounded only by the caller's context.
type Options struct {
	HistoryContext int
	STTTimeout     time.Duration
	LLMTimeout     time.Duration
	TTSTimeout     time.Duration
	AvatarTimeout  time.Duration
}

// Orchestrator runs the stage sequence for each turn: transcription (audio
// input only), generation, then synthesis and avatar render with the
// artifact cache consulted in between. Generation failures abort the turn;
// synthesis and render failures degrade it to a partial result.
type Orchestrator struct {
	transcriber Transcriber
	responder   Responder
	synthesizer Synthesizer
	avatar      AvatarRenderer
	history     memory.Store
	cache       artifact.Cache
	metrics     *observability.Metrics
	opts        Options
}

func NewOrchestrator(
	transcriber Transcriber,
	responder Responder,
	synthesizer Synthesizer,
	avatar AvatarRenderer,
	history memory.Store,
	cache artifact.Cache,
	metrics *observability.Metrics,
	opts Options,
) *Orchestrator {
	if opts.HistoryContext < 0 {
		opts.HistoryContext = 0
	}
	return &Orchestrator{
		transcriber: transcriber,
		responder:   responder,
		synthesizer: synthesizer,
		avatar:      avatar,
		history:     history,
		cache:       cache,
		metrics:     metrics,
		opts:        opts,
	}
}

// ProcessText runs generation, synthesis, and avatar render for direct text
// input.
func (o *Orchestrator) ProcessText(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	res, err := o.respond(ctx, req)
	if err != nil {
		o.metrics.IncPipelineRun("text", "error")
		return Result{}, err
	}

	res.UserInput = req.Text
	res.Elapsed = time.Since(start)
	o.finishTurn("text", res)
	return res, nil
}

// ProcessAudio transcribes the clip first, then runs the same flow as text
// input on the transcript.
func (o *Orchestrator) ProcessAudio(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	var transcript string
	err := o.runStage(ctx, StageTranscription, o.opts.STTTimeout, func(ctx context.Context) error {
		var err error
		transcript, err = o.transcriber.Transcribe(ctx, req.Audio)
		return err
	})
	if err != nil {
		o.metrics.IncPipelineRun("audio", "error")
		return Result{}, err
	}
	loggedTranscript, _ := privacy.ScrubPII(transcript)
	log.Printf("pipeline: transcribed %d bytes for user %s: %.50s", len(req.Audio), req.UserID, loggedTranscript)

	req.Text = transcript
	res, err := o.respond(ctx, req)
	if err != nil {
		o.metrics.IncPipelineRun("audio", "error")
		return Result{}, err
	}

	res.TranscribedText = transcript
	res.Elapsed = time.Since(start)
	o.finishTurn("audio", res)
	return res, nil
}

// respond is the shared tail of both input paths: generation, history
// update, cache lookup, synthesis, render, cache fill.
func (o *Orchestrator) respond(ctx context.Context, req Request) (Result, error) {
	history := o.recentHistory(ctx, req.UserID)

	var reply Reply
	err := o.runStage(ctx, StageGeneration, o.opts.LLMTimeout, func(ctx context.Context) error {
		var err error
		reply, err = o.responder.Respond(ctx, req.Text, history)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	o.metrics.AddTokensUsed(reply.TokensUsed)

	// The exchange is part of history even when later stages fail; the
	// reply text is delivered regardless.
	o.saveExchange(ctx, req.UserID, req.Text, reply.Text)

	res := Result{Text: reply.Text, TokensUsed: reply.TokensUsed}

	key := artifact.Key(reply.Text, req.Voice, req.AvatarType)
	switch url, err := o.cache.Get(ctx, key); {
	case err == nil:
		o.metrics.IncCacheLookup("hit")
		o.metrics.ObserveIndicator("cache_hit")
		res.VideoURL = url
		res.CacheHit = true
		return res, nil
	case errors.Is(err, artifact.ErrNotFound):
		o.metrics.IncCacheLookup("miss")
	default:
		log.Printf("pipeline: artifact cache get: %v", err)
		o.metrics.IncCacheLookup("error")
	}

	var speech []byte
	err = o.runStage(ctx, StageSynthesis, o.opts.TTSTimeout, func(ctx context.Context) error {
		var err error
		speech, err = o.synthesizer.Synthesize(ctx, reply.Text, req.Voice)
		return err
	})
	if err != nil {
		log.Printf("pipeline: synthesis failed for user %s, returning text only: %v", req.UserID, err)
		res.Partial = true
		return res, nil
	}

	var video Video
	err = o.runStage(ctx, StageAvatarVideo, o.opts.AvatarTimeout, func(ctx context.Context) error {
		var err error
		video, err = o.avatar.Render(ctx, speech, req.AvatarType)
		return err
	})
	if err != nil {
		log.Printf("pipeline: avatar render failed for user %s, returning without video: %v", req.UserID, err)
		res.Partial = true
		return res, nil
	}

	res.VideoURL = video.URL
	if video.Mock {
		o.metrics.ObserveIndicator("mock_video")
	} else if video.URL != "" {
		if err := o.cache.Put(ctx, key, video.URL); err != nil {
			log.Printf("pipeline: artifact cache put: %v", err)
		}
	}
	return res, nil
}

func (o *Orchestrator) finishTurn(kind string, res Result) {
	o.metrics.ObserveStage(StagePipelineTotal, res.Elapsed)
	if res.Partial {
		o.metrics.ObserveIndicator("partial_response")
		o.metrics.IncPipelineRun(kind, "partial")
		return
	}
	o.metrics.IncPipelineRun(kind, "ok")
}

// runStage bounds one external call and records its latency. Failures come
// back as a StageError naming the stage, with timeouts counted separately.
func (o *Orchestrator) runStage(ctx context.Context, stage string, timeout time.Duration, fn func(context.Context) error) error {
	cancel := func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	o.metrics.ObserveStage(stage, time.Since(start))
	if err != nil {
		o.metrics.IncStageError(stage, failReason(err))
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

func failReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func (o *Orchestrator) recentHistory(ctx context.Context, userID string) []memory.Message {
	if o.opts.HistoryContext <= 0 {
		return nil
	}
	history, err := o.history.Recent(ctx, userID, o.opts.HistoryContext)
	if err != nil {
		// A reply without context beats no reply.
		log.Printf("pipeline: load history for user %s: %v", userID, err)
		return nil
	}
	return history
}

func (o *Orchestrator) saveExchange(ctx context.Context, userID, userMsg, assistantMsg string) {
	if err := o.history.AppendExchange(ctx, userID, userMsg, assistantMsg); err != nil {
		log.Printf("pipeline: save history for user %s: %v", userID, err)
	}
}

// Health probes every pipeline collaborator with the caller's deadline.
// Values follow the convention "healthy", "not configured", or
// "unhealthy: <detail>".
func (o *Orchestrator) Health(ctx context.Context) map[string]string {
	return map[string]string{
		"llm":     healthString(probeProvider(ctx, o.responder), ErrNotConfigured),
		"avatar":  healthString(probeProvider(ctx, o.avatar), ErrNotConfigured),
		"cache":   healthString(o.cache.Ping(ctx), artifact.ErrNotConfigured),
		"history": healthString(o.history.Ping(ctx), memory.ErrNotConfigured),
	}
}

func probeProvider(ctx context.Context, v any) error {
	hc, ok := v.(HealthChecker)
	if !ok {
		return ErrNotConfigured
	}
	return hc.Healthcheck(ctx)
}

func healthString(err, notConfigured error) string {
	switch {
	case err == nil:
		return "healthy"
	case errors.Is(err, notConfigured):
		return "not configured"
	default:
		return "unhealthy: " + strings.TrimSpace(err.Error())
	}
}
