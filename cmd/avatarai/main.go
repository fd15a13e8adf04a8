package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sgazanfar/avatar-ai-serverless/internal/artifact"
	"github.com/sgazanfar/avatar-ai-serverless/internal/config"
	"github.com/sgazanfar/avatar-ai-serverless/internal/dispatch"
	"github.com/sgazanfar/avatar-ai-serverless/internal/httpapi"
	"github.com/sgazanfar/avatar-ai-serverless/internal/memory"
	"github.com/sgazanfar/avatar-ai-serverless/internal/notify"
	"github.com/sgazanfar/avatar-ai-serverless/internal/observability"
	"github.com/sgazanfar/avatar-ai-serverless/internal/pipeline"
	"github.com/sgazanfar/avatar-ai-serverless/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	historyStore, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.HistoryLimit)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer historyStore.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("history store: in-memory (DATABASE_URL not set)")
	} else {
		log.Printf("history store: postgres")
	}

	videoCache, err := artifact.NewCache(cfg.RedisURL, cfg.ArtifactCacheTTL)
	if err != nil {
		log.Fatalf("artifact cache init failed: %v", err)
	}
	defer videoCache.Close()
	if cfg.RedisURL == "" {
		log.Printf("artifact cache: in-process (REDIS_URL not set)")
	} else {
		log.Printf("artifact cache: redis")
	}

	var (
		transcriber pipeline.Transcriber
		responder   pipeline.Responder
		synthesizer pipeline.Synthesizer
		renderer    pipeline.AvatarRenderer
	)

	tryOpenAI := func() bool {
		if cfg.OpenAIAPIKey == "" {
			return false
		}
		p := pipeline.NewOpenAIProvider(pipeline.OpenAIConfig{
			APIKey:   cfg.OpenAIAPIKey,
			LLMModel: cfg.OpenAILLMModel,
			STTModel: cfg.OpenAISTTModel,
			TTSModel: cfg.OpenAITTSModel,
		})
		transcriber, responder, synthesizer = p, p, p
		log.Printf("ai provider: openai (%s)", cfg.OpenAILLMModel)
		return true
	}

	useMock := func(reason string) {
		p := pipeline.NewMockProvider()
		transcriber, responder, synthesizer, renderer = p, p, p, p
		log.Printf("ai provider: mock (%s)", reason)
	}

	switch cfg.AIProvider {
	case config.ProviderOpenAI:
		if !tryOpenAI() {
			log.Fatalf("AI_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
	case config.ProviderMock:
		useMock("AI_PROVIDER=mock")
	case config.ProviderAuto:
		if !tryOpenAI() {
			useMock("no OPENAI_API_KEY")
		}
	}

	if renderer == nil {
		renderer = pipeline.NewDIDRenderer(pipeline.DIDConfig{
			APIKey:       cfg.DIDAPIKey,
			BaseURL:      cfg.DIDBaseURL,
			PollInterval: cfg.AvatarPollInterval,
		})
		if cfg.DIDAPIKey == "" {
			log.Printf("avatar renderer: DID_API_KEY not set, renders return a stub video")
		}
	}

	registry := session.NewRegistry(cfg.SessionIdleTimeout)
	registry.SetExpireHook(func(_ *session.Session) {
		metrics.IncSessionEvent("expired")
		metrics.SetActiveSessions(registry.ActiveCount())
	})

	orchestrator := pipeline.NewOrchestrator(
		transcriber,
		responder,
		synthesizer,
		renderer,
		historyStore,
		videoCache,
		metrics,
		pipeline.Options{
			HistoryContext: cfg.HistoryContext,
			STTTimeout:     cfg.STTTimeout,
			LLMTimeout:     cfg.LLMTimeout,
			TTSTimeout:     cfg.TTSTimeout,
			AvatarTimeout:  cfg.AvatarTimeout,
		},
	)

	notifier := notify.NewNotifier(registry, metrics)
	dispatcher := dispatch.NewDispatcher(registry, orchestrator, notifier, metrics, cfg.MaxTextChars)

	api := httpapi.New(cfg, registry, dispatcher, orchestrator, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartReaper(runCtx, 30*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	// Websocket connections are hijacked and invisible to Shutdown; close
	// them through the registry.
	registry.CloseAll()

	log.Printf("shutdown complete")
}
