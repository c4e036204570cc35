package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lmoretti/voicedesk/internal/broadcast"
	"github.com/lmoretti/voicedesk/internal/care"
	"github.com/lmoretti/voicedesk/internal/config"
	"github.com/lmoretti/voicedesk/internal/httpapi"
	"github.com/lmoretti/voicedesk/internal/observability"
	"github.com/lmoretti/voicedesk/internal/pool"
	"github.com/lmoretti/voicedesk/internal/reply"
	"github.com/lmoretti/voicedesk/internal/sentiment"
	"github.com/lmoretti/voicedesk/internal/store"
	"github.com/lmoretti/voicedesk/internal/voice"
)

func main() {
	// Local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()

	var broker broadcast.Broker
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisBroker, err := broadcast.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("redis broker init failed: %v", err)
		}
		if err := redisBroker.Ping(ctx); err != nil {
			log.Fatalf("redis unreachable at %s: %v", cfg.RedisAddr, err)
		}
		defer redisBroker.Close()
		broker = redisBroker
		log.Printf("broadcast: redis pub/sub at %s", cfg.RedisAddr)
	} else {
		broker = broadcast.NewMemory()
		log.Printf("broadcast: in-process")
	}

	summaryStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("summary store init failed: %v", err)
	}
	defer summaryStore.Close()

	transport := voice.NewTransport(voice.Config{
		WSBaseURL:      cfg.VoiceWSBaseURL,
		APIKey:         cfg.VoiceAPIKey,
		ConnectTimeout: cfg.ConnectTimeout,
		SampleRate:     cfg.VoiceSampleRate,
	}, broker, metrics)

	linkPool := pool.New(pool.Config{
		MaxLinks:          cfg.MaxConcurrentLinks,
		QueueTimeout:      cfg.QueueTimeout,
		ConnectRetries:    cfg.ConnectRetries,
		ConnectRetryDelay: cfg.ConnectRetryDelay,
	}, transport, metrics)
	transport.SetClosedHook(linkPool.HandleLinkClosed)
	defer linkPool.Close()

	var generator reply.Generator = reply.NewStatic()
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		generator = &reply.WithFallback{
			Primary: reply.NewOpenAI(reply.OpenAIConfig{
				APIKey:  cfg.OpenAIAPIKey,
				BaseURL: cfg.OpenAIBaseURL,
				Model:   cfg.ReplyModel,
			}),
			Fallback: reply.NewStatic(),
		}
		log.Printf("reply generator: openai (%s)", cfg.ReplyModel)
	} else {
		log.Printf("reply generator: static playbook (no OPENAI_API_KEY)")
	}

	orchestrator := care.New(care.Config{
		EscalationThreshold: cfg.EscalationThreshold,
		IdleLinkTimeout:     cfg.IdleLinkTimeout,
		IdleSessionTimeout:  cfg.IdleSessionTimeout,
		DefaultSelection: voice.Selection{
			VoiceID:   cfg.VoiceDefaultID,
			Style:     cfg.VoiceStyle,
			Rate:      cfg.VoiceRate,
			Pitch:     cfg.VoicePitch,
			Variation: cfg.VoiceVariation,
		},
	}, linkPool, broker, sentiment.NewLexicon(), generator, summaryStore, metrics)

	api := httpapi.New(cfg, orchestrator, broker, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	orchestrator.StartReaper(runCtx, cfg.ReaperInterval)

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

	log.Printf("shutdown complete")
}
