package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/config"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/callstore"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/dialog"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/event"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/mediastream"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/metrics"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/model/openai"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/session"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/task"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/voice"
	"github.com/ClareAI/astra-telephony-gateway/internal/handler"
	"github.com/ClareAI/astra-telephony-gateway/internal/services/call"
	"github.com/ClareAI/astra-telephony-gateway/internal/storage"
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/ClareAI/astra-telephony-gateway/pkg/pubsub"
	"github.com/ClareAI/astra-telephony-gateway/pkg/redis"
	"github.com/ClareAI/astra-telephony-gateway/pkg/twilio"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const shutdownTimeout = 20 * time.Second

// Server is the telephony gateway process
type Server struct {
	config   *config.GatewayConfig
	router   *mux.Router
	service  *call.VoiceCallService
	store    callstore.Store
	eventBus *event.DefaultEventBus
	closers  []func() error
}

// NewServer wires every component from cfg. Optional integrations that fail
// to start are logged and left out.
func NewServer(ctx context.Context, cfg *config.GatewayConfig) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	s := &Server{config: cfg, router: mux.NewRouter(), store: callstore.NewMemoryStore()}

	streams := mediastream.NewManager(mediastream.ManagerOptions{MaxFrames: cfg.MaxFrames, Metrics: m})
	orchestrator := dialog.NewOrchestrator(dialog.Options{
		ActionBaseURL: cfg.PublicBaseURL,
		Voice:         cfg.SayVoice,
		Language:      cfg.SayLanguage,
		Greeting:      cfg.GreetingText,
		GatherTimeout: cfg.GatherTimeout,
		SpeechTimeout: cfg.SpeechTimeout,
		MaxTurns:      cfg.MaxTurns,
	})

	providers := openai.NewProviderSet(cfg)
	logger.Base().Info("collaborators configured",
		zap.String("provider", string(providers.Type)),
		zap.Bool("completion", providers.Completer != nil),
		zap.Bool("synthesis", providers.Synthesizer != nil),
		zap.Bool("transcription", providers.Transcriber != nil))

	var clips *voice.ClipCache
	var upgrader *voice.Upgrader
	if providers.Synthesizer != nil {
		var err error
		clips, err = voice.NewClipCache(cfg.TTSClipCacheSize)
		if err != nil {
			return nil, err
		}
		upgrader = voice.NewUpgrader(voice.UpgraderOptions{
			Synthesizer:   providers.Synthesizer,
			Cache:         clips,
			PublicBaseURL: cfg.PublicBaseURL,
			Voice:         cfg.OpenAITTSVoice,
			Metrics:       m,
		})
		if upgrader == nil {
			logger.Base().Warn("speech synthesis disabled, PUBLIC_BASE_URL is not set")
		}
	}

	recorder, err := storage.NewRecorder(ctx, cfg)
	if err != nil {
		logger.Base().Warn("failed to initialize recorder, continuing without recordings", zap.Error(err))
	} else if recorder != nil {
		s.closers = append(s.closers, recorder.Close)
	}

	var sessions *session.Manager
	var tasks task.Bus
	if cfg.RedisHost != "" {
		redisSvc, err := redis.NewRedisService(&redis.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize redis service, running without session manager", zap.Error(err))
		} else {
			sessions = session.NewManager(redisSvc, cfg.InstanceID)
			tasks = task.NewRedisBus(redisSvc, cfg.InstanceID)
			s.closers = append(s.closers, redisSvc.Close)
			logger.Base().Info("session manager and task bus initialized", zap.String("pod_id", cfg.InstanceID))
		}
	}

	var publisher call.SummaryPublisher
	if cfg.PubSubProjectID != "" && cfg.PubSubTopicName != "" {
		ps, err := pubsub.NewPubSubService(ctx, &pubsub.PubSubConfig{ProjectID: cfg.PubSubProjectID, TopicName: cfg.PubSubTopicName})
		if err != nil {
			logger.Base().Warn("failed to initialize pubsub, call summaries disabled", zap.Error(err))
		} else {
			publisher = ps
			s.closers = append(s.closers, ps.Close)
		}
	}

	var callControl call.CallController
	if cc := twilio.NewCallControl(cfg.TwilioAccountSID, cfg.TwilioAuthToken); cc.Enabled() {
		callControl = cc
	}
	var signatures *twilio.SignatureValidator
	if cfg.TwilioValidateSignature && cfg.TwilioAuthToken != "" {
		signatures = twilio.NewSignatureValidator(cfg.TwilioAuthToken)
	}

	s.eventBus = event.NewEventBus()
	for _, mw := range event.CreateDefaultMiddlewareChain() {
		s.eventBus.Use(mw)
	}

	s.service = call.NewVoiceCallService(call.Dependencies{
		Config:       cfg,
		Store:        s.store,
		Orchestrator: orchestrator,
		Streams:      streams,
		Providers:    providers,
		Voice:        upgrader,
		Recorder:     recorder,
		Sessions:     sessions,
		Publisher:    publisher,
		CallControl:  callControl,
		EventBus:     s.eventBus,
		Tasks:        tasks,
		Metrics:      m,
	})

	handler.NewHandlerManager(cfg, s.service, handler.Options{
		Clips:      clips,
		Signatures: signatures,
		Metrics:    m,
		Gatherer:   registry,
	}).SetupAllRoutes(s.router)

	return s, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	if err := s.service.Start(ctx); err != nil {
		logger.Base().Warn("cleanup broadcasts unavailable", zap.Error(err))
	}
	go callstore.StartReaper(ctx, s.store, s.config.ReapInterval, s.config.RecordRetention)

	addr := fmt.Sprintf(":%s", s.config.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// media streams are long-lived; webhook writes are small
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Base().Info("Starting server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Base().Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Base().Warn("http server shutdown", zap.Error(err))
	}
	if err := s.service.Shutdown(shutdownCtx); err != nil {
		logger.Base().Warn("call service shutdown", zap.Error(err))
	}
	if err := s.eventBus.Close(); err != nil {
		logger.Base().Warn("event bus shutdown", zap.Error(err))
	}
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			logger.Base().Warn("close dependency", zap.Error(err))
		}
	}
	return nil
}

func main() {
	// Load .env file for local development if it exists
	// This will not override environment variables set by Helm/Docker
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := config.LoadGatewayConfig()
	if _, err := logger.Init(cfg.LogEnv); err != nil {
		log.Printf("Failed to initialize zap logger, falling back to std log: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Base().Fatal("Invalid configuration", zap.Error(err))
	}
	fmt.Printf("Starting Astra Telephony Gateway (Instance: %s)\n", cfg.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Base().Fatal("Failed to create server", zap.Error(err))
	}
	logger.Base().Info("Server initialized successfully",
		zap.String("port", cfg.Port),
		zap.String("instance_id", cfg.InstanceID),
		zap.String("public_base_url", cfg.PublicBaseURL))

	if err := server.Run(ctx); err != nil {
		logger.Base().Fatal("Server failed", zap.Error(err))
	}
}
