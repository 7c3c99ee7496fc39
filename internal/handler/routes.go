package handler

import (
	"context"
	"net/http"

	"github.com/ClareAI/astra-telephony-gateway/internal/config"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/dialog"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/mediastream"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/metrics"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/voice"
	"github.com/ClareAI/astra-telephony-gateway/internal/domain"
	"github.com/ClareAI/astra-telephony-gateway/internal/services/call"
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/ClareAI/astra-telephony-gateway/pkg/twilio"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CallService is the part of call.VoiceCallService the HTTP surface drives
type CallService interface {
	HandleWebhook(ctx context.Context, ev dialog.Event) (call.WebhookResult, error)
	StreamSetup(ctx context.Context, ev dialog.Event) (call.WebhookResult, error)
	AttachStream(callSid string, conn mediastream.Conn) (*mediastream.Session, error)
	ServeStream(ctx context.Context, sess *mediastream.Session)
	Hangup(ctx context.Context, callSid string) (domain.CallRecord, error)
	ListActive(ctx context.Context) ([]domain.CallRecord, error)
	GetCall(ctx context.Context, callSid string) (domain.CallRecord, bool, error)
	ActiveStreams() int
}

// Options carries the optional collaborators of the HTTP surface
type Options struct {
	// Clips serves synthesized audio; nil disables the audio route.
	Clips *voice.ClipCache
	// Signatures validates provider webhooks; nil disables validation.
	Signatures *twilio.SignatureValidator
	Metrics    *metrics.Metrics
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

// HandlerManager owns the gateway's HTTP handlers
type HandlerManager struct {
	config     *config.GatewayConfig
	service    CallService
	clips      *voice.ClipCache
	signatures *twilio.SignatureValidator
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
}

// NewHandlerManager creates the handlers around service
func NewHandlerManager(cfg *config.GatewayConfig, service CallService, opts Options) *HandlerManager {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	return &HandlerManager{
		config:     cfg,
		service:    service,
		clips:      opts.Clips,
		signatures: opts.Signatures,
		metrics:    opts.Metrics,
		gatherer:   opts.Gatherer,
	}
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(GlobalLoggingMiddleware)

	hm.SetupTwilioRoutes(router)
	hm.SetupMediaStreamRoutes(router)
	hm.SetupCallRoutes(router)
	hm.SetupAudioRoutes(router)
	hm.SetupOpsRoutes(router)

	logger.Base().Info("all application routes registered")
}

// SetupTwilioRoutes sets up the provider webhooks
func (hm *HandlerManager) SetupTwilioRoutes(router *mux.Router) {
	twilioRouter := router.PathPrefix("/twilio").Subrouter()
	twilioRouter.Use(RecoverMiddleware(hm.metrics))
	if hm.signatures != nil {
		twilioRouter.Use(TwilioSignatureMiddleware(hm.signatures, hm.config.PublicBaseURL))
		logger.Base().Info("twilio webhooks protected with signature validation")
	}

	webhookHandler := NewTwilioWebhookHandler(hm.service, hm.metrics)
	webhookHandler.SetupTwilioWebhookRoutes(twilioRouter)

	logger.Base().Info("twilio webhook routes registered")
}

// SetupMediaStreamRoutes sets up the media stream upgrade endpoint
func (hm *HandlerManager) SetupMediaStreamRoutes(router *mux.Router) {
	streamHandler := NewMediaStreamHandler(hm.service, hm.config.UpgradesPerSecond, hm.config.UpgradeBurst, hm.metrics)
	streamHandler.SetupMediaStreamRoutes(router)

	logger.Base().Info("media stream routes registered",
		zap.Float64("upgrades_per_second", hm.config.UpgradesPerSecond),
		zap.Int("upgrade_burst", hm.config.UpgradeBurst))
}

// SetupCallRoutes sets up the call inspection and admin routes
func (hm *HandlerManager) SetupCallRoutes(router *mux.Router) {
	callsRouter := router.PathPrefix("/calls").Subrouter()
	callsRouter.Use(LoggingMiddleware)
	if hm.config.SecretKey != "" {
		callsRouter.Use(APIKeyMiddleware(hm.config.SecretKey))
		logger.Base().Info("call routes protected with api key middleware")
	} else {
		logger.Base().Info("call routes registered without api key (development mode)")
	}

	callsHandler := NewCallsHandler(hm.service)
	callsHandler.SetupCallRoutes(callsRouter)
}

// SetupAudioRoutes sets up the synthesized clip route
func (hm *HandlerManager) SetupAudioRoutes(router *mux.Router) {
	if hm.clips == nil {
		logger.Base().Info("audio routes disabled, no clip cache")
		return
	}
	audioHandler := NewAudioHandler(hm.clips)
	audioHandler.SetupAudioRoutes(router)
}

// SetupOpsRoutes sets up health and metrics
func (hm *HandlerManager) SetupOpsRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", hm.handleHealth).Methods(http.MethodGet)
	if hm.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(hm.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

func (hm *HandlerManager) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"instance_id":    hm.config.InstanceID,
		"active_streams": hm.service.ActiveStreams(),
	})
}
