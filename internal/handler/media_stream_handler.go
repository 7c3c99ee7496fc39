package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/core/mediastream"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/metrics"
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MediaStreamPath is the route of the provider's media stream websocket
const MediaStreamPath = "/media-stream/{callSid:[A-Za-z0-9_-]{1,64}}"

// MediaStreamHandler upgrades provider connections and hands them to the call service
type MediaStreamHandler struct {
	service  CallService
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
}

// NewMediaStreamHandler creates the handler. A non-positive rate disables throttling.
func NewMediaStreamHandler(service CallService, perSecond float64, burst int, m *metrics.Metrics) *MediaStreamHandler {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &MediaStreamHandler{
		service: service,
		limiter: rate.NewLimiter(limit, burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the provider connects from its own origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics: m,
	}
}

func (h *MediaStreamHandler) SetupMediaStreamRoutes(router *mux.Router) {
	router.HandleFunc(MediaStreamPath, h.HandleMediaStream).Methods(http.MethodGet)
}

// HandleMediaStream serves one media stream until it is torn down
func (h *MediaStreamHandler) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	callSid := mux.Vars(r)["callSid"]
	if !mediastream.ValidCallSid(callSid) {
		h.metrics.StreamsRejected.WithLabelValues("invalid_call_sid").Inc()
		http.Error(w, "invalid call sid", http.StatusBadRequest)
		return
	}
	if !h.limiter.Allow() {
		h.metrics.StreamsRejected.WithLabelValues("rate_limited").Inc()
		logger.Base().Warn("media stream upgrade throttled", zap.String("call_sid", callSid))
		http.Error(w, "too many stream upgrades", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		logger.Base().Warn("media stream upgrade failed", zap.String("call_sid", callSid), zap.Error(err))
		return
	}

	sess, err := h.service.AttachStream(callSid, conn)
	if err != nil {
		logger.Base().Warn("media stream rejected", zap.String("call_sid", callSid), zap.Error(err))
		// any other failure happened after registration and the manager already closed conn
		if errors.Is(err, mediastream.ErrStreamExists) || errors.Is(err, mediastream.ErrInvalidCallID) {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "stream rejected")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			conn.Close()
		}
		return
	}

	h.service.ServeStream(r.Context(), sess)
}
