package handler

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/ClareAI/astra-telephony-gateway/internal/core/dialog"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/metrics"
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// webhookPayload is the subset of the provider's webhook parameters the gateway reads
type webhookPayload struct {
	CallSid      string `json:"CallSid"`
	From         string `json:"From"`
	To           string `json:"To"`
	SpeechResult string `json:"SpeechResult"`
	Digits       string `json:"Digits"`
	CallStatus   string `json:"CallStatus"`
}

// TwilioWebhookHandler answers the provider's call webhooks with TwiML
type TwilioWebhookHandler struct {
	service CallService
	metrics *metrics.Metrics
}

func NewTwilioWebhookHandler(service CallService, m *metrics.Metrics) *TwilioWebhookHandler {
	return &TwilioWebhookHandler{service: service, metrics: m}
}

// SetupTwilioWebhookRoutes registers the webhooks on a router mounted at /twilio
func (h *TwilioWebhookHandler) SetupTwilioWebhookRoutes(router *mux.Router) {
	router.HandleFunc("/voice", h.webhook(dialog.EventIncomingCall)).Methods(http.MethodPost)
	router.HandleFunc("/gather", h.webhook(dialog.EventInputReceived)).Methods(http.MethodPost)
	router.HandleFunc("/end-call", h.webhook(dialog.EventEndCall)).Methods(http.MethodPost)
	router.HandleFunc("/status", h.webhook(dialog.EventStatus)).Methods(http.MethodPost)
	router.HandleFunc("/stream", h.HandleStreamSetup).Methods(http.MethodPost)
}

func (h *TwilioWebhookHandler) webhook(eventType dialog.EventType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev := parseWebhookEvent(r)
		ev.Type = eventType

		res, err := h.service.HandleWebhook(r.Context(), ev)
		if err != nil {
			logger.Base().Error("webhook handling failed",
				zap.String("event", string(eventType)),
				zap.String("call_sid", ev.CallSid),
				zap.Error(err))
			h.writeFallback(w, string(eventType))
			return
		}
		writeTwiML(w, res.Document)
	}
}

// HandleStreamSetup answers a call with a <Connect><Stream> to this gateway
func (h *TwilioWebhookHandler) HandleStreamSetup(w http.ResponseWriter, r *http.Request) {
	ev := parseWebhookEvent(r)

	res, err := h.service.StreamSetup(r.Context(), ev)
	if err != nil {
		logger.Base().Error("stream setup failed", zap.String("call_sid", ev.CallSid), zap.Error(err))
		h.writeFallback(w, "stream_setup")
		return
	}
	writeTwiML(w, res.Document)
}

func (h *TwilioWebhookHandler) writeFallback(w http.ResponseWriter, event string) {
	h.metrics.WebhookFallbacks.WithLabelValues(event).Inc()
	writeTwiML(w, dialog.FallbackTwiML)
}

// parseWebhookEvent reads the webhook parameters from a form or JSON body.
// An unreadable body yields an event with empty fields.
func parseWebhookEvent(r *http.Request) dialog.Event {
	var p webhookPayload

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			logger.Base().Warn("unreadable json webhook body", zap.String("path", r.URL.Path), zap.Error(err))
		}
	} else {
		if err := r.ParseForm(); err != nil {
			logger.Base().Warn("unreadable webhook form", zap.String("path", r.URL.Path), zap.Error(err))
		}
		p = webhookPayload{
			CallSid:      r.FormValue("CallSid"),
			From:         r.FormValue("From"),
			To:           r.FormValue("To"),
			SpeechResult: r.FormValue("SpeechResult"),
			Digits:       r.FormValue("Digits"),
			CallStatus:   r.FormValue("CallStatus"),
		}
	}

	return dialog.Event{
		CallSid:      p.CallSid,
		From:         p.From,
		To:           p.To,
		SpeechResult: p.SpeechResult,
		Digits:       p.Digits,
		CallStatus:   p.CallStatus,
	}
}

func writeTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", dialog.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}
