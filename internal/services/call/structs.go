package call

import (
	"context"
	"errors"

	"github.com/ClareAI/astra-telephony-gateway/internal/config"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/callstore"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/dialog"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/event"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/mediastream"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/metrics"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/model/provider"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/session"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/task"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/voice"
	"github.com/ClareAI/astra-telephony-gateway/internal/domain"
	"github.com/ClareAI/astra-telephony-gateway/internal/storage"
	"github.com/ClareAI/astra-telephony-gateway/pkg/pubsub"
)

var (
	// ErrNoPublicURL is returned when a stream is requested but the gateway
	// has no public address the provider could connect back to.
	ErrNoPublicURL = errors.New("PUBLIC_BASE_URL is not configured")
	// ErrInvalidCallSid is returned for webhook payloads whose call
	// identifier cannot address a stream.
	ErrInvalidCallSid = errors.New("invalid call sid")
	// ErrHangupForwarded is returned when the call lives on another
	// instance and the hang-up was relayed to it.
	ErrHangupForwarded = errors.New("hang-up forwarded to the owning instance")
)

// SummaryPublisher receives one summary per finished call.
type SummaryPublisher interface {
	PublishCallSummary(ctx context.Context, summary pubsub.CallSummary) error
}

// CallController ends calls at the telephony provider.
type CallController interface {
	Hangup(ctx context.Context, callSid string) error
}

// Dependencies wires the collaborators of VoiceCallService. Store, Streams
// and Orchestrator are required; everything else is optional.
type Dependencies struct {
	Config       *config.GatewayConfig
	Store        callstore.Store
	Orchestrator *dialog.Orchestrator
	Streams      *mediastream.Manager
	Providers    *provider.Set
	Voice        *voice.Upgrader
	Recorder     *storage.Recorder
	Sessions     *session.Manager
	Publisher    SummaryPublisher
	CallControl  CallController
	EventBus     event.EventBus
	Tasks        task.Bus
	Metrics      *metrics.Metrics
}

// WebhookResult is the outcome of one webhook delivery
type WebhookResult struct {
	Document string
	Branch   dialog.Branch
	// Record is the call after the event; zero when the event named no call.
	Record domain.CallRecord
}
