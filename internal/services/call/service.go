// Package call drives telephone calls: it applies webhook events to the call
// record store, renders the provider's responses and reacts to call and
// stream endings.
package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

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
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"
)

const (
	completionTimeout   = 8 * time.Second
	backgroundTimeout   = 30 * time.Second
	streamFinishTimeout = 2 * time.Minute
)

// VoiceCallService owns the per-call flow across webhooks and media streams.
type VoiceCallService struct {
	config       *config.GatewayConfig
	store        callstore.Store
	orchestrator *dialog.Orchestrator
	streams      *mediastream.Manager
	providers    *provider.Set
	voice        *voice.Upgrader
	recorder     *storage.Recorder
	sessions     *session.Manager
	publisher    SummaryPublisher
	callControl  CallController
	eventBus     event.EventBus
	ownsBus      bool
	tasks        task.Bus
	metrics      *metrics.Metrics
	now          func() time.Time

	bgMu       sync.Mutex
	bgClosed   bool
	background sync.WaitGroup
}

// NewVoiceCallService creates the service and hooks it into stream teardown
// and the call events. Without an EventBus the service runs its own.
func NewVoiceCallService(deps Dependencies) *VoiceCallService {
	if deps.Config == nil {
		deps.Config = &config.GatewayConfig{}
	}
	if deps.Providers == nil {
		deps.Providers = &provider.Set{Type: provider.ProviderTypeNone}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Discard()
	}
	ownsBus := deps.EventBus == nil
	if ownsBus {
		bus := event.NewEventBus()
		for _, mw := range event.CreateDefaultMiddlewareChain() {
			bus.Use(mw)
		}
		deps.EventBus = bus
	}

	s := &VoiceCallService{
		config:       deps.Config,
		store:        deps.Store,
		orchestrator: deps.Orchestrator,
		streams:      deps.Streams,
		providers:    deps.Providers,
		voice:        deps.Voice,
		recorder:     deps.Recorder,
		sessions:     deps.Sessions,
		publisher:    deps.Publisher,
		callControl:  deps.CallControl,
		eventBus:     deps.EventBus,
		ownsBus:      ownsBus,
		tasks:        deps.Tasks,
		metrics:      deps.Metrics,
		now:          time.Now,
	}
	s.streams.OnClose(s.onStreamClosed)
	s.subscribe()
	return s
}

// Start subscribes to stream cleanup requests and call tasks from other
// gateway instances.
func (s *VoiceCallService) Start(ctx context.Context) error {
	if s.sessions != nil {
		logger.Base().Info("Subscribing to call cleanup broadcasts")
		err := s.sessions.SubscribeToCleanup(ctx, func(callSid, reason string) {
			if s.streams.Teardown(callSid, mediastream.ReasonCallEnded) {
				logger.Base().Info("Stream torn down on cleanup broadcast", zap.String("call_sid", callSid), zap.String("reason", reason))
			}
		})
		if err != nil {
			return err
		}
	}
	if s.tasks != nil {
		return s.tasks.Subscribe(ctx, s.onTask)
	}
	return nil
}

// HandleWebhook applies one dialog event and renders the provider response.
func (s *VoiceCallService) HandleWebhook(ctx context.Context, ev dialog.Event) (WebhookResult, error) {
	if ev.Type == dialog.EventInputReceived {
		ev.Reply = s.complete(ctx, ev)
	}

	if ev.CallSid == "" {
		logger.Base().Warn("Webhook without call sid", zap.String("event", string(ev.Type)))
		out := s.orchestrator.Next(domain.NewCallRecord("", ev.From, ev.To, s.now()), ev)
		s.observe(out)
		return s.render(ctx, ev, out, domain.CallRecord{})
	}

	rec, out, err := s.transition(ctx, ev)
	if err != nil {
		return WebhookResult{}, err
	}
	return s.render(ctx, ev, out, rec)
}

// StreamSetup answers a call with a document connecting it to this gateway's media stream endpoint.
func (s *VoiceCallService) StreamSetup(ctx context.Context, ev dialog.Event) (WebhookResult, error) {
	if !mediastream.ValidCallSid(ev.CallSid) {
		return WebhookResult{}, fmt.Errorf("stream setup %q: %w", ev.CallSid, ErrInvalidCallSid)
	}
	if s.config.PublicBaseURL == "" {
		return WebhookResult{}, ErrNoPublicURL
	}

	rec, created, err := s.store.GetOrCreate(ctx, ev.CallSid, ev.From, ev.To)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("stream setup %s: %w", ev.CallSid, err)
	}
	if created {
		s.onCallStarted(rec)
	}

	verbs := dialog.StreamSetup(s.config.StreamURL(ev.CallSid), ev.CallSid)
	branch := dialog.BranchStream
	if rec.State.IsTerminal() {
		verbs = []twiml.Element{&twiml.VoiceHangup{}}
		branch = dialog.BranchHangup
	}
	doc, err := dialog.Render(verbs)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("render stream setup for %s: %w", ev.CallSid, err)
	}
	return WebhookResult{Document: doc, Branch: branch, Record: rec}, nil
}

// AttachStream registers conn as the media stream of callSid.
func (s *VoiceCallService) AttachStream(callSid string, conn mediastream.Conn) (*mediastream.Session, error) {
	sess, err := s.streams.Register(callSid, conn)
	if err != nil {
		return nil, err
	}
	s.publish(event.NewCallEvent(event.StreamStarted, callSid).WithData(&event.StreamEventData{StreamID: sess.StreamID}))
	return sess, nil
}

// ServeStream pumps the stream until it ends. The session is torn down on return.
func (s *VoiceCallService) ServeStream(ctx context.Context, sess *mediastream.Session) {
	s.streams.Serve(ctx, sess)
}

// Hangup ends a call on operator request: at the provider when call control
// is configured, and locally in any case. A call held by another instance is
// forwarded to it and ErrHangupForwarded is returned.
func (s *VoiceCallService) Hangup(ctx context.Context, callSid string) (domain.CallRecord, error) {
	rec, ok, err := s.store.Get(ctx, callSid)
	if err != nil {
		return domain.CallRecord{}, err
	}
	if !ok {
		if s.forwardHangup(ctx, callSid) {
			return domain.CallRecord{}, ErrHangupForwarded
		}
		return domain.CallRecord{}, fmt.Errorf("hang up %s: %w", callSid, callstore.ErrCallNotFound)
	}

	if s.callControl != nil && rec.Active {
		if err := s.callControl.Hangup(ctx, callSid); err != nil {
			return rec, err
		}
	}

	rec, _, err = s.transition(ctx, dialog.Event{Type: dialog.EventEndCall, CallSid: callSid})
	return rec, err
}

// forwardHangup hands the hang-up to the instance registered as the call's owner.
func (s *VoiceCallService) forwardHangup(ctx context.Context, callSid string) bool {
	if s.sessions == nil || s.tasks == nil {
		return false
	}
	info, ok, err := s.sessions.Lookup(ctx, callSid)
	if err != nil {
		logger.Base().Warn("Failed to look up call owner", zap.String("call_sid", callSid), zap.Error(err))
		return false
	}
	if !ok || info.PodID == "" || info.PodID == s.config.InstanceID {
		return false
	}
	err = s.tasks.Publish(ctx, task.CallTask{Type: task.TaskTypeHangup, CallSid: callSid, TargetPod: info.PodID})
	if err != nil {
		logger.Base().Warn("Failed to forward hang-up", zap.String("call_sid", callSid), zap.Error(err))
		return false
	}
	logger.Base().Info("Hang-up forwarded to owning instance", zap.String("call_sid", callSid), zap.String("pod_id", info.PodID))
	return true
}

func (s *VoiceCallService) onTask(t task.CallTask) {
	switch t.Type {
	case task.TaskTypeHangup:
		s.goBackground(backgroundTimeout, func(ctx context.Context) {
			if _, err := s.Hangup(ctx, t.CallSid); err != nil {
				logger.Base().Warn("Forwarded hang-up failed",
					zap.String("call_sid", t.CallSid),
					zap.String("source_pod", t.SourcePod),
					zap.Error(err))
			}
		})
	default:
		logger.Base().Warn("Unknown call task", zap.String("type", string(t.Type)), zap.String("call_sid", t.CallSid))
	}
}

func (s *VoiceCallService) ListActive(ctx context.Context) ([]domain.CallRecord, error) {
	return s.store.ListActive(ctx)
}

func (s *VoiceCallService) GetCall(ctx context.Context, callSid string) (domain.CallRecord, bool, error) {
	return s.store.Get(ctx, callSid)
}

// ActiveStreams returns the number of live media streams on this instance
func (s *VoiceCallService) ActiveStreams() int {
	return s.streams.ActiveCount()
}

// Shutdown tears down every stream and waits for background work and event
// handlers to finish.
func (s *VoiceCallService) Shutdown(ctx context.Context) error {
	s.streams.Shutdown()

	s.bgMu.Lock()
	s.bgClosed = true
	s.bgMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// background work publishes events whose handlers may still be running
	if err := s.eventBus.Flush(ctx); err != nil {
		return err
	}
	if s.ownsBus {
		return s.eventBus.Close()
	}
	return nil
}

// transition runs the orchestrator inside the store's per-call update.
func (s *VoiceCallService) transition(ctx context.Context, ev dialog.Event) (domain.CallRecord, dialog.Outcome, error) {
	if ev.Type != dialog.EventStatus {
		rec, created, err := s.store.GetOrCreate(ctx, ev.CallSid, ev.From, ev.To)
		if err != nil {
			return domain.CallRecord{}, dialog.Outcome{}, fmt.Errorf("%s for %s: %w", ev.Type, ev.CallSid, err)
		}
		if created {
			s.onCallStarted(rec)
		}
	}

	var out dialog.Outcome
	rec, err := s.store.Update(ctx, ev.CallSid, func(r *domain.CallRecord) error {
		out = s.orchestrator.Apply(r, ev, s.now())
		return nil
	})
	if errors.Is(err, callstore.ErrCallNotFound) {
		// a status for a call this instance never saw, or a record reaped in between
		gone := domain.NewCallRecord(ev.CallSid, ev.From, ev.To, s.now())
		gone.State = domain.DialogStateTerminated
		gone.Active = false
		out = s.orchestrator.Next(gone, ev)
		s.observe(out)
		return domain.CallRecord{}, out, nil
	}
	if err != nil {
		return domain.CallRecord{}, dialog.Outcome{}, fmt.Errorf("%s for %s: %w", ev.Type, ev.CallSid, err)
	}

	s.observe(out)
	logger.Base().Info("Dialog transition",
		zap.String("call_sid", ev.CallSid),
		zap.String("event", string(ev.Type)),
		zap.String("branch", string(out.Branch)),
		zap.String("from", out.From.String()),
		zap.String("to", out.State().String()))

	if !out.From.IsTerminal() && out.State().IsTerminal() {
		s.endCall(rec, string(ev.Type))
	}
	return rec, out, nil
}

func (s *VoiceCallService) render(ctx context.Context, ev dialog.Event, out dialog.Outcome, rec domain.CallRecord) (WebhookResult, error) {
	verbs := s.voice.Upgrade(ctx, out.Verbs)
	doc, err := dialog.Render(verbs)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("render %s response for %s: %w", ev.Type, ev.CallSid, err)
	}
	return WebhookResult{Document: doc, Branch: out.Branch, Record: rec}, nil
}

// complete asks the completion collaborator for a reply to the caller's
// speech. Any failure yields "" so the dialog falls back to an echo.
func (s *VoiceCallService) complete(ctx context.Context, ev dialog.Event) string {
	speech := strings.TrimSpace(ev.SpeechResult)
	if speech == "" || s.providers.Completer == nil {
		return ""
	}
	rec, ok, err := s.store.Get(ctx, ev.CallSid)
	if err == nil && ok && rec.State.IsTerminal() {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.providers.Completer.Complete(ctx, ev.CallSid, rec.History, speech)
	s.metrics.CollaboratorLatency.WithLabelValues("completer").Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.CollaboratorErrors.WithLabelValues("completer").Inc()
		logger.Base().Warn("Completion failed, echoing input", zap.String("call_sid", ev.CallSid), zap.Error(err))
		return ""
	}
	return reply
}

func (s *VoiceCallService) observe(out dialog.Outcome) {
	s.metrics.DialogBranches.WithLabelValues(string(out.Branch)).Inc()
	prev := out.From
	for _, next := range out.Path {
		s.metrics.DialogTransitions.WithLabelValues(prev.String(), next.String()).Inc()
		prev = next
	}
}

func (s *VoiceCallService) publish(ev *event.CallEvent) {
	ev.InstanceID = s.config.InstanceID
	if err := s.eventBus.Publish(ev); err != nil {
		logger.Base().Debug("Event not published", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// goBackground runs fn detached from the request that triggered it. After
// Shutdown fn runs inline.
func (s *VoiceCallService) goBackground(timeout time.Duration, fn func(ctx context.Context)) {
	s.bgMu.Lock()
	if s.bgClosed {
		s.bgMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fn(ctx)
		return
	}
	s.background.Add(1)
	s.bgMu.Unlock()

	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fn(ctx)
	}()
}
