package call

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/core/callstore"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/event"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/mediastream"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/session"
	"github.com/ClareAI/astra-telephony-gateway/internal/domain"
	"github.com/ClareAI/astra-telephony-gateway/internal/storage"
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/ClareAI/astra-telephony-gateway/pkg/pubsub"
	"go.uber.org/zap"
)

// subscribe hooks the per-call side effects onto the event bus.
func (s *VoiceCallService) subscribe() {
	handlers := map[event.EventType]event.EventHandler{
		event.CallStarted:     s.registerPresence,
		event.CallEnded:       s.releaseCall,
		event.TranscriptReady: s.storeTranscript,
	}
	for eventType, handler := range handlers {
		if err := s.eventBus.Subscribe(eventType, handler); err != nil {
			logger.Base().Warn("Failed to subscribe to call events", zap.String("type", string(eventType)), zap.Error(err))
		}
	}
}

func (s *VoiceCallService) onCallStarted(rec domain.CallRecord) {
	s.metrics.CallsStarted.Inc()
	s.metrics.CallsActive.Inc()
	logger.Base().Info("Call started",
		zap.String("call_sid", rec.CallSid),
		zap.String("from", rec.From),
		zap.String("to", rec.To))

	s.publish(event.NewCallEvent(event.CallStarted, rec.CallSid).WithData(&event.CallEventData{
		From:      rec.From,
		To:        rec.To,
		State:     rec.State.String(),
		StartedAt: rec.CreatedAt,
	}))
}

// endCall runs once per call, right after the transition into TERMINATED.
func (s *VoiceCallService) endCall(rec domain.CallRecord, reason string) {
	s.metrics.CallsEnded.Inc()
	s.metrics.CallsActive.Dec()
	logger.Base().Info("Call ended",
		zap.String("call_sid", rec.CallSid),
		zap.String("reason", reason),
		zap.Int("turns", rec.Turns),
		zap.Duration("duration", rec.Duration(s.now())))

	s.streams.Teardown(rec.CallSid, mediastream.ReasonCallEnded)

	s.publish(event.NewCallEvent(event.CallEnded, rec.CallSid).WithData(&event.CallEventData{
		From:           rec.From,
		To:             rec.To,
		State:          rec.State.String(),
		Turns:          rec.Turns,
		ProviderStatus: rec.ProviderStatus,
		Reason:         reason,
		StartedAt:      rec.CreatedAt,
		EndedAt:        rec.EndedAt,
		LastInput:      rec.LastInput,
		Transcript:     rec.Transcript,
	}))
}

// registerPresence announces this instance as the owner of a new call. The
// call may end while the write is in flight, and the end-of-call cleanup
// can then run before it, so the record is checked again afterwards.
func (s *VoiceCallService) registerPresence(e *event.CallEvent) {
	if s.sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	info := session.SessionInfo{CallSid: e.CallSid}
	if data, ok := e.GetCallData(); ok {
		info.From, info.To, info.StartTime = data.From, data.To, data.StartedAt
	}
	if err := s.sessions.Register(ctx, info); err != nil {
		logger.Base().Warn("Failed to register call presence", zap.String("call_sid", e.CallSid), zap.Error(err))
		return
	}

	rec, ok, err := s.store.Get(ctx, e.CallSid)
	if err != nil || (ok && !rec.State.IsTerminal()) {
		return
	}
	if err := s.sessions.Unregister(ctx, e.CallSid); err != nil {
		logger.Base().Warn("Failed to unregister call presence", zap.String("call_sid", e.CallSid), zap.Error(err))
		return
	}
	logger.Base().Debug("Presence of ended call removed", zap.String("call_sid", e.CallSid))
}

// releaseCall tells the other instances the call is over and publishes its summary.
func (s *VoiceCallService) releaseCall(e *event.CallEvent) {
	data, ok := e.GetCallData()
	if !ok {
		logger.Base().Warn("Call ended event without call data", zap.String("call_sid", e.CallSid))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	if s.sessions != nil {
		if err := s.sessions.NotifyCleanup(ctx, e.CallSid, data.Reason); err != nil {
			logger.Base().Warn("Failed to broadcast call cleanup", zap.String("call_sid", e.CallSid), zap.Error(err))
		}
		if err := s.sessions.Unregister(ctx, e.CallSid); err != nil {
			logger.Base().Warn("Failed to unregister call presence", zap.String("call_sid", e.CallSid), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishCallSummary(ctx, s.summaryOf(e.CallSid, data)); err != nil {
			logger.Base().Warn("Failed to publish call summary", zap.String("call_sid", e.CallSid), zap.Error(err))
		}
	}
}

func (s *VoiceCallService) summaryOf(callSid string, data *event.CallEventData) pubsub.CallSummary {
	summary := pubsub.CallSummary{
		CallSid:        callSid,
		InstanceID:     s.config.InstanceID,
		From:           data.From,
		To:             data.To,
		Status:         data.State,
		ProviderStatus: data.ProviderStatus,
		StartAt:        data.StartedAt,
		EndAt:          data.EndedAt,
		TurnCount:      data.Turns,
		LastInput:      data.LastInput,
		Transcript:     data.Transcript,
	}
	if data.EndedAt != nil {
		summary.Duration = int(data.EndedAt.Sub(data.StartedAt).Seconds())
	}
	return summary
}

// storeTranscript appends a finished stream's transcript to its call record.
func (s *VoiceCallService) storeTranscript(e *event.CallEvent) {
	data, ok := e.GetTranscriptData()
	if !ok || data.Transcript == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	_, err := s.store.Update(ctx, e.CallSid, func(rec *domain.CallRecord) error {
		if rec.Transcript == "" {
			rec.Transcript = data.Transcript
		} else {
			rec.Transcript += " " + data.Transcript
		}
		return nil
	})
	if errors.Is(err, callstore.ErrCallNotFound) {
		logger.Base().Debug("Transcript for unknown call dropped", zap.String("call_sid", e.CallSid))
		return
	}
	if err != nil {
		logger.Base().Warn("Failed to store transcript", zap.String("call_sid", e.CallSid), zap.Error(err))
		return
	}
	logger.Base().Info("Transcript stored",
		zap.String("call_sid", e.CallSid),
		zap.String("recording_uri", data.RecordingURI),
		zap.Int("length", len(data.Transcript)))
}

// onStreamClosed is the media stream close hook. It runs on the tearing-down
// goroutine, so the slow work is handed off.
func (s *VoiceCallService) onStreamClosed(sess *mediastream.Session, reason string) {
	stats := sess.Stats()
	s.publish(event.NewCallEvent(event.StreamStopped, sess.CallSid).WithData(&event.StreamEventData{
		StreamID:       sess.StreamID,
		Reason:         reason,
		FramesReceived: stats.Received,
		FramesDropped:  stats.Dropped,
		Duration:       s.now().Sub(sess.CreatedAt),
	}))

	if stats.Buffered == 0 || (s.recorder == nil && s.providers.Transcriber == nil) {
		return
	}
	s.goBackground(streamFinishTimeout, func(ctx context.Context) {
		s.finishStream(ctx, sess)
	})
}

// finishStream saves and transcribes the audio of a closed stream.
func (s *VoiceCallService) finishStream(ctx context.Context, sess *mediastream.Session) {
	audio := sess.Audio()
	callSid := sess.CallSid

	var recordingURI string
	if s.recorder != nil {
		recording, err := s.recorder.Save(ctx, callSid, sess.StreamID, audio)
		if err != nil {
			logger.Base().Warn("Failed to save stream recording", zap.String("call_sid", callSid), zap.Error(err))
		} else if recording != nil {
			recordingURI = recording.URI
		}
	}

	if s.providers.Transcriber == nil {
		return
	}
	wav, err := storage.EncodeMuLawWAV(audio)
	if err != nil {
		logger.Base().Warn("Failed to encode stream audio", zap.String("call_sid", callSid), zap.Error(err))
		return
	}

	start := time.Now()
	text, err := s.providers.Transcriber.Transcribe(ctx, callSid, bytes.NewReader(wav))
	s.metrics.CollaboratorLatency.WithLabelValues("transcriber").Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.CollaboratorErrors.WithLabelValues("transcriber").Inc()
		logger.Base().Warn("Transcription failed", zap.String("call_sid", callSid), zap.Error(err))
		return
	}
	if text == "" {
		return
	}

	s.publish(event.NewCallEvent(event.TranscriptReady, callSid).WithData(&event.TranscriptEventData{
		Transcript:   text,
		RecordingURI: recordingURI,
	}))
}
