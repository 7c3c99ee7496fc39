package voice

import (
	"context"
	"strings"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/core/metrics"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/model/provider"
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"
)

// AudioPath is the route prefix clips are served under.
const AudioPath = "/audio/"

// Upgrader replaces <Say> verbs with <Play> of a synthesized clip.
type Upgrader struct {
	synth   provider.Synthesizer
	cache   *ClipCache
	baseURL string
	voice   string
	timeout time.Duration
	metrics *metrics.Metrics
}

type UpgraderOptions struct {
	Synthesizer   provider.Synthesizer
	Cache         *ClipCache
	PublicBaseURL string
	// Voice only namespaces clip ids.
	Voice   string
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// NewUpgrader returns nil when synthesis cannot be served: no synthesizer,
// no cache, or no public URL the provider could fetch clips from.
func NewUpgrader(opts UpgraderOptions) *Upgrader {
	if opts.Synthesizer == nil || opts.Cache == nil || opts.PublicBaseURL == "" {
		return nil
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	return &Upgrader{
		synth:   opts.Synthesizer,
		cache:   opts.Cache,
		baseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		voice:   opts.Voice,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
	}
}

// Upgrade returns verbs with every <Say> that could be synthesized replaced
// by a <Play>. Verbs that fail to synthesize are kept as they are. A nil
// Upgrader returns verbs unchanged.
func (u *Upgrader) Upgrade(ctx context.Context, verbs []twiml.Element) []twiml.Element {
	if u == nil || len(verbs) == 0 {
		return verbs
	}
	out := make([]twiml.Element, len(verbs))
	for i, verb := range verbs {
		say, ok := verb.(*twiml.VoiceSay)
		if !ok || strings.TrimSpace(say.Message) == "" {
			out[i] = verb
			continue
		}
		clip, err := u.clip(ctx, say.Message)
		if err != nil {
			u.metrics.CollaboratorErrors.WithLabelValues("synthesizer").Inc()
			logger.Base().Warn("speech synthesis failed, keeping <Say>", zap.Error(err))
			out[i] = verb
			continue
		}
		out[i] = &twiml.VoicePlay{Url: u.baseURL + AudioPath + clip.ID}
	}
	return out
}

func (u *Upgrader) clip(ctx context.Context, text string) (Clip, error) {
	id := ClipID(u.voice, text)
	if clip, ok := u.cache.Get(id); ok {
		return clip, nil
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	start := time.Now()
	audio, contentType, err := u.synth.Synthesize(ctx, text)
	u.metrics.CollaboratorLatency.WithLabelValues("synthesizer").Observe(time.Since(start).Seconds())
	if err != nil {
		return Clip{}, err
	}
	clip := Clip{ID: id, Audio: audio, ContentType: contentType}
	u.cache.Put(clip)
	return clip, nil
}
