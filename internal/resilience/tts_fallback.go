package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/parleur/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple synthesis engines. Each engine has its own circuit breaker.
//
// All engines in a chain must share one output sample rate: the transport
// layer configures its resampler once from [TTSFallback.SampleRate], so a
// fallback producing a different rate would play back pitch-shifted.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
	rate  int
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred engine.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		rate:  primary.SampleRate(),
	}
}

// AddFallback registers an additional synthesis engine as a fallback. It
// returns an error if the engine's output sample rate differs from the
// primary's.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) error {
	if got := provider.SampleRate(); got != f.rate {
		return fmt.Errorf("tts fallback %q: sample rate %d does not match chain rate %d", name, got, f.rate)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Engines returns the registered engine names in try order.
func (f *TTSFallback) Engines() []string {
	return f.group.Names()
}

// SynthesizeStream consumes text fragments and returns a channel of audio
// bytes, trying the first healthy engine. Only the initial stream setup is
// covered by failover; once an engine has started draining the text channel
// the fragments cannot be replayed, so mid-stream errors end the reply.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// Synthesize renders a complete phrase using the first healthy engine. Unlike
// streams the input is replayable, so every fallback gets the full text.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns available voices from the first healthy engine.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// SampleRate returns the chain-wide output sample rate.
func (f *TTSFallback) SampleRate() int {
	return f.rate
}
