package resilience

import (
	"context"

	"github.com/MrWong99/parleur/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple speech-to-text engines. Each engine has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// engine.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, transcriber stt.Transcriber) {
	f.group.AddFallback(name, transcriber)
}

// Engines returns the registered engine names in try order.
func (f *STTFallback) Engines() []string {
	return f.group.Names()
}

// Transcribe converts one utterance using the first healthy engine. The same
// sample buffer is replayed against each fallback, so a transient failure
// partway down the chain loses no audio.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (stt.Result, error) {
		return t.Transcribe(ctx, samples, sampleRate, languageHint)
	})
}
