// Package noop provides a silent TTS provider.
//
// It is wired as the last entry of the synthesis fallback chain so that a
// session degrades to text-only replies instead of failing when every real
// TTS backend is down: text fragments are consumed and acknowledged, no audio
// is produced.
package noop

import (
	"context"

	"github.com/MrWong99/parleur/pkg/provider/tts"
)

const sampleRate = 16000

// Provider implements tts.Provider by producing no audio.
type Provider struct{}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// New creates a silent Provider.
func New() *Provider {
	return &Provider{}
}

// SampleRate implements tts.Provider.
func (*Provider) SampleRate() int {
	return sampleRate
}

// SynthesizeStream drains the text channel and closes the audio channel
// without emitting anything.
func (*Provider) SynthesizeStream(ctx context.Context, text <-chan string, _ tts.VoiceProfile) (<-chan []byte, error) {
	audioCh := make(chan []byte)
	go func() {
		defer close(audioCh)
		for {
			select {
			case _, ok := <-text:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, nil
}

// Synthesize returns no audio.
func (*Provider) Synthesize(_ context.Context, _ string, _ tts.VoiceProfile) ([]byte, error) {
	return nil, nil
}

// ListVoices returns a single placeholder voice so voice resolution always
// succeeds against this provider.
func (*Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	return []tts.VoiceProfile{{ID: "silence", Name: "Silence", Provider: "noop"}}, nil
}
