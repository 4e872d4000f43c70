// Package piper provides a TTS provider backed by a local Piper HTTP server.
//
// Piper (https://github.com/rhasspy/piper) is a fast local neural TTS engine.
// Its HTTP server takes raw UTF-8 text in the request body and responds with a
// WAV file; this package strips the container and hands back raw PCM. One
// server process serves one voice, so the voice is fixed at construction time.
package piper

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parleur/pkg/fault"
	"github.com/MrWong99/parleur/pkg/provider/tts"
)

const defaultTimeout = 30 * time.Second

// Option is a functional option for configuring the Piper Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithVoice overrides the voice profile reported by ListVoices. Use it to
// carry the language and gender of the model the server was started with.
func WithVoice(v tts.VoiceProfile) Option {
	return func(p *Provider) {
		v.Provider = "piper"
		p.voice = v
	}
}

// Provider implements tts.Provider against a Piper HTTP server.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	voice      tts.VoiceProfile

	sampleRate int
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// New creates a Provider talking to a Piper server at baseURL (e.g.
// "http://localhost:5000"). sampleRate must match the voice model the server
// was started with (22050 for most medium-quality Piper voices).
func New(baseURL string, sampleRate int, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fault.Configuration("piper.New", fmt.Errorf("baseURL must not be empty"))
	}
	if sampleRate <= 0 {
		return nil, fault.Configuration("piper.New", fmt.Errorf("sampleRate must be positive, got %d", sampleRate))
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		voice: tts.VoiceProfile{
			ID:       "piper",
			Name:     "Piper",
			Provider: "piper",
		},
		sampleRate: sampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	return p.sampleRate
}

// Synthesize sends the text to the Piper server and returns the decoded PCM.
func (p *Provider) Synthesize(ctx context.Context, text string, _ tts.VoiceProfile) ([]byte, error) {
	if text == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, strings.NewReader(text))
	if err != nil {
		return nil, fault.InvalidInput("piper.Synthesize", err.Error())
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if fault.IsCancelled(err) {
			return nil, err
		}
		return nil, fault.Transient("piper.Synthesize", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.Transient("piper.Synthesize", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Transient("piper.Synthesize", fmt.Errorf("read body: %w", err))
	}

	pcm, err := extractPCM(wav)
	if err != nil {
		return nil, fault.Transient("piper.Synthesize", fmt.Errorf("decode wav: %w", err))
	}
	return pcm, nil
}

// SynthesizeStream synthesises each text fragment as its own request and
// emits the resulting PCM chunks in order. Piper has no streaming input API,
// so per-fragment requests are how incremental output is achieved; callers
// feeding sentence-sized fragments get audio with per-sentence latency.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	audioCh := make(chan []byte, 16)

	go func() {
		defer close(audioCh)
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					return
				}
				if strings.TrimSpace(fragment) == "" {
					continue
				}
				pcm, err := p.Synthesize(ctx, fragment, voice)
				if err != nil {
					return
				}
				select {
				case audioCh <- pcm:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// ListVoices returns the single voice the server was started with.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	return []tts.VoiceProfile{p.voice}, nil
}

// extractPCM locates the data chunk in a RIFF/WAVE byte stream and returns
// its payload. Only the canonical little-endian layout produced by Piper is
// supported.
func extractPCM(wav []byte) ([]byte, error) {
	if len(wav) < 44 || !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		return nil, fmt.Errorf("not a RIFF/WAVE stream")
	}

	// Walk the chunk list starting after the 12-byte RIFF header.
	off := 12
	for off+8 <= len(wav) {
		id := wav[off : off+4]
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if bytes.Equal(id, []byte("data")) {
			if body+size > len(wav) {
				size = len(wav) - body
			}
			return wav[body : body+size], nil
		}
		// Chunks are word-aligned.
		off = body + size + size%2
	}
	return nil, fmt.Errorf("no data chunk found")
}
