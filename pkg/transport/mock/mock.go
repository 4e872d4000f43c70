// Package mock provides a test double for the transport.Transport interface.
//
// Tests push frames and events through the exposed channels and inspect what
// the pipeline sent back.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parleur/pkg/transport"
)

// Compile-time interface assertion.
var _ transport.Transport = (*Transport)(nil)

// SentAudio records a single SendAudio invocation.
type SentAudio struct {
	// Participant is the destination participant.
	Participant string
	// PCM is the audio payload.
	PCM []byte
	// SampleRate is the payload's sample rate.
	SampleRate int
}

// SentText records a single SendText invocation.
type SentText struct {
	// Participant is the destination participant.
	Participant string
	// Role is "user", "assistant", or "status".
	Role string
	// Text is the message body.
	Text string
}

// Transport is a mock implementation of transport.Transport.
type Transport struct {
	mu sync.Mutex

	// FrameCh is the channel returned by Frames. Tests write to it and close
	// it to simulate client audio.
	FrameCh chan transport.InboundFrame

	// EventCh is the channel returned by Events.
	EventCh chan transport.Event

	// SendErr, if non-nil, is returned by SendAudio and SendText.
	SendErr error

	// AudioSent records every SendAudio call in order.
	AudioSent []SentAudio

	// TextSent records every SendText call in order.
	TextSent []SentText

	closeOnce sync.Once
}

// New creates a mock Transport with buffered channels.
func New() *Transport {
	return &Transport{
		FrameCh: make(chan transport.InboundFrame, 256),
		EventCh: make(chan transport.Event, 16),
	}
}

// Frames implements transport.Transport.
func (t *Transport) Frames() <-chan transport.InboundFrame {
	return t.FrameCh
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event {
	return t.EventCh
}

// SendAudio records the call.
func (t *Transport) SendAudio(_ context.Context, participant string, pcm []byte, sampleRate int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	t.AudioSent = append(t.AudioSent, SentAudio{Participant: participant, PCM: buf, SampleRate: sampleRate})
	return nil
}

// SendText records the call.
func (t *Transport) SendText(_ context.Context, participant string, role, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.TextSent = append(t.TextSent, SentText{Participant: participant, Role: role, Text: text})
	return nil
}

// Close closes the frame and event channels. Safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.FrameCh)
		close(t.EventCh)
	})
	return nil
}

// Texts returns a copy of the recorded SendText calls. Thread-safe.
func (t *Transport) Texts() []SentText {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SentText, len(t.TextSent))
	copy(out, t.TextSent)
	return out
}

// AudioBytes returns the total PCM bytes sent to a participant. Thread-safe.
func (t *Transport) AudioBytes(participant string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, a := range t.AudioSent {
		if a.Participant == participant {
			n += len(a.PCM)
		}
	}
	return n
}
