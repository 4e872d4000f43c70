// Package transport abstracts the audio link between the assistant and its
// clients.
//
// A Transport delivers microphone audio from connected participants as
// decoded PCM frames and carries synthesized reply audio and caption text
// back. The conversation pipeline only sees this interface; whether the far
// end is the bundled WebSocket/Opus bridge or another realtime media stack is
// a wiring decision.
//
// Implementations must be safe for concurrent use.
package transport

import (
	"context"

	"github.com/MrWong99/parleur/pkg/audio"
)

// EventKind enumerates participant lifecycle events.
type EventKind int

const (
	// ParticipantJoined signals a new participant whose frames will follow.
	ParticipantJoined EventKind = iota

	// ParticipantLeft signals that a participant disconnected. No further
	// frames for that participant will be delivered.
	ParticipantLeft
)

// Event is a participant lifecycle notification.
type Event struct {
	// Kind is the event type.
	Kind EventKind

	// Participant is the stable identifier of the participant concerned.
	Participant string
}

// InboundFrame is a decoded microphone frame tagged with its producer.
type InboundFrame struct {
	// Participant identifies who spoke.
	Participant string

	// Frame is the decoded PCM audio.
	Frame audio.AudioFrame
}

// Transport is the bidirectional audio/text link to connected clients.
//
// The Frames and Events channels are closed when the transport shuts down.
// Consumers must drain both.
type Transport interface {
	// Frames returns the stream of decoded microphone frames from all
	// participants, in arrival order.
	Frames() <-chan InboundFrame

	// Events returns the stream of participant lifecycle events.
	Events() <-chan Event

	// SendAudio delivers raw little-endian 16-bit mono PCM at the given
	// sample rate to a participant. Implementations re-encode as needed.
	// Sending to an unknown participant returns an error.
	SendAudio(ctx context.Context, participant string, pcm []byte, sampleRate int) error

	// SendText delivers a caption or status line to a participant. role is
	// "user" (their own transcription echoed back), "assistant" (reply text),
	// or "status".
	SendText(ctx context.Context, participant string, role, text string) error

	// Close shuts the transport down, disconnecting all participants and
	// closing the Frames and Events channels. Safe to call more than once.
	Close() error
}
