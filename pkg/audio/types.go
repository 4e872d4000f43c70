// Package audio provides the frame type and PCM conversion helpers shared by
// every stage of the Parleur pipeline: transport ingress, the speech gate,
// transcription, and synthesis playback.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from an
// input stream, classified by the speech gate, accumulated into utterances,
// and played back through output streams.
type AudioFrame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for the speech pipeline, 48000 for Opus
	// transport audio).
	SampleRate int

	// Channels: 1 for mono (pipeline-internal), 2 for stereo transport audio.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of per-channel samples in the frame.
func (f AudioFrame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / (2 * ch)
}

// Duration returns the playback duration of the frame, derived from its byte
// length, sample rate, and channel count. Returns zero for malformed frames.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}
