// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A transcriber converts one bounded utterance of audio into text plus a
// detected language tag. Unlike a streaming recogniser it is invoked once per
// finalized utterance — the pipeline's speech gate decides the boundaries, so
// the transcriber only ever sees complete, speech-bearing buffers.
//
// Transcription is CPU/GPU-bound and potentially slow; callers must invoke it
// off the real-time audio path and pass a context carrying their timeout.
// Implementations must be safe for concurrent use; backends whose underlying
// engine is not reentrant must serialize the physical inference call
// internally.
package stt

import "context"

// Result is the outcome of transcribing one utterance.
type Result struct {
	// Text is the transcribed speech content. Empty when the utterance was
	// silent or unintelligible; an empty Text with a nil error is the normal
	// "nothing to transcribe" outcome, not a failure.
	Text string

	// Language is the BCP-47 tag of the detected (or hinted) language, e.g.
	// "en" or "fr". May be empty if the backend does not report one.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// backend does not report confidence.
	Confidence float64
}

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe converts a bounded utterance into text. samples must be mono
	// float samples normalised to [-1.0, 1.0] at sampleRate Hz; backends
	// resample internally when sampleRate differs from their model's expected
	// rate, preserving duration.
	//
	// languageHint is a BCP-47 tag constraining recognition, or "" / "auto"
	// for automatic detection. An unsupported hint falls back to detection and
	// is never an error. Empty or near-silent input returns an empty Result
	// and a nil error. Only unrecoverable decode/model failures return an
	// error, classified per the fault taxonomy.
	Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (Result, error)
}
